// Package pchan implements a priority-ordered, multi-producer/multi-consumer
// queue of scheduling items. It backs internal/core/scheduler: producers push
// requests as they become Available, workers pop the highest-priority one
// that is currently queued.
package pchan

import (
	"container/heap"
	"context"
	"sync"

	"github.com/corvidae/fetchmux/internal/errs"
)

// Item is anything a PriorityChannel can carry. Requests satisfy this
// directly; ID is only used to break ties deterministically (FIFO within a
// priority band).
type Item interface {
	ID() string
	Priority() int
}

type entry struct {
	item Item
	seq  uint64
}

// heapSlice orders by descending priority, then ascending sequence number
// (first in, first out within a band).
type heapSlice []entry

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].item.Priority() != h[j].item.Priority() {
		return h[i].item.Priority() > h[j].item.Priority()
	}
	return h[i].seq < h[j].seq
}
func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Channel is a closable priority queue. The zero value is not usable; call
// New. Safe for concurrent use by any number of producers and consumers.
type Channel struct {
	mu       sync.Mutex
	heap     heapSlice
	waiters  []chan struct{} // parked consumers, woken one at a time on Push
	closed   bool
	nextSeq  uint64
	pushSubs []chan struct{} // watchers of "queue became non-empty or closed"
}

// New returns an empty, open Channel.
func New() *Channel {
	c := &Channel{}
	heap.Init(&c.heap)
	return c
}

// Push enqueues item on the heap and wakes one parked consumer, if any; the
// woken consumer then pops the highest-priority item from the heap itself.
func (c *Channel) Push(item Item) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrChannelClosed
	}
	heap.Push(&c.heap, entry{item: item, seq: c.nextSeq})
	c.nextSeq++
	var wake chan struct{}
	if len(c.waiters) > 0 {
		wake = c.waiters[0]
		c.waiters = c.waiters[1:]
	}
	subs := c.pushSubs
	c.pushSubs = nil
	c.mu.Unlock()
	if wake != nil {
		close(wake)
	}
	for _, s := range subs {
		close(s)
	}
	return nil
}

// Pop blocks until the highest-priority item is available, the channel is
// closed (returns ErrChannelClosed), or ctx is done.
func (c *Channel) Pop(ctx context.Context) (Item, error) {
	for {
		c.mu.Lock()
		if len(c.heap) > 0 {
			e := heap.Pop(&c.heap).(entry)
			c.mu.Unlock()
			return e.item, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, errs.ErrChannelClosed
		}
		// Slow path: park until Push or Complete wakes us.
		wait := make(chan struct{})
		c.waiters = append(c.waiters, wait)
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			c.removeWaiter(wait)
			return nil, ctx.Err()
		}
	}
}

func (c *Channel) removeWaiter(w chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ww := range c.waiters {
		if ww == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Complete idempotently closes the channel and wakes every parked consumer.
// Items already queued remain poppable; once drained, Pop returns
// ErrChannelClosed forever after.
func (c *Channel) Complete() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.waiters
	c.waiters = nil
	subs := c.pushSubs
	c.pushSubs = nil
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	for _, s := range subs {
		close(s)
	}
}

// Len reports the number of queued, not-yet-popped items.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.heap)
}

// WaitForData returns a channel that closes the next time Push or Complete
// makes new data available (or the channel closes with nothing queued).
// Used by observers that want to react to queue activity without polling.
func (c *Channel) WaitForData() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	if len(c.heap) > 0 || c.closed {
		close(ch)
		return ch
	}
	c.pushSubs = append(c.pushSubs, ch)
	return ch
}
