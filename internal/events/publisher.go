// Package events implements models.EventPublisher: fan-out notification of
// download lifecycle transitions (queued, started, progress, completed,
// failed, paused, cancelled) to whatever is subscribed, primarily the
// server-sent-events stream the HTTP layer exposes per download.
package events

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/corvidae/fetchmux/internal/models"
)

// InMemoryPublisher fans events out to buffered per-subscriber channels. A
// subscriber that isn't draining its channel fast enough loses events
// rather than blocking the publishing goroutine, since the publisher is
// typically called from inside a LoadRequest's hot path.
type InMemoryPublisher struct {
	mu      sync.RWMutex
	subs    map[models.DownloadEventType][]chan models.DownloadEvent
	dropped atomic.Int64
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{subs: make(map[models.DownloadEventType][]chan models.DownloadEvent)}
}

// Publish delivers event to every channel subscribed to event.Type. It
// never blocks: a full subscriber channel is skipped and counted rather
// than backing up the caller.
func (p *InMemoryPublisher) Publish(ctx context.Context, event models.DownloadEvent) error {
	p.mu.RLock()
	chans := p.subs[event.Type]
	p.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			n := p.dropped.Add(1)
			if n%100 == 1 {
				log.Printf("events: dropped %s event for download %s, subscriber channel full (%d dropped total)", event.Type, event.Download.ID, n)
			}
		}
	}
	return nil
}

// Dropped reports how many events have been discarded so far because a
// subscriber's channel was full, for the /metrics or /health surface to
// report as a backpressure signal.
func (p *InMemoryPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *InMemoryPublisher) Subscribe(ctx context.Context, types ...models.DownloadEventType) (<-chan models.DownloadEvent, func(), error) {
	ch := make(chan models.DownloadEvent, 64)
	p.mu.Lock()
	for _, t := range types {
		p.subs[t] = append(p.subs[t], ch)
	}
	p.mu.Unlock()
	unsubscribe := func() {
		p.mu.Lock()
		for _, t := range types {
			subs := p.subs[t]
			for i := range subs {
				if subs[i] == ch {
					p.subs[t] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		p.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe, nil
}
