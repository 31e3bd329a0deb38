package pchan

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testItem struct {
	id       string
	priority int
}

func (t testItem) ID() string    { return t.id }
func (t testItem) Priority() int { return t.priority }

func TestChannel_PriorityOrdering(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		push  []testItem
		order []string
	}{
		{
			name: "higher priority first",
			push: []testItem{
				{id: "low", priority: 1},
				{id: "high", priority: 10},
				{id: "mid", priority: 5},
			},
			order: []string{"high", "mid", "low"},
		},
		{
			name: "fifo within same priority band",
			push: []testItem{
				{id: "a", priority: 5},
				{id: "b", priority: 5},
				{id: "c", priority: 5},
			},
			order: []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for _, item := range tt.push {
				if err := c.Push(item); err != nil {
					t.Fatalf("Push() error = %v", err)
				}
			}
			for i, want := range tt.order {
				got, err := c.Pop(ctx)
				if err != nil {
					t.Fatalf("Pop() error = %v", err)
				}
				if got.ID() != want {
					t.Errorf("Pop()[%d] = %v, want %v", i, got.ID(), want)
				}
			}
		})
	}
}

func TestChannel_BlockedReaderHandoff(t *testing.T) {
	c := New()
	ctx := context.Background()
	done := make(chan Item, 1)

	go func() {
		item, err := c.Pop(ctx)
		if err != nil {
			t.Errorf("Pop() error = %v", err)
			return
		}
		done <- item
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine park
	if err := c.Push(testItem{id: "x", priority: 1}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	select {
	case item := <-done:
		if item.ID() != "x" {
			t.Errorf("handed off item = %v, want x", item.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader was never woken")
	}
}

func TestChannel_CompleteIsIdempotentAndWakesAll(t *testing.T) {
	c := New()
	ctx := context.Background()
	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Pop(ctx)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)

	c.Complete()
	c.Complete() // idempotent, must not panic or double-close

	wg.Wait()
	close(errs)
	for err := range errs {
		if err == nil {
			t.Error("Pop() after Complete() with no items should error")
		}
	}
}

func TestChannel_PopRespectsContextCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Pop(ctx); err == nil {
		t.Error("Pop() with cancelled context expected error")
	}
}

func TestChannel_DrainsQueuedItemsAfterComplete(t *testing.T) {
	c := New()
	ctx := context.Background()
	if err := c.Push(testItem{id: "queued", priority: 1}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	c.Complete()

	item, err := c.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() after Complete() should still drain queued item: %v", err)
	}
	if item.ID() != "queued" {
		t.Errorf("Pop() = %v, want queued", item.ID())
	}

	if _, err := c.Pop(ctx); err == nil {
		t.Error("Pop() after drain expected ErrChannelClosed")
	}
}
