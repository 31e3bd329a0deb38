package semaphore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDynamic_NeverExceedsCapacity(t *testing.T) {
	tests := []struct {
		name       string
		capacity   int
		concurrent int
	}{
		{name: "capacity 2 with 10 goroutines", capacity: 2, concurrent: 10},
		{name: "capacity 1 with 5 goroutines", capacity: 1, concurrent: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.capacity)
			ctx := context.Background()

			var mu sync.Mutex
			current, max := 0, 0
			var wg sync.WaitGroup
			for i := 0; i < tt.concurrent; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := d.Acquire(ctx); err != nil {
						t.Errorf("Acquire() error = %v", err)
						return
					}
					mu.Lock()
					current++
					if current > max {
						max = current
					}
					mu.Unlock()

					time.Sleep(5 * time.Millisecond)

					mu.Lock()
					current--
					mu.Unlock()
					d.Release()
				}()
			}
			wg.Wait()
			if max > tt.capacity {
				t.Errorf("observed %d concurrent holders, want <= %d", max, tt.capacity)
			}
		})
	}
}

func TestDynamic_ResizeWakesWaitersUpToNewCapacity(t *testing.T) {
	d := New(1)
	ctx := context.Background()
	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if err := d.Acquire(ctx); err == nil {
				acquired <- struct{}{}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("waiter acquired before Resize()")
	default:
	}

	d.Resize(3) // capacity 3, 1 held, 2 waiters -> both should be woken

	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-acquired:
		case <-timeout:
			t.Fatal("Resize() did not wake waiters up to new capacity")
		}
	}
}

func TestDynamic_ResizeDownDoesNotEvictHolders(t *testing.T) {
	d := New(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	d.Resize(1)
	if held := d.Held(); held != 3 {
		t.Errorf("Held() = %d, want 3 (shrinking must not evict holders)", held)
	}
}

func TestDynamic_AcquireRespectsContextCancellation(t *testing.T) {
	d := New(1)
	ctx := context.Background()
	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Acquire(cancelCtx); err == nil {
		t.Error("Acquire() with cancelled context expected error")
	}
}
