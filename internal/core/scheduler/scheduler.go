// Package scheduler implements RequestScheduler: a dispatch loop that pops
// the highest-priority Available request from a pchan.Channel, acquires a
// semaphore.Dynamic slot, and runs it on its own goroutine. Two static
// instances are exposed, Foreground and Background, matching the
// interactive-vs-bulk split spec.md calls for.
//
// This generalizes the teacher's WorkerManager (internal/service/workers.go),
// which polled a fixed set of Badger-backed queues on a 2-second ticker and
// started downloads up to a fixed per-queue concurrency. RequestScheduler
// replaces the ticker with priority-ordered blocking dispatch and the fixed
// concurrency with a resizable semaphore driven by auto-parallelism.
package scheduler

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/corvidae/fetchmux/internal/core/pause"
	"github.com/corvidae/fetchmux/internal/core/pchan"
	"github.com/corvidae/fetchmux/internal/core/request"
	"github.com/corvidae/fetchmux/internal/core/semaphore"
)

// Tier selects which static scheduler instance a request is submitted to.
type Tier int

const (
	Foreground Tier = iota
	Background
)

// Scheduler owns one priority channel and one dynamic semaphore.
type Scheduler struct {
	tier       Tier
	ch         *pchan.Channel
	sem        *semaphore.Dynamic
	throughput *throughputTracker
	pauseToken *pause.Token

	mu      sync.Mutex
	running map[string]request.Request
}

// retryDelayer is implemented by any request.Request built on *request.Base
// (every concrete kind in this tree is); it lets the dispatch loop read
// delay_between_attempts without widening the Request interface itself.
type retryDelayer interface {
	RetryDelay() time.Duration
}

var (
	instancesOnce sync.Once
	foreground    *Scheduler
	background    *Scheduler
)

// initInstances lazily builds the two static instances on first use so
// package initialization order never matters and tests can construct their
// own private Scheduler via New without touching global state.
func initInstances() {
	instancesOnce.Do(func() {
		foreground = New(Foreground, defaultCapacity())
		background = New(Background, defaultCapacity())
	})
}

// GetForeground returns the shared Foreground scheduler instance.
func GetForeground() *Scheduler {
	initInstances()
	return foreground
}

// GetBackground returns the shared Background scheduler instance.
func GetBackground() *Scheduler {
	initInstances()
	return background
}

func defaultCapacity() int {
	c := runtime.NumCPU()
	if c < 2 {
		c = 2
	}
	return c
}

// New returns a standalone Scheduler with the given tier label and initial
// semaphore capacity. Most callers should use GetForeground/GetBackground;
// New exists for tests and for embedding a scheduler in a Queue (see
// internal/service, which layers a per-queue semaphore in front of one of
// these).
func New(tier Tier, initialCapacity int) *Scheduler {
	return &Scheduler{
		tier:       tier,
		ch:         pchan.New(),
		sem:        semaphore.New(initialCapacity),
		throughput: newThroughputTracker(),
		pauseToken: pause.New(),
		running:    make(map[string]request.Request),
	}
}

// Submit enqueues r for dispatch. r must already be in the Available state
// (callers walk OnHold->Waiting->Available before calling Submit).
func (s *Scheduler) Submit(r request.Request) error {
	return s.ch.Push(r)
}

// Run drives the dispatch loop until ctx is done or the channel completes.
// Intended to run on its own goroutine for the lifetime of the process. On
// pause(), the loop stops popping new items -- work already dispatched
// keeps running to completion -- and resume() lets it continue where it
// left off.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if err := s.pauseToken.Wait(ctx); err != nil {
			return
		}
		item, err := s.ch.Pop(ctx)
		if err != nil {
			return
		}
		r := item.(request.Request)
		if err := s.sem.Acquire(ctx); err != nil {
			return
		}
		s.mu.Lock()
		s.running[r.ID()] = r
		s.mu.Unlock()
		go func() {
			defer func() {
				s.sem.Release()
				s.mu.Lock()
				delete(s.running, r.ID())
				s.mu.Unlock()
			}()
			_ = r.Run(ctx)
			s.maybeRetry(ctx, r)
		}()
	}
}

// maybeRetry re-submits r if its Run left it in Available: the failure
// policy transitioned it there because try_counter wasn't exhausted yet.
// Any other post-run state (a terminal one, or OnHold from a pause) is left
// alone -- OnHold in particular is the caller's job to resume, not the
// scheduler's.
func (s *Scheduler) maybeRetry(ctx context.Context, r request.Request) {
	if r.State() != request.Available {
		return
	}
	if rd, ok := r.(retryDelayer); ok {
		if delay := rd.RetryDelay(); delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
	}
	_ = s.ch.Push(r)
}

// Complete stops accepting new submissions; queued items still drain.
func (s *Scheduler) Complete() { s.ch.Complete() }

// Pause stops the dispatch loop from popping new items. Requests already
// running are unaffected; they finish (or pause themselves cooperatively)
// on their own.
func (s *Scheduler) Pause() { s.pauseToken.Pause() }

// Resume lets a paused dispatch loop continue popping items.
func (s *Scheduler) Resume() { s.pauseToken.Resume() }

// IsPaused reports whether the dispatch loop is currently paused.
func (s *Scheduler) IsPaused() bool { return s.pauseToken.IsPaused() }

// Resize changes the scheduler's own concurrency cap, independent of any
// queue-level semaphore layered in front of it.
func (s *Scheduler) Resize(n int) { s.sem.Resize(n) }

// RecordThroughput feeds one completed-chunk transfer sample (bytes and
// elapsed seconds) into the auto-parallelism estimator. It does not resize
// the scheduler; applying a new capacity is done through Resize.
func (s *Scheduler) RecordThroughput(bytes int64, seconds float64) {
	s.throughput.record(bytes, seconds)
}

// AutoParallelism computes clamp(CPU_COUNT * throughput_MBps, 2,
// floor(CPU_COUNT*1.7)) from the tracked samples, defaulting throughput to
// 1 MB/s when fewer than 10 samples have been recorded.
func (s *Scheduler) AutoParallelism() int {
	cpu := runtime.NumCPU()
	mbps := s.throughput.meanMBps()
	n := int(math.Round(float64(cpu) * mbps))
	lo := 2
	hi := int(math.Floor(float64(cpu) * 1.7))
	if hi < lo {
		hi = lo
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return n
}

// ApplyAutoParallelism recomputes AutoParallelism and resizes the
// scheduler's semaphore to match. Callers typically invoke this on a fixed
// interval (see internal/service for the ticker that drives it).
func (s *Scheduler) ApplyAutoParallelism() {
	s.Resize(s.AutoParallelism())
}

// Running returns the IDs of requests currently executing.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}
