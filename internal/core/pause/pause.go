// Package pause implements a cooperative pause/resume primitive used by
// requests and schedulers that need to suspend work without tearing down
// goroutines, the same status-flag concern the teacher's download service
// handled by checking Download.Status from inside the worker loop -- here
// expressed as a blocking Wait instead of a poll.
package pause

import (
	"context"
	"sync"
)

// Token starts resumed. Pause blocks future Wait calls until Resume is
// called. Both are idempotent and safe for concurrent use.
type Token struct {
	mu     sync.Mutex
	paused bool
	gate   chan struct{} // closed while resumed; nil/blocked while paused
}

// New returns a Token in the resumed state.
func New() *Token {
	t := &Token{gate: closedChan()}
	return t
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Pause suspends future Wait callers. A no-op if already paused.
func (t *Token) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.paused = true
	t.gate = make(chan struct{})
}

// Resume releases any callers blocked in Wait. A no-op if not paused.
func (t *Token) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.paused = false
	close(t.gate)
}

// Wait blocks until the token is resumed or ctx is done.
func (t *Token) Wait(ctx context.Context) error {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPaused reports the current state.
func (t *Token) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
