// Package cancel implements a linked cancellation source: a context.Context
// derived from any number of upstream "done" signals, cancelled the moment
// any one of them fires. The teacher links cancellation with a single
// context.WithCancel per download (internal/service/download.go); fetchmux
// needs to union up to four independent legs per request (scheduler
// shutdown, the request's own CancelToken, a caller-supplied context, and a
// deadline), and nesting four context.WithCancel calls would make
// cancelling an inner leg wait on whichever leg happens to be outermost.
// This package flattens that into one select loop instead.
package cancel

import (
	"context"
	"sync"
)

// Source is a single leg's cancel signal: Cancel(err) fires it, Err reports
// what fired it (nil until then).
type Source struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
}

// NewSource returns an unfired Source.
func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Cancel fires the source with reason (idempotent; the first reason wins).
func (s *Source) Cancel(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if reason == nil {
		reason = context.Canceled
	}
	s.err = reason
	close(s.done)
}

// Done returns the channel that closes when Cancel is called.
func (s *Source) Done() <-chan struct{} { return s.done }

// Err returns the reason passed to Cancel, or nil if not yet cancelled.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Link unions ctx with any number of extra Sources into one derived
// context.Context. The returned cancel func releases the goroutine that
// watches the legs; callers must call it once they no longer need the
// derived context, exactly as with context.WithCancel.
func Link(ctx context.Context, sources ...*Source) (context.Context, context.CancelFunc) {
	out, cancelOut := context.WithCancel(ctx)
	if len(sources) == 0 {
		return out, cancelOut
	}

	stop := make(chan struct{})
	go func() {
		cases := make([]<-chan struct{}, 0, len(sources)+1)
		cases = append(cases, out.Done())
		for _, s := range sources {
			cases = append(cases, s.Done())
		}
		watch(cases, stop)
		cancelOut()
	}()

	return out, func() {
		close(stop)
		cancelOut()
	}
}

// watch blocks until one of cases fires or stop closes.
func watch(cases []<-chan struct{}, stop <-chan struct{}) {
	// Small, fixed set of legs in practice (scheduler/request/caller/
	// deadline), so a reflect-free fan-in goroutine-per-case is simpler and
	// cheaper than reflect.Select for the sizes this ever sees.
	fired := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	var once sync.Once
	notify := func() { once.Do(func() { close(fired) }) }

	for _, c := range cases {
		go func(c <-chan struct{}) {
			select {
			case <-c:
				notify()
			case <-done:
			}
		}(c)
	}

	select {
	case <-fired:
	case <-stop:
	}
}
