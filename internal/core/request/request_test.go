package request

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/corvidae/fetchmux/internal/errs"
	"github.com/corvidae/fetchmux/internal/models"
)

func TestBase_LegalTransitionSequence(t *testing.T) {
	b := NewBase("r1", 5)
	steps := []State{Waiting, Available, Running, Completed}
	for _, s := range steps {
		if err := b.Transition(s, nil); err != nil {
			t.Fatalf("Transition(%v) error = %v", s, err)
		}
	}
	if got := b.State(); got != Completed {
		t.Errorf("State() = %v, want Completed", got)
	}
}

func TestBase_IllegalTransitionRejected(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{name: "on_hold to running skips waiting/available", from: OnHold, to: Running},
		{name: "waiting to completed skips available/running", from: Waiting, to: Completed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBase("r", 1)
			if tt.from != OnHold {
				// walk to `from` legally first
				path := map[State][]State{
					Waiting:   {Waiting},
					Available: {Waiting, Available},
					Running:   {Waiting, Available, Running},
				}[tt.from]
				for _, s := range path {
					if err := b.Transition(s, nil); err != nil {
						t.Fatalf("setup Transition(%v) error = %v", s, err)
					}
				}
			}
			if err := b.Transition(tt.to, nil); err == nil {
				t.Errorf("Transition(%v -> %v) expected error", tt.from, tt.to)
			}
		})
	}
}

func TestBase_TerminalStateIsOneShot(t *testing.T) {
	b := NewBase("r", 1)
	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)
	_ = b.Transition(Running, nil)
	wantErr := errors.New("boom")
	if err := b.Transition(Failed, wantErr); err != nil {
		t.Fatalf("Transition(Failed) error = %v", err)
	}
	if err := b.Transition(Completed, nil); err == nil {
		t.Error("Transition() out of a terminal state expected error")
	}
	if b.Err() != wantErr {
		t.Errorf("Err() = %v, want %v", b.Err(), wantErr)
	}
	if b.State() != Failed {
		t.Errorf("State() = %v, want Failed (must not move after terminal)", b.State())
	}
}

func TestBase_CancelFromAnyNonTerminalState(t *testing.T) {
	tests := []struct {
		name string
		to   State
	}{
		{name: "from on_hold", to: OnHold},
		{name: "from waiting", to: Waiting},
		{name: "from running", to: Running},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBase("r", 1)
			path := map[State][]State{
				OnHold:  {},
				Waiting: {Waiting},
				Running: {Waiting, Available, Running},
			}[tt.to]
			for _, s := range path {
				_ = b.Transition(s, nil)
			}
			b.Cancel(nil)
			if b.State() != Cancelled {
				t.Errorf("State() = %v, want Cancelled", b.State())
			}
		})
	}
}

func TestBase_CancelIsNoOpOnceTerminal(t *testing.T) {
	b := NewBase("r", 1)
	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)
	_ = b.Transition(Running, nil)
	_ = b.Transition(Completed, nil)
	b.Cancel(errors.New("too late"))
	if b.State() != Completed {
		t.Errorf("State() = %v, want Completed (Cancel must not override a terminal state)", b.State())
	}
}

// fakeTransport is a minimal models.TransportClient stub for StatusRequest
// tests; only Head is exercised.
type fakeTransport struct {
	code int
	err  error
}

func (f *fakeTransport) Head(ctx context.Context, req models.RequestOptions, cfg models.DownloadConfig) (*models.ResponseMetadata, map[string][]string, int, error) {
	if f.err != nil {
		return nil, nil, 0, f.err
	}
	return &models.ResponseMetadata{}, nil, f.code, nil
}

func (f *fakeTransport) GetRange(ctx context.Context, req models.RequestOptions, cfg models.DownloadConfig, startInclusive, endInclusive int64) (io.ReadCloser, *models.ResponseMetadata, map[string][]string, int, error) {
	return nil, nil, nil, 0, errors.New("GetRange not used by these tests")
}

func TestStatusRequest_RunSuccessAndFailure(t *testing.T) {
	t.Run("2xx status completes the probe", func(t *testing.T) {
		r := NewStatusRequest("s1", 1, &fakeTransport{code: 204}, models.RequestOptions{}, models.DownloadConfig{}, 0)
		_ = r.Transition(Waiting, nil)
		_ = r.Transition(Available, nil)
		if err := r.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if r.State() != Completed {
			t.Errorf("State() = %v, want Completed", r.State())
		}
	})

	t.Run("non-2xx status fails the probe", func(t *testing.T) {
		r := NewStatusRequest("s2", 1, &fakeTransport{code: 404}, models.RequestOptions{}, models.DownloadConfig{}, 0)
		r.SetRetryPolicy(1, 0)
		_ = r.Transition(Waiting, nil)
		_ = r.Transition(Available, nil)
		if err := r.Run(context.Background()); !errors.Is(err, errs.ErrHTTPStatus) {
			t.Fatalf("Run() error = %v, want errs.ErrHTTPStatus", err)
		}
		if r.State() != Failed {
			t.Errorf("State() = %v, want Failed", r.State())
		}
	})

	t.Run("transport error fails the probe", func(t *testing.T) {
		transportErr := errors.New("dial tcp: connection refused")
		r := NewStatusRequest("s3", 1, &fakeTransport{err: transportErr}, models.RequestOptions{}, models.DownloadConfig{}, 0)
		r.SetRetryPolicy(1, 0)
		_ = r.Transition(Waiting, nil)
		_ = r.Transition(Available, nil)
		if err := r.Run(context.Background()); err != transportErr {
			t.Fatalf("Run() error = %v, want %v", err, transportErr)
		}
		if r.State() != Failed {
			t.Errorf("State() = %v, want Failed", r.State())
		}
	})
}

func TestBase_OnStartedAndOnCompletedFireExactlyOnce(t *testing.T) {
	b := NewBase("r", 1)
	var started, completed int
	var completedWith any
	b.SetCallbacks(Callbacks{
		OnStarted:   func() { started++ },
		OnCompleted: func(v any) { completed++; completedWith = v },
	})
	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)
	_ = b.Transition(Running, nil)
	b.SetResult("payload")
	_ = b.Transition(Completed, nil)

	if started != 1 {
		t.Errorf("on_started fired %d times, want 1", started)
	}
	if completed != 1 {
		t.Errorf("on_completed fired %d times, want 1", completed)
	}
	if completedWith != "payload" {
		t.Errorf("on_completed called with %v, want %q", completedWith, "payload")
	}
}

func TestBase_TerminalCallbacksAreMutuallyExclusive(t *testing.T) {
	b := NewBase("r", 1)
	var completed, failed, cancelled int
	b.SetCallbacks(Callbacks{
		OnCompleted: func(any) { completed++ },
		OnFailed:    func(error) { failed++ },
		OnCancelled: func() { cancelled++ },
	})
	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)
	_ = b.Transition(Running, nil)
	b.Cancel(errors.New("stop"))
	// A second attempt to reach a different terminal state must not fire
	// any further callback: the three are mutually exclusive.
	_ = b.Transition(Completed, nil)
	b.Cancel(errors.New("stop again"))

	if cancelled != 1 {
		t.Errorf("on_cancelled fired %d times, want 1", cancelled)
	}
	if completed != 0 || failed != 0 {
		t.Errorf("on_completed=%d on_failed=%d fired, want 0 both (on_cancelled already claimed the terminal transition)", completed, failed)
	}
}

func TestBase_FailRetriesThenExhaustsTryCounter(t *testing.T) {
	b := NewBase("r", 1)
	b.SetRetryPolicy(2, 0)
	var failed int
	b.SetCallbacks(Callbacks{OnFailed: func(error) { failed++ }})

	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)
	_ = b.Transition(Running, nil)
	if err := b.Fail(errors.New("boom")); err == nil {
		t.Fatal("Fail() returned nil")
	}
	if b.State() != Available {
		t.Fatalf("State() after first Fail() = %v, want Available (try_counter=2 not exhausted)", b.State())
	}
	if failed != 0 {
		t.Errorf("on_failed fired before try_counter exhausted")
	}

	_ = b.Transition(Running, nil)
	if err := b.Fail(errors.New("boom again")); err == nil {
		t.Fatal("Fail() returned nil")
	}
	if b.State() != Failed {
		t.Fatalf("State() after second Fail() = %v, want Failed", b.State())
	}
	if failed != 1 {
		t.Errorf("on_failed fired %d times, want 1", failed)
	}
}

func TestBase_PauseParksQueuedRequestInOnHoldWithoutFiringCallbacks(t *testing.T) {
	b := NewBase("r", 1)
	var cancelled, failed int
	b.SetCallbacks(Callbacks{OnCancelled: func() { cancelled++ }, OnFailed: func(error) { failed++ }})
	_ = b.Transition(Waiting, nil)
	_ = b.Transition(Available, nil)

	b.Pause()
	if b.State() != OnHold {
		t.Fatalf("State() = %v, want OnHold", b.State())
	}
	if !b.PauseToken().IsPaused() {
		t.Error("PauseToken().IsPaused() = false after Pause()")
	}
	if cancelled != 0 || failed != 0 {
		t.Error("Pause must not fire on_cancelled or on_failed: it is not a terminal transition")
	}

	b.Resume()
	if b.PauseToken().IsPaused() {
		t.Error("PauseToken().IsPaused() = true after Resume()")
	}
}

func TestOwnRequest_RunsWrappedFunction(t *testing.T) {
	called := false
	r := NewOwnRequest("o1", 1, func(ctx context.Context) error {
		called = true
		return nil
	})
	_ = r.Transition(Waiting, nil)
	_ = r.Transition(Available, nil)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !called {
		t.Error("wrapped function was never called")
	}
	if r.State() != Completed {
		t.Errorf("State() = %v, want Completed", r.State())
	}
}
