// Package request defines the abstract Request state machine that
// PriorityChannel and RequestScheduler operate on, plus two concrete
// request kinds: StatusRequest (a side-effect-free probe) and OwnRequest (an
// arbitrary caller function run under the same priority/cancellation
// regime). LoadRequest, the chunked download state machine, lives in
// internal/core/loadrequest and also implements Request.
//
// The state machine generalizes the status transitions the teacher's
// DownloadServiceImpl drives directly against models.Download
// (internal/service/download.go: Start/Pause/Resume/Cancel) into an
// interface any kind of scheduled work can implement.
package request

import (
	"context"
	"sync"
	"time"

	"github.com/corvidae/fetchmux/internal/core/pause"
	"github.com/corvidae/fetchmux/internal/errs"
)

// State is one point in the Request lifecycle.
type State int

const (
	OnHold State = iota
	Waiting
	Available
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case OnHold:
		return "on_hold"
	case Waiting:
		return "waiting"
	case Available:
		return "available"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of Completed, Failed, Cancelled.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// validTransitions carries two paths beyond the plain OnHold->...->terminal
// walk: Running->OnHold lets a worker step itself out of Running when it
// notices its PauseToken flipped mid-run (only the goroutine executing a
// request may make that call), and Running->Available lets Fail re-arm a
// request whose try_counter budget isn't exhausted yet.
var validTransitions = map[State][]State{
	OnHold:    {Waiting, Cancelled},
	Waiting:   {Available, Cancelled},
	Available: {Running, Cancelled},
	Running:   {Completed, Failed, Cancelled, Available, OnHold},
}

// Request is the abstract unit of scheduled work. Implementations embed
// *Base to get the state machine, ID, Priority, and Pause for free.
type Request interface {
	ID() string
	Priority() int
	State() State
	Run(ctx context.Context) error
	Cancel(reason error)
	Pause()
}

// Callbacks are the notification hooks RequestOptions carries: on_started
// plus one terminal callback per outcome. Base guarantees each fires at
// most once, and that the three terminal callbacks are mutually exclusive.
type Callbacks struct {
	OnStarted   func()
	OnCompleted func(result any)
	OnFailed    func(err error)
	OnCancelled func()
}

// Base implements the terminal-state latch, legal-transition checking, and
// callback/retry bookkeeping shared by every concrete Request. It is not
// itself a Request: embedders must still supply Run.
type Base struct {
	id       string
	priority int

	pauseToken *pause.Token

	mu            sync.Mutex
	state         State
	err           error
	result        any
	callbacks     Callbacks
	startedFired  bool
	terminalFired bool

	attempts             int
	tryCounter           int
	delayBetweenAttempts time.Duration
}

// NewBase returns a Base in the OnHold state with the default try_counter
// of 3 attempts and no delay between them.
func NewBase(id string, priority int) *Base {
	return &Base{
		id:         id,
		priority:   priority,
		state:      OnHold,
		pauseToken: pause.New(),
		tryCounter: 3,
	}
}

func (b *Base) ID() string    { return b.id }
func (b *Base) Priority() int { return b.priority }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the terminal error, if any: nil for Completed, the cancel
// reason for Cancelled, and the failure cause for Failed.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// SetCallbacks installs the notification hooks. Call before Submit; Base
// does not guard a SetCallbacks racing a concurrent Transition.
func (b *Base) SetCallbacks(cb Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = cb
}

// SetRetryPolicy overrides try_counter (ignored if <= 0) and
// delay_between_attempts.
func (b *Base) SetRetryPolicy(tryCounter int, delayBetweenAttempts time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tryCounter > 0 {
		b.tryCounter = tryCounter
	}
	b.delayBetweenAttempts = delayBetweenAttempts
}

// SetResult stashes the value on_completed is invoked with. A concrete Run
// implementation calls this right before transitioning to Completed.
func (b *Base) SetResult(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = v
}

// RetryDelay returns delay_between_attempts, read by the scheduler after a
// Run leaves the request back in Available.
func (b *Base) RetryDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayBetweenAttempts
}

// Attempts returns how many times this request has entered Running.
func (b *Base) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// PauseToken exposes the cooperative pause gate a worker loop polls at its
// own checkpoints.
func (b *Base) PauseToken() *pause.Token { return b.pauseToken }

// Pause requests cooperative suspension. A request that hasn't reached
// Running yet is parked in OnHold immediately, since nothing is executing
// it. A Running request just has its pause flag flipped; the worker
// observes IsPaused() at its next checkpoint and performs the Running ->
// OnHold transition itself.
func (b *Base) Pause() {
	b.pauseToken.Pause()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == OnHold || b.state == Waiting || b.state == Available {
		b.state = OnHold
	}
}

// Resume clears the pause gate. It does not itself re-enqueue a paused
// request -- re-submission is the owner's job, mirroring spec's "resume
// re-enqueues" rather than reviving the same worker mid-stream.
func (b *Base) Resume() {
	b.pauseToken.Resume()
}

// Transition moves the request to next. Once in a terminal state, every
// further call is a no-op returning ErrInvalidState -- the one-shot
// terminal latch spec.md requires. Entering Running fires on_started
// (once); entering a terminal state fires the matching terminal callback
// (once, mutually exclusive with the other two).
func (b *Base) Transition(next State, err error) error {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return errs.ErrInvalidState
	}
	if !legal(b.state, next) {
		b.mu.Unlock()
		return errs.ErrInvalidState
	}
	b.state = next

	var fireStarted func()
	var fireTerminal func()
	if next == Running {
		b.attempts++
		if !b.startedFired {
			b.startedFired = true
			fireStarted = b.callbacks.OnStarted
		}
	}
	if next.IsTerminal() {
		b.err = err
		if !b.terminalFired {
			b.terminalFired = true
			fireTerminal = b.terminalCallback(next, err)
		}
	}
	b.mu.Unlock()

	if fireStarted != nil {
		fireStarted()
	}
	if fireTerminal != nil {
		fireTerminal()
	}
	return nil
}

// terminalCallback must be called with mu held; it only reads fields and
// closes over their values, so the returned closure can run after
// unlocking.
func (b *Base) terminalCallback(next State, err error) func() {
	switch next {
	case Completed:
		if b.callbacks.OnCompleted != nil {
			result := b.result
			return func() { b.callbacks.OnCompleted(result) }
		}
	case Failed:
		if b.callbacks.OnFailed != nil {
			return func() { b.callbacks.OnFailed(err) }
		}
	case Cancelled:
		return b.callbacks.OnCancelled
	}
	return nil
}

// Fail applies the retry policy to a failed run: if try_counter isn't
// exhausted and the request hasn't been cancelled out from under it, it
// goes back to Available for the scheduler to re-enqueue after RetryDelay;
// otherwise it becomes Failed and on_failed fires. Either way Fail returns
// err unchanged, so a concrete Run can write `return r.Fail(err)`.
func (b *Base) Fail(err error) error {
	b.mu.Lock()
	retry := !b.state.IsTerminal() && b.attempts < b.tryCounter
	b.mu.Unlock()
	if retry {
		if e := b.Transition(Available, nil); e == nil {
			return err
		}
		// Lost a race with a concurrent Cancel; fall through to Failed.
	}
	_ = b.Transition(Failed, err)
	return err
}

// Cancel is the shared Cancel implementation: it forces a transition to
// Cancelled from any non-terminal state, recording reason, bypassing the
// transition table the way Pause deliberately does not (pause is not
// terminal and must never absorb a request the way Cancel does). Concrete
// requests should call this from their own Cancel method after cancelling
// their own context/cancel.Source legs.
func (b *Base) Cancel(reason error) {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return
	}
	b.state = Cancelled
	if reason == nil {
		reason = errs.ErrRequestCancelled
	}
	b.err = reason
	var fire func()
	if !b.terminalFired {
		b.terminalFired = true
		fire = b.callbacks.OnCancelled
	}
	b.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func legal(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
