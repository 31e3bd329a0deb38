package request

import "context"

// OwnRequest wraps an arbitrary caller-supplied function as a Request,
// letting one-off work run through the same scheduler, priority ordering,
// and cancellation plumbing as a LoadRequest without needing its own
// concrete type.
type OwnRequest struct {
	*Base
	Fn func(ctx context.Context) error
}

// NewOwnRequest returns an OwnRequest in the OnHold state.
func NewOwnRequest(id string, priority int, fn func(ctx context.Context) error) *OwnRequest {
	return &OwnRequest{Base: NewBase(id, priority), Fn: fn}
}

func (r *OwnRequest) Run(ctx context.Context) error {
	if err := r.Transition(Running, nil); err != nil {
		return err
	}
	err := r.Fn(ctx)
	if err != nil {
		return r.Fail(err)
	}
	return r.Transition(Completed, nil)
}
