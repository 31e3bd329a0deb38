package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
	ErrValidation = errors.New("validation failed")

	// CORE engine sentinels. Checked with errors.Is by both the scheduler
	// package and the HTTP layer, which maps them onto status codes the
	// same way it already does for the sentinels above.
	ErrChannelClosed       = errors.New("priority channel closed")
	ErrRequestCancelled    = errors.New("request cancelled")
	ErrRequestPaused       = errors.New("request paused")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrCoordinatorNotOwner = errors.New("chunk coordinator: caller is not the owning request")
	ErrInvalidState        = errors.New("invalid request state transition")
	ErrTransport           = errors.New("transport error")
	ErrHTTPStatus          = errors.New("unexpected http status")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// HTTPStatusError wraps ErrHTTPStatus with the status code that triggered
// it, so callers can both errors.Is(err, ErrHTTPStatus) and read the code.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

func (e *HTTPStatusError) Unwrap() error { return ErrHTTPStatus }

// NewHTTPStatusError builds the error kind a transport adapter returns when
// a chunk request comes back with a non-2xx status it isn't going to retry
// past.
func NewHTTPStatusError(code int) error {
	return &HTTPStatusError{Code: code}
}
