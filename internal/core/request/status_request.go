package request

import (
	"context"
	"time"

	"github.com/corvidae/fetchmux/internal/errs"
	"github.com/corvidae/fetchmux/internal/models"
)

// defaultStatusTimeout bounds a StatusRequest's HEAD probe when Timeout is
// left zero.
const defaultStatusTimeout = 10 * time.Second

// StatusRequest probes a URL with a HEAD request instead of downloading it,
// used to check reachability or refresh cached metadata without touching a
// download's file on disk. Any 2xx status counts as success; anything else
// -- a non-2xx status, a transport error, a timeout -- fails the request
// through the normal retry/try_counter path Base already implements.
type StatusRequest struct {
	*Base

	Transport models.TransportClient
	Request   models.RequestOptions
	Config    models.DownloadConfig

	// Timeout bounds the HEAD probe. Zero means defaultStatusTimeout.
	Timeout time.Duration
}

// NewStatusRequest returns a StatusRequest in the OnHold state.
func NewStatusRequest(id string, priority int, transport models.TransportClient, req models.RequestOptions, cfg models.DownloadConfig, timeout time.Duration) *StatusRequest {
	return &StatusRequest{
		Base:      NewBase(id, priority),
		Transport: transport,
		Request:   req,
		Config:    cfg,
		Timeout:   timeout,
	}
}

func (r *StatusRequest) Run(ctx context.Context) error {
	if err := r.Transition(Running, nil); err != nil {
		return err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultStatusTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, code, err := r.Transport.Head(probeCtx, r.Request, r.Config)
	if err != nil {
		return r.Fail(err)
	}
	if code < 200 || code >= 300 {
		return r.Fail(errs.NewHTTPStatusError(code))
	}
	return r.Transition(Completed, nil)
}
