// Package loadrequest implements LoadRequest, the chunked resumable
// download state machine: HEAD probe, chunk planning, per-chunk ranged GET
// streamed to a .part file, progress reporting through a shared
// chunk.Coordinator, and merge + checksum verification once every sibling
// chunk completes.
//
// The control flow is adapted from the teacher's internal/service/runner.go
// (DownloadRunner.Run) and internal/planner/planner.go (EvenSplitPlanner.Plan):
// same retry/backoff/rate-limit/checksum shape, generalized from "run once
// against a persisted models.Download" into "run as one Request the
// scheduler can pause, cancel, and re-prioritize".
package loadrequest

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/corvidae/fetchmux/internal/core/cancel"
	"github.com/corvidae/fetchmux/internal/core/chunk"
	"github.com/corvidae/fetchmux/internal/core/request"
	"github.com/corvidae/fetchmux/internal/errs"
	"github.com/corvidae/fetchmux/internal/models"
)

// streamBufferSize is the read granularity for the streaming write loop.
// spec speaks of a 1 KiB buffer; a larger size keeps syscall overhead down
// while still giving Cancel/Pause a checkpoint every few dozen KiB rather
// than only at the end of the whole chunk (what a single io.Copy gives).
const streamBufferSize = 32 * 1024

// Deps are the external adapters a LoadRequest drives. Every field is one
// of the interfaces in internal/models/interfaces.go, so tests can supply
// fakes without touching the concrete Badger/filesystem/net-http
// implementations.
type Deps struct {
	Transport   models.TransportClient
	FileStore   models.FileStore
	Planner     models.SegmentPlanner
	RateLimiter models.RateLimiter
	Publisher   models.EventPublisher

	// OnProgress, if set, is invoked after every chunk write with the
	// current aggregate bytes-completed and bytes-total. Repository
	// persistence and SSE fan-out both hang off this hook rather than
	// LoadRequest depending on a Repository directly, keeping the CORE
	// package free of a persistence dependency.
	OnProgress func(bytesCompleted, bytesTotal int64)

	// Submit dispatches a sibling LoadRequest into the same scheduler tier
	// this request itself was submitted to, so each chunk actually
	// occupies its own DynamicSemaphore permit instead of running as a
	// raw unthrottled goroutine. When nil (standalone use, or tests that
	// don't care about scheduler accounting), the root falls back to
	// running siblings on plain goroutines directly.
	Submit func(r request.Request) error
}

// LoadRequest is a Request that downloads one URL, possibly split across
// several concurrently-fetched byte ranges coordinated through a
// chunk.Coordinator. A chunked download's chunk 0 is always the request the
// caller submitted; chunks 1..N-1 are sibling *LoadRequest instances built
// by that root and submitted through Deps.Submit, per spec's "this request
// becomes index 0".
type LoadRequest struct {
	*request.Base

	opts Options
	deps Deps

	userCancel *cancel.Source
	coord      *chunk.Coordinator

	// chunkOnly, assignedSeg, and rootID are set only on sibling
	// LoadRequests built by newSibling; a root LoadRequest leaves them at
	// their zero values.
	chunkOnly   bool
	assignedSeg models.Segment
	rootID      string
}

// New returns a LoadRequest in the OnHold state. Retries live inside
// runChunk's own attempt loop (mirror fallback, backoff, per-chunk
// budget), so the Base-level retry counter stays at 1: a Run failure here
// means the internal budget is already exhausted and the request should
// go straight to Failed rather than being re-queued by the scheduler for a
// second full HEAD-to-merge pass.
//
// New fails fast on a malformed File.Range or an excluded output extension
// rather than letting the request reach Running and burn a HEAD probe
// first.
func New(opts Options, deps Deps) (*LoadRequest, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	r := &LoadRequest{
		Base:       request.NewBase(opts.ID, opts.Priority),
		opts:       opts,
		deps:       deps,
		userCancel: cancel.NewSource(),
	}
	r.SetRetryPolicy(1, 0)
	return r, nil
}

// newSibling builds one chunk-only LoadRequest sharing this request's Deps
// and download identity, scoped to a single byte range. It is registered
// into the coordinator by the caller (run), not here, since the
// coordinator doesn't exist yet the first time a sibling is constructed.
func (r *LoadRequest) newSibling(seg models.Segment) *LoadRequest {
	childOpts := r.opts
	childOpts.ID = fmt.Sprintf("%s#%d", r.opts.ID, seg.Index)
	childOpts.ChunkCount = 0
	sib := &LoadRequest{
		Base:        request.NewBase(childOpts.ID, childOpts.Priority),
		opts:        childOpts,
		deps:        r.deps,
		userCancel:  cancel.NewSource(),
		chunkOnly:   true,
		assignedSeg: seg,
		rootID:      r.opts.ID,
	}
	sib.SetRetryPolicy(1, 0)
	return sib
}

// Cancel fires the request's own cancel leg, latches the terminal state,
// and, for a root of a chunked download, propagates to every sibling: "in
// a chunked download, pause/resume/cancel on the root propagates to all
// siblings."
func (r *LoadRequest) Cancel(reason error) {
	r.userCancel.Cancel(reason)
	r.Base.Cancel(reason)
	r.propagate(func(sib request.Request) { sib.Cancel(reason) })
}

// Pause requests cooperative suspension of this request and, for a root of
// a chunked download, every sibling.
func (r *LoadRequest) Pause() {
	r.Base.Pause()
	r.propagate(func(sib request.Request) { sib.Pause() })
}

func (r *LoadRequest) propagate(fn func(request.Request)) {
	if r.chunkOnly || r.coord == nil {
		return
	}
	for _, sib := range r.coord.Requests() {
		if sib.ID() != r.ID() {
			fn(sib)
		}
	}
}

// Run executes the full HEAD -> plan -> fetch -> merge -> verify pipeline
// for a root LoadRequest, or just its own assigned range for a sibling. The
// context passed in is expected to already be the scheduler's own per-tier
// context; Run links it with the request's own cancel leg so Cancel()
// takes effect without waiting on the scheduler's shutdown leg.
func (r *LoadRequest) Run(parentCtx context.Context) error {
	if err := r.Transition(request.Running, nil); err != nil {
		return err
	}

	ctx, done := cancel.Link(parentCtx, r.userCancel)
	defer done()
	if r.opts.Deadline > 0 {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithTimeout(ctx, r.opts.Deadline)
		defer cancelDeadline()
	}

	err := r.run(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrRequestPaused) {
			_ = r.Transition(request.OnHold, nil)
			return err
		}
		return r.Fail(err)
	}
	r.SetResult(r.opts.ID)
	return r.Transition(request.Completed, nil)
}

func (r *LoadRequest) run(ctx context.Context) error {
	if r.chunkOnly {
		coord, ok := chunk.Lookup(r.rootID)
		if !ok {
			return errs.ErrCoordinatorNotOwner
		}
		r.coord = coord
		return r.runChunk(ctx, r.assignedSeg, coord.TotalBytes())
	}

	if err := r.deps.FileStore.Prepare(ctx, r.download(nil)); err != nil {
		return fmt.Errorf("prepare file store: %w", err)
	}
	if err := r.checkExcludedExtension(); err != nil {
		return err
	}

	md, _, _, err := r.deps.Transport.Head(ctx, r.opts.Request, r.opts.Config)
	if err != nil {
		return fmt.Errorf("head probe: %w", err)
	}
	if r.opts.Config.VerifyContentType && r.opts.Config.Mime != "" && md.ContentType != "" && md.ContentType != r.opts.Config.Mime {
		return fmt.Errorf("%w: unexpected content-type %s", errs.ErrValidation, md.ContentType)
	}

	acceptRanges := md.AcceptRanges
	rangeStart, rangeEnd, totalLen := r.effectiveSpan(md.ContentLength)
	segments, err := r.plan(ctx, totalLen, acceptRanges)
	if err != nil {
		return fmt.Errorf("plan chunks: %w", err)
	}
	if rangeStart != 0 || r.opts.File.Range != nil {
		for i := range segments {
			segments[i].Start += rangeStart
			if segments[i].End >= 0 {
				segments[i].End += rangeStart
			} else {
				segments[i].End = rangeEnd
			}
		}
	}

	if len(segments) >= 2 {
		// Some servers advertise Accept-Ranges but return the full body
		// with 200 anyway. Probe with a minimal range request before
		// committing to sibling chunks; recycle to a single-stream
		// download rather than let every chunk independently write bytes
		// 0..span from the start of its own full body into its segment
		// offset.
		partial, err := r.chunkedRangeSupported(ctx)
		if err != nil {
			return err
		}
		if !partial {
			segments = []models.Segment{{Index: 0, DownloadID: r.opts.ID, Start: rangeStart, End: rangeEnd, Status: models.SegmentPending}}
		}
	}

	chunks := make([]chunk.Progress, len(segments))
	for i, s := range segments {
		chunks[i] = chunk.Progress{Index: s.Index, Start: s.Start, End: s.End, Status: chunk.Pending}
	}
	coord, existing := chunk.Lookup(r.opts.ID)
	if !existing || !r.opts.ResumeIfExists {
		coord = chunk.New(r.opts.ID, r.opts.ID, chunks, totalLen)
	}
	r.coord = coord
	defer chunk.Evict(r.opts.ID)

	if len(segments) == 1 {
		coord.SetRequests([]request.Request{r})
		if err := r.runChunk(ctx, segments[0], totalLen); err != nil {
			return err
		}
		return r.finishDownload(ctx, md)
	}
	return r.runChunked(ctx, segments, md, totalLen)
}

// effectiveSpan resolves the byte span the download should actually cover.
// With no File.Range it is the whole resource. With a Range it is the
// caller-requested slice: start/end are absolute offsets suitable for a
// Segment, and totalLen is the span's own size, which is what gets planned
// against and reported as the coordinator's total.
func (r *LoadRequest) effectiveSpan(contentLength int64) (start, end, totalLen int64) {
	rng := r.opts.File.Range
	if rng == nil {
		return 0, -1, contentLength
	}
	rangeEnd := rng.End
	if contentLength > 0 && rangeEnd > contentLength {
		rangeEnd = contentLength
	}
	span := rangeEnd - rng.Start
	if span < 0 {
		span = 0
	}
	return rng.Start, rng.Start + span - 1, span
}

// checkExcludedExtension hard-rejects a filename whose extension appears in
// File.ExcludedExtensions. New already runs this check at construction; it
// runs again here since Mode-driven filename disambiguation only happens
// later, at merge time, and a caller-supplied Filename could in principle
// change between construction and Run for a resumed request.
func (r *LoadRequest) checkExcludedExtension() error {
	if r.opts.File.Filename == "" || len(r.opts.File.ExcludedExtensions) == 0 {
		return nil
	}
	if extensionExcluded(r.opts.File.Filename, r.opts.File.ExcludedExtensions) {
		return fmt.Errorf("%w: file extension of %q is excluded", errs.ErrValidation, r.opts.File.Filename)
	}
	return nil
}

// runChunked builds N-1 sibling LoadRequests for segments 1..N-1 -- this
// request becomes index 0, per spec's "requests: [LoadRequest; N]" -- and
// dispatches them through Deps.Submit so each occupies its own scheduler
// slot, then runs its own chunk 0 inline (this request already occupies a
// slot for itself) and waits for every sibling to report back through the
// on_completed/on_failed/on_cancelled callbacks registered below.
func (r *LoadRequest) runChunked(ctx context.Context, segments []models.Segment, md *models.ResponseMetadata, totalLen int64) error {
	type siblingResult struct {
		index int
		err   error
	}

	siblings := make([]request.Request, len(segments))
	concrete := make([]*LoadRequest, len(segments))
	siblings[0], concrete[0] = r, r
	resultCh := make(chan siblingResult, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		sib := r.newSibling(segments[i])
		siblings[i], concrete[i] = sib, sib
		idx := i
		sib.SetCallbacks(request.Callbacks{
			OnCompleted: func(any) { resultCh <- siblingResult{idx, nil} },
			OnFailed:    func(e error) { resultCh <- siblingResult{idx, e} },
			OnCancelled: func() { resultCh <- siblingResult{idx, errs.ErrRequestCancelled} },
		})
	}
	r.coord.SetRequests(siblings)

	for i := 1; i < len(segments); i++ {
		sib := concrete[i]
		if err := sib.Transition(request.Waiting, nil); err != nil {
			return err
		}
		if err := sib.Transition(request.Available, nil); err != nil {
			return err
		}
		if r.deps.Submit != nil {
			if err := r.deps.Submit(sib); err != nil {
				return fmt.Errorf("submit chunk %d: %w", i, err)
			}
		} else {
			go func() { _ = sib.Run(ctx) }()
		}
	}

	err0 := r.runChunk(ctx, segments[0], totalLen)
	if err0 != nil {
		for i := 1; i < len(segments); i++ {
			siblings[i].Cancel(err0)
		}
	}

	allErrs := make([]error, len(segments))
	allErrs[0] = err0
	for i := 1; i < len(segments); i++ {
		res := <-resultCh
		allErrs[res.index] = res.err
	}

	// A 416 on any one chunk's ranged GET means the server has stopped
	// honoring Range for this resource mid-download; recycling wins over
	// any other sibling's error, since those are almost certainly just
	// fallout from this chunk's own cancellation once the winner of
	// Coordinator.BeginRecycle cancels its siblings.
	var firstErr error
	recycle := false
	for _, e := range allErrs {
		if e == nil {
			continue
		}
		if errors.Is(e, errs.ErrRangeNotSatisfiable) {
			recycle = true
			continue
		}
		if firstErr == nil {
			firstErr = e
		}
	}
	if recycle {
		return r.recycleToSingleStream(ctx, md)
	}
	if firstErr != nil {
		return firstErr
	}
	return r.finishDownload(ctx, md)
}

// recycleToSingleStream restarts the whole download as one unchunked
// request after a chunk's in-flight ranged GET came back 416 Range Not
// Satisfiable. This mirrors the preflight 200-not-206 fallback in run(),
// just triggered mid-download instead of before any sibling is dispatched.
// Whatever siblings had already completed leave behind .part files that
// would otherwise get merged alongside the fresh single-stream fetch, so
// the temp directory is wiped and recreated before restarting.
func (r *LoadRequest) recycleToSingleStream(ctx context.Context, md *models.ResponseMetadata) error {
	d := r.download(md)
	_ = r.deps.FileStore.RemoveDownloadFiles(ctx, d)
	if err := r.deps.FileStore.Prepare(ctx, d); err != nil {
		return fmt.Errorf("prepare file store: %w", err)
	}

	start, end, totalLen := r.effectiveSpan(md.ContentLength)
	seg := models.Segment{Index: 0, DownloadID: r.opts.ID, Start: start, End: end, Status: models.SegmentPending}
	coord := chunk.New(r.opts.ID, r.opts.ID, []chunk.Progress{{Index: 0, Start: start, End: end, Status: chunk.Pending}}, totalLen)
	coord.SetRequests([]request.Request{r})
	r.coord = coord
	if err := r.runChunk(ctx, seg, totalLen); err != nil {
		return err
	}
	return r.finishDownload(ctx, md)
}

// chunkedRangeSupported issues a minimal Range: bytes=0-0 request and
// reports whether the server actually honors it (206) rather than ignoring
// Range and returning the full body (200 or anything else).
func (r *LoadRequest) chunkedRangeSupported(ctx context.Context) (bool, error) {
	body, _, _, code, err := r.deps.Transport.GetRange(ctx, r.opts.Request, r.opts.Config, 0, 0)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	if body != nil {
		_ = body.Close()
	}
	return code == 206, nil
}

// finishDownload runs the root-only merge + checksum tail once every chunk
// (including this request's own) has completed.
func (r *LoadRequest) finishDownload(ctx context.Context, md *models.ResponseMetadata) error {
	ok, isOwner := r.coord.BeginMerge(r.opts.ID)
	if !isOwner {
		return errs.ErrCoordinatorNotOwner
	}
	if !ok {
		// Another goroutine already ran (or is running) the merge for this
		// coordinator; nothing left for us to do.
		return nil
	}
	mergeErr := r.deps.FileStore.MergeSegments(ctx, r.download(md))
	r.coord.FinishMerge(mergeErr == nil)
	if mergeErr != nil {
		return fmt.Errorf("merge chunks: %w", mergeErr)
	}

	if r.opts.File.Checksum != "" {
		okSum, err := r.deps.FileStore.VerifyChecksum(ctx, r.download(md))
		if err != nil {
			return fmt.Errorf("verify checksum: %w", err)
		}
		if !okSum {
			return errs.ErrChecksumMismatch
		}
	}
	return nil
}

func (r *LoadRequest) plan(ctx context.Context, contentLength int64, acceptRanges bool) ([]models.Segment, error) {
	cfg := r.opts.Config
	if r.opts.ChunkCount > 0 {
		cfg.MaxConnections = r.opts.ChunkCount
	}
	d := &models.Download{ID: r.opts.ID, Config: &cfg}
	return r.deps.Planner.Plan(ctx, d, contentLength, acceptRanges)
}

func (r *LoadRequest) download(md *models.ResponseMetadata) *models.Download {
	return &models.Download{
		ID:       r.opts.ID,
		URL:      r.opts.Request.URL,
		Request:  &r.opts.Request,
		Config:   &r.opts.Config,
		File:     &r.opts.File,
		Response: md,
	}
}

// runChunk fetches one byte range with retry/backoff/mirror-fallback,
// streaming it into the coordinator's tracked .part file and updating the
// coordinator's progress after every write. Adapted from the per-segment
// goroutine body in the teacher's DownloadRunner.Run.
func (r *LoadRequest) runChunk(ctx context.Context, seg models.Segment, totalLen int64) error {
	policy := r.opts.retryPolicy()
	urls := append([]string{r.opts.Request.URL}, r.opts.Request.MirrorURLs...)

	d := r.download(nil)
	w, existing, err := r.deps.FileStore.OpenSegmentWriter(ctx, d, seg)
	if err != nil {
		return err
	}
	_ = w.Close()

	start := seg.Start + existing
	end := seg.End

	attempts := 0
	mirrorIdx := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.PauseToken().IsPaused() {
			return errs.ErrRequestPaused
		}

		reqOpts := r.opts.Request
		reqOpts.URL = urls[mirrorIdx%len(urls)]

		if r.deps.RateLimiter != nil {
			span := spanOf(start, end, totalLen)
			if wait, _ := r.deps.RateLimiter.Reserve(ctx, "global", span); wait > 0 {
				time.Sleep(wait)
			}
			if r.opts.QueueName != "" {
				if wait, _ := r.deps.RateLimiter.Reserve(ctx, r.opts.QueueName, span); wait > 0 {
					time.Sleep(wait)
				}
			}
		}

		body, _, _, code, err := r.deps.Transport.GetRange(ctx, reqOpts, r.opts.Config, start, end)
		if code == 416 {
			// The server has stopped honoring Range for this resource
			// mid-download (a mirror swap, a proxy that rewrote the
			// request, content that changed underneath us). Retrying the
			// same range only burns the budget; recycle the whole
			// download to a single unchunked stream instead, same as the
			// preflight 200-not-206 fallback in run() does for a server
			// that never honored Range in the first place.
			if r.coord != nil && r.coord.BeginRecycle() {
				r.coord.CancelOthers(r.ID(), errs.ErrRangeNotSatisfiable)
			}
			return errs.ErrRangeNotSatisfiable
		}
		if err != nil || (code != 200 && code != 206) {
			attempts++
			mirrorIdx++
			if attempts > policy.MaxRetries {
				if err == nil {
					err = errs.NewHTTPStatusError(code)
				} else {
					err = fmt.Errorf("%w: %v", errs.ErrTransport, err)
				}
				return err
			}
			time.Sleep(backoff(policy, attempts))
			continue
		}

		written, herr, ioErr := r.writeChunk(ctx, d, seg, body, start, end, existing)
		body.Close()
		if ioErr != nil {
			if errors.Is(ioErr, errs.ErrRequestPaused) {
				return ioErr
			}
			attempts++
			if attempts > policy.MaxRetries {
				return ioErr
			}
			time.Sleep(backoff(policy, attempts))
			continue
		}

		total := existing + written
		if end >= 0 && total != end-seg.Start+1 {
			attempts++
			if attempts > policy.MaxRetries {
				return io.ErrUnexpectedEOF
			}
			time.Sleep(backoff(policy, attempts))
			continue
		}

		checksum := ""
		if herr != nil {
			checksum = hex.EncodeToString(herr.Sum(nil))
		}
		r.coord.UpdateChunk(seg.Index, func(p *chunk.Progress) {
			p.BytesCompleted = total
			p.Status = chunk.Completed
			p.Retries = attempts
			p.Checksum = checksum
		})
		if r.deps.OnProgress != nil {
			r.deps.OnProgress(r.coord.BytesCompleted(), r.coord.TotalBytes())
		}
		seg.BytesCompleted = total
		seg.Status = models.SegmentCompleted
		_ = r.deps.FileStore.CompleteSegment(ctx, d, seg)
		return nil
	}
}

// writeChunk streams body into the segment's writer a buffer at a time
// rather than in one io.Copy, so Cancel and Pause both have a checkpoint
// every streamBufferSize bytes instead of only once the whole chunk lands.
func (r *LoadRequest) writeChunk(ctx context.Context, d *models.Download, seg models.Segment, body io.ReadCloser, start, end, existing int64) (int64, hash.Hash, error) {
	w, _, err := r.deps.FileStore.OpenSegmentWriter(ctx, d, seg)
	if err != nil {
		return 0, nil, err
	}
	defer w.Close()

	var reader io.Reader = body
	if end >= 0 {
		span := end - start + 1
		if span < 0 {
			span = 0
		}
		reader = io.LimitReader(reader, span)
	}
	if r.opts.File.MaxFileSize > 0 {
		reader = io.LimitReader(reader, r.opts.File.MaxFileSize)
	}

	h := newChecksumHash(r.opts.File.ChecksumType)
	buf := make([]byte, streamBufferSize)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, h, ctx.Err()
		default:
		}
		if r.PauseToken().IsPaused() {
			return written, h, errs.ErrRequestPaused
		}

		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, h, werr
			}
			if h != nil {
				h.Write(buf[:n])
			}
			written += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, h, nil
			}
			return written, h, rerr
		}
	}
}

func newChecksumHash(algorithm string) hash.Hash {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "crc32c":
		return crc32.New(crc32.MakeTable(crc32.Castagnoli))
	default:
		return nil
	}
}

// spanOf estimates how many bytes a rate-limiter reservation should cover:
// the remaining range if the chunk has a fixed end, otherwise whatever is
// left of the known total, falling back to a 1 MiB guess when neither is
// known (an open-ended request against a server that never sent
// Content-Length).
func spanOf(start, end, totalLen int64) int64 {
	if end >= 0 {
		sz := end - start + 1
		if sz < 0 {
			return 0
		}
		return sz
	}
	if totalLen > 0 {
		sz := totalLen - start
		if sz < 0 {
			return 0
		}
		return sz
	}
	return 1 << 20
}

func backoff(policy models.RetryPolicy, attempt int) time.Duration {
	base := policy.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1.5
	}
	delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if policy.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(policy.Jitter)))
	}
	return delay
}
