// Package chunk implements ChunkCoordinator, the shared state a set of
// sibling LoadRequests (one per byte range of the same logical download)
// use to track progress and gate the final merge. Coordinators are held in
// a package-level registry keyed by download ID, through which a sibling
// finds its coordinator when it starts running; each request then keeps a
// pointer to the coordinator, and the coordinator keeps the request list
// passed to SetRequests. Evict drops the registry entry once the download
// reaches a terminal state.
//
// The per-chunk fields mirror the teacher's models.Segment
// (internal/models/models.go), generalized from "segment of one download"
// to "chunk tracked by a coordinator shared across sibling requests".
package chunk

import (
	"sync"
	"sync/atomic"

	"github.com/corvidae/fetchmux/internal/core/request"
)

// Status is the state of one chunk, independent of the owning LoadRequest's
// own Request state.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Progress is one chunk's tracked state.
type Progress struct {
	Index          int
	Start          int64
	End            int64 // -1 means "to end of content"
	BytesCompleted int64
	Status         Status
	Retries        int
	Checksum       string
	TempPath       string
}

// Coordinator is the shared state for one logical download split into N
// chunks. The request that calls New owns the coordinator; only it may
// win BeginMerge.
type Coordinator struct {
	downloadID string
	ownerID    string

	mu       sync.Mutex
	chunks   []Progress
	requests []request.Request // index-aligned with chunks; index 0 is the owner
	total    int64
	copying  int32 // CAS-guarded: 0 = idle, 1 = merge in progress or done
	mergedOK bool
	recycled int32 // CAS-guarded: 0 = idle, 1 = a single-stream recycle has been claimed
}

var registry sync.Map // downloadID -> *Coordinator

// New creates a Coordinator for downloadID owned by ownerID (the LoadRequest
// that performed the HEAD probe and planned the chunks), registers it, and
// returns it. Calling New again for the same downloadID replaces the prior
// entry -- used when a download is retried from scratch.
func New(downloadID, ownerID string, chunks []Progress, totalBytes int64) *Coordinator {
	c := &Coordinator{
		downloadID: downloadID,
		ownerID:    ownerID,
		chunks:     chunks,
		total:      totalBytes,
	}
	registry.Store(downloadID, c)
	return c
}

// Lookup returns the registered coordinator for downloadID, if any.
func Lookup(downloadID string) (*Coordinator, bool) {
	v, ok := registry.Load(downloadID)
	if !ok {
		return nil, false
	}
	return v.(*Coordinator), true
}

// Evict removes downloadID's coordinator from the registry. Called once the
// owning LoadRequest reaches a terminal state.
func Evict(downloadID string) {
	registry.Delete(downloadID)
}

// OwnerID returns the request ID allowed to win BeginMerge.
func (c *Coordinator) OwnerID() string { return c.ownerID }

// SetRequests registers the sibling LoadRequests backing each chunk,
// index-aligned with the Progress slice passed to New. Called once the
// owner has actually constructed its N-1 siblings; a coordinator built
// through a resumed session may never call this if it recycles into a
// single-stream download instead.
func (c *Coordinator) SetRequests(requests []request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = requests
}

// Requests returns the registered sibling requests, or nil if SetRequests
// was never called (single-segment downloads have no siblings to track).
func (c *Coordinator) Requests() []request.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]request.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// UpdateChunk records progress for the chunk at index, under the
// coordinator's lock so concurrent siblings never interleave a partial
// write.
func (c *Coordinator) UpdateChunk(index int, mutate func(*Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(&c.chunks[index])
}

// Chunk returns a copy of the chunk at index.
func (c *Coordinator) Chunk(index int) Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks[index]
}

// Chunks returns a copy of every chunk's current progress.
func (c *Coordinator) Chunks() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Progress, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// AllCompleted reports whether every chunk has reached Completed.
func (c *Coordinator) AllCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chunks {
		if ch.Status != Completed {
			return false
		}
	}
	return true
}

// BytesCompleted sums progress across every chunk.
func (c *Coordinator) BytesCompleted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum int64
	for _, ch := range c.chunks {
		sum += ch.BytesCompleted
	}
	return sum
}

// TotalBytes returns the total content length, or 0 if unknown.
func (c *Coordinator) TotalBytes() int64 { return c.total }

// BeginMerge performs the is_copying compare-and-swap: only one caller
// across all siblings ever transitions 0->1 and receives ok=true. Callers
// that lose the race (ok=false) must not attempt the merge themselves.
// requesterID must equal the coordinator's ownerID: merges are root-only.
func (c *Coordinator) BeginMerge(requesterID string) (ok bool, isOwner bool) {
	if requesterID != c.ownerID {
		return false, false
	}
	return atomic.CompareAndSwapInt32(&c.copying, 0, 1), true
}

// FinishMerge records the merge outcome. Every call overwrites the recorded
// outcome, whether or not the caller won BeginMerge.
func (c *Coordinator) FinishMerge(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergedOK = ok
}

// Merged reports whether a completed merge succeeded.
func (c *Coordinator) Merged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergedOK
}

// BeginRecycle performs the compare-and-swap that lets exactly one chunk --
// whichever's in-flight GET first comes back 416 Range Not Satisfiable --
// claim the right to recycle the whole download into a single unchunked
// stream. Callers that lose the race must not attempt the recycle
// themselves; unless they are the owner, they are about to be cancelled
// by the winner.
func (c *Coordinator) BeginRecycle() bool {
	return atomic.CompareAndSwapInt32(&c.recycled, 0, 1)
}

// CancelOthers cancels every registered sibling except exceptID and the
// owner, used by the winner of BeginRecycle to tear down the other in-flight
// chunks. The owner is left running: it collects every sibling's result and
// performs the single-stream restart itself.
func (c *Coordinator) CancelOthers(exceptID string, reason error) {
	for _, req := range c.Requests() {
		if req.ID() != exceptID && req.ID() != c.ownerID {
			req.Cancel(reason)
		}
	}
}
