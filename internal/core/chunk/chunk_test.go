package chunk

import (
	"context"
	"sync"
	"testing"

	"github.com/corvidae/fetchmux/internal/core/request"
)

type fakeSibling struct{ *request.Base }

func newFakeSibling(id string) fakeSibling { return fakeSibling{request.NewBase(id, 0)} }
func (fakeSibling) Run(ctx context.Context) error { return nil }

func newTestChunks(n int) []Progress {
	chunks := make([]Progress, n)
	for i := range chunks {
		chunks[i] = Progress{Index: i, Status: Pending}
	}
	return chunks
}

func TestCoordinator_RegistryLookupAndEvict(t *testing.T) {
	c := New("dl-1", "req-1", newTestChunks(2), 1000)
	got, ok := Lookup("dl-1")
	if !ok || got != c {
		t.Fatalf("Lookup() = %v, %v, want %v, true", got, ok, c)
	}
	Evict("dl-1")
	if _, ok := Lookup("dl-1"); ok {
		t.Error("Lookup() after Evict() should not find the coordinator")
	}
}

func TestCoordinator_MergeIsRootOnly(t *testing.T) {
	c := New("dl-2", "owner", newTestChunks(1), 100)

	if ok, isOwner := c.BeginMerge("someone-else"); ok || isOwner {
		t.Errorf("BeginMerge(non-owner) = %v, %v, want false, false", ok, isOwner)
	}
	ok, isOwner := c.BeginMerge("owner")
	if !ok || !isOwner {
		t.Fatalf("BeginMerge(owner) = %v, %v, want true, true", ok, isOwner)
	}
}

func TestCoordinator_MergeRunsAtMostOnce(t *testing.T) {
	c := New("dl-3", "owner", newTestChunks(1), 100)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan bool, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			ok, _ := c.BeginMerge("owner")
			successes <- ok
		}()
	}
	wg.Wait()
	close(successes)

	wins := 0
	for ok := range successes {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("BeginMerge() succeeded %d times concurrently, want exactly 1", wins)
	}
}

func TestCoordinator_UpdateChunkAndAggregation(t *testing.T) {
	c := New("dl-4", "owner", newTestChunks(3), 300)
	for i := 0; i < 3; i++ {
		i := i
		c.UpdateChunk(i, func(p *Progress) {
			p.BytesCompleted = 100
			p.Status = Completed
		})
	}
	if !c.AllCompleted() {
		t.Error("AllCompleted() = false, want true")
	}
	if got := c.BytesCompleted(); got != 300 {
		t.Errorf("BytesCompleted() = %d, want 300", got)
	}
}

func TestCoordinator_RequestsRoundTripsSiblingReferences(t *testing.T) {
	c := New("dl-6", "owner", newTestChunks(3), 300)
	root := newFakeSibling("owner")
	sib1 := newFakeSibling("owner#1")
	sib2 := newFakeSibling("owner#2")
	c.SetRequests([]request.Request{root, sib1, sib2})

	got := c.Requests()
	if len(got) != 3 {
		t.Fatalf("Requests() len = %d, want 3", len(got))
	}
	if got[0].ID() != "owner" || got[1].ID() != "owner#1" || got[2].ID() != "owner#2" {
		t.Errorf("Requests() = %v, want index-aligned [owner owner#1 owner#2]", got)
	}
}

func TestCoordinator_AllCompletedFalseUntilEveryChunkDone(t *testing.T) {
	c := New("dl-5", "owner", newTestChunks(2), 200)
	c.UpdateChunk(0, func(p *Progress) { p.Status = Completed })
	if c.AllCompleted() {
		t.Error("AllCompleted() = true before every chunk finished")
	}
	c.UpdateChunk(1, func(p *Progress) { p.Status = Completed })
	if !c.AllCompleted() {
		t.Error("AllCompleted() = false after every chunk finished")
	}
}
