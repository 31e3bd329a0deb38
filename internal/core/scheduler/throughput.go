package scheduler

import "sync"

const (
	maxSamples       = 20
	minSamplesForAvg = 10
	defaultMBps      = 1.0
)

// throughputTracker keeps a rolling window of the most recent chunk-transfer
// samples (bytes transferred, seconds elapsed) and reports their mean
// megabytes/sec, defaulting to 1 MB/s until enough samples have accumulated
// -- spec.md's auto-parallelism input.
type throughputTracker struct {
	mu      sync.Mutex
	samples []float64 // MB/s, oldest first
}

func newThroughputTracker() *throughputTracker {
	return &throughputTracker{samples: make([]float64, 0, maxSamples)}
}

func (t *throughputTracker) record(bytes int64, seconds float64) {
	if seconds <= 0 {
		return
	}
	mbps := (float64(bytes) / (1 << 20)) / seconds

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == maxSamples {
		t.samples = t.samples[1:]
	}
	t.samples = append(t.samples, mbps)
}

func (t *throughputTracker) meanMBps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) < minSamplesForAvg {
		return defaultMBps
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	return sum / float64(len(t.samples))
}
