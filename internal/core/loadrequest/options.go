package loadrequest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvidae/fetchmux/internal/errs"
	"github.com/corvidae/fetchmux/internal/models"
)

// Options configures one LoadRequest. It is the CORE-level counterpart of
// the teacher's models.RequestOptions/models.DownloadConfig/models.FileOptions
// trio, collapsed into the single struct LoadRequest actually needs to run.
type Options struct {
	ID       string
	Priority int

	Request models.RequestOptions
	Config  models.DownloadConfig
	File    models.FileOptions

	QueueName string
	Tags      []string

	// ChunkCount overrides the planner's connection count when > 0.
	ChunkCount int

	// ResumeIfExists, when true, reuses an existing ChunkCoordinator/on-disk
	// .part files for this ID instead of replanning from scratch.
	ResumeIfExists bool

	Deadline time.Duration
}

func (o Options) retryPolicy() models.RetryPolicy {
	if o.Config.Retry.MaxRetries > 0 || o.Config.Retry.RetryDelay > 0 {
		return o.Config.Retry
	}
	return models.RetryPolicy{MaxRetries: 3, RetryDelay: time.Second, BackoffFactor: 1.5}
}

// normalize checks the File.Range/Mode/ExcludedExtensions combination
// before New() commits to a HEAD probe or any filesystem work, applying the
// Append+range.start -> Create promotion: appending onto an existing output
// file makes no sense once the caller has pinned an explicit starting
// offset, so that combination is treated as Create instead.
func (o Options) normalize() (Options, error) {
	if rng := o.File.Range; rng != nil {
		if rng.Start < 0 || rng.End <= rng.Start {
			return o, fmt.Errorf("%w: file.range requires 0 <= start < end", errs.ErrValidation)
		}
		if o.File.Mode == models.ModeAppend && rng.Start > 0 {
			o.File.Mode = models.ModeCreate
		}
	}
	if o.File.Filename != "" && extensionExcluded(o.File.Filename, o.File.ExcludedExtensions) {
		return o, fmt.Errorf("%w: file extension of %q is excluded", errs.ErrValidation, o.File.Filename)
	}
	return o, nil
}

// extensionExcluded reports whether filename's extension (case-insensitive,
// leading dot optional in list entries) appears in excluded.
func extensionExcluded(filename string, excluded []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, e := range excluded {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}
