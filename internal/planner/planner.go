// Package planner implements models.SegmentPlanner: turning one
// Download's content length and range-support flag into the list of
// byte-range Segments its LoadRequest will fetch, either as a single
// stream or in parallel.
package planner

import (
	"context"

	"github.com/corvidae/fetchmux/internal/models"
)

// defaultConnections is used when a Download's Config has no explicit
// MaxConnections.
const defaultConnections = 4

// minSegmentBytes is the smallest segment EvenSplitPlanner will create. A
// file just over the connection count in size would otherwise be split
// into segments a few bytes wide, spending more HTTP overhead than the
// parallelism is worth.
const minSegmentBytes = 64 * 1024

// EvenSplitPlanner divides a Download's byte range into equal-sized
// segments, one per connection, falling back to a single segment when the
// server doesn't advertise range support or the file is too small to be
// worth splitting.
type EvenSplitPlanner struct{}

func (EvenSplitPlanner) Plan(ctx context.Context, d *models.Download, contentLength int64, acceptRanges bool) ([]models.Segment, error) {
	if !acceptRanges || contentLength <= 0 {
		return singleSegment(d), nil
	}

	conns := defaultConnections
	if d.Config != nil && d.Config.MaxConnections > 0 {
		conns = d.Config.MaxConnections
	}
	if contentLength/int64(conns) < minSegmentBytes {
		conns = int(contentLength / minSegmentBytes)
		if conns < 1 {
			conns = 1
		}
	}

	segments := make([]models.Segment, conns)
	each := contentLength / int64(conns)
	for i := 0; i < conns; i++ {
		start := each * int64(i)
		end := each*int64(i+1) - 1
		if i == conns-1 {
			end = contentLength - 1
		}
		segments[i] = models.Segment{Index: i, DownloadID: d.ID, Status: models.SegmentPending, Start: start, End: end}
	}
	return segments, nil
}

func singleSegment(d *models.Download) []models.Segment {
	return []models.Segment{{Index: 0, DownloadID: d.ID, Status: models.SegmentPending, Start: 0, End: -1}}
}
