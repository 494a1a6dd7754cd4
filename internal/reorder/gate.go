// Package reorder restores decode order for frames received from the
// transport. Two policies share the Gate contract: StrictGate for streams
// that are already in decode order apart from stale retransmits, and Buffer
// for merged streams where B-frames travel on their own track.
package reorder

import (
	"fmt"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

// Gate consumes frames in arrival order and emits them in non-decreasing DTS
// order. A Gate is used by one pipeline goroutine at a time.
type Gate interface {
	// Push offers one frame and returns the frames that became ready.
	Push(f *media.RawFrame) ([]*media.RawFrame, error)
	// Flush returns every buffered frame in order.
	Flush() ([]*media.RawFrame, error)
	// Stats returns counters since construction.
	Stats() Stats
}

// DropHandler observes frames discarded by a gate.
type DropHandler func(f *media.RawFrame)

// Stats holds gate counters.
type Stats struct {
	FramesIn      uint64
	FramesEmitted uint64
	FramesDropped uint64
	Buffered      int
	MaxBuffered   int
}

// orderTracker remembers the last emitted frame and rejects inversions.
type orderTracker struct {
	last *media.RawFrame
}

func (o *orderTracker) isLate(f *media.RawFrame) bool {
	return o.last != nil && f.DTS < o.last.DTS
}

func (o *orderTracker) isStale(f *media.RawFrame) bool {
	return o.last != nil && f.DTS <= o.last.DTS
}

func (o *orderTracker) emit(f *media.RawFrame) error {
	if o.last != nil && f.DTS < o.last.DTS {
		return errors.NewOrderingViolationError(
			fmt.Sprintf("about to emit %s after %s", f, o.last)).
			WithDetails(map[string]interface{}{
				"dts":      f.DTS,
				"last_dts": o.last.DTS,
				"diff":     f.DTS - o.last.DTS,
			})
	}
	o.last = f
	return nil
}
