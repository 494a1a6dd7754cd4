package reorder

import (
	"fmt"
	"sort"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
)

// DefaultFrameDuration is the frame duration, in timescale units, of the
// streams this player was built against (25 fps at 12800 Hz).
const DefaultFrameDuration = 512

// BufferConfig configures a reorder Buffer.
type BufferConfig struct {
	// Window is the DTS span, in timescale units, held before frames are
	// forced out.
	Window int64
	// FrameDuration is the DTS step between consecutive frames. A B-frame
	// exactly one step after the last emitted frame cannot be preceded by
	// anything still in flight.
	FrameDuration int64
	OnDrop        DropHandler
}

// WindowUnits converts a reorder window in milliseconds to timescale units.
func WindowUnits(windowMs int64, timescale uint32) int64 {
	return media.UnitsForDuration(windowMs, timescale)
}

// Buffer is a bounded reorder buffer for a stream whose I/P frames arrive in
// decode order on one track and whose B-frames arrive on another. I/P frames
// are never dropped; a B-frame arriving behind the last emitted frame is.
type Buffer struct {
	window        int64
	frameDuration int64
	onDrop        DropHandler

	frames []*media.RawFrame // sorted by DTS, ties in arrival order
	order  orderTracker
	stats  Stats
	logger logger.Logger
}

// NewBuffer creates a reorder buffer.
func NewBuffer(cfg BufferConfig, log logger.Logger) *Buffer {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Buffer{
		window:        cfg.Window,
		frameDuration: cfg.FrameDuration,
		onDrop:        cfg.OnDrop,
		logger:        log.WithField("component", "reorder_buffer"),
	}
}

// Push implements Gate.
func (b *Buffer) Push(f *media.RawFrame) ([]*media.RawFrame, error) {
	b.stats.FramesIn++

	if b.order.isLate(f) {
		if !f.Class.IsDroppable() {
			return nil, errors.NewOrderingViolationError(
				fmt.Sprintf("%s arrived behind emitted %s", f, b.order.last))
		}
		b.stats.FramesDropped++
		b.logger.WithFields(map[string]interface{}{
			"dts":      f.DTS,
			"last_dts": b.order.last.DTS,
		}).Debug("Dropping late B-frame")
		if b.onDrop != nil {
			b.onDrop(f)
		}
		return nil, nil
	}

	b.insert(f)

	var out []*media.RawFrame
	for b.span() > b.window {
		head := b.frames[0]
		if head.Class.IsDroppable() && b.order.last != nil && head.DTS != b.order.last.DTS+b.frameDuration {
			// The head B-frame is early. It is safe to emit only when an I/P
			// frame is buffered behind the run of B-frames it starts, since
			// I/P frames arrive in order and none can still precede it.
			i := 1
			for i < len(b.frames) && b.frames[i].Class.IsDroppable() {
				i++
			}
			if i == len(b.frames) {
				break
			}
		}

		next, err := b.emitHead()
		if err != nil {
			return out, err
		}
		out = append(out, next)
	}

	return out, nil
}

// Flush implements Gate.
func (b *Buffer) Flush() ([]*media.RawFrame, error) {
	out := make([]*media.RawFrame, 0, len(b.frames))
	for len(b.frames) > 0 {
		next, err := b.emitHead()
		if err != nil {
			return out, err
		}
		out = append(out, next)
	}
	return out, nil
}

// Stats implements Gate.
func (b *Buffer) Stats() Stats {
	s := b.stats
	s.Buffered = len(b.frames)
	return s
}

func (b *Buffer) insert(f *media.RawFrame) {
	i := sort.Search(len(b.frames), func(i int) bool { return b.frames[i].DTS > f.DTS })
	b.frames = append(b.frames, nil)
	copy(b.frames[i+1:], b.frames[i:])
	b.frames[i] = f

	if len(b.frames) > b.stats.MaxBuffered {
		b.stats.MaxBuffered = len(b.frames)
	}
}

func (b *Buffer) span() int64 {
	if len(b.frames) == 0 {
		return 0
	}
	return b.frames[len(b.frames)-1].DTS - b.frames[0].DTS
}

func (b *Buffer) emitHead() (*media.RawFrame, error) {
	next := b.frames[0]
	if err := b.order.emit(next); err != nil {
		return nil, err
	}
	b.frames[0] = nil
	b.frames = b.frames[1:]
	b.stats.FramesEmitted++
	return next, nil
}
