package reorder

import (
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
)

// StrictGate forwards frames immediately and drops any frame, whatever its
// class, whose DTS is not ahead of the last forwarded frame. Such frames are
// duplicates or leftovers of a GOP that was superseded after a re-join; a
// single-track stream never carries two frames with the same DTS.
type StrictGate struct {
	order  orderTracker
	onDrop DropHandler
	stats  Stats
	logger logger.Logger
}

// NewStrictGate creates a gate. onDrop may be nil.
func NewStrictGate(onDrop DropHandler, log logger.Logger) *StrictGate {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &StrictGate{
		onDrop: onDrop,
		logger: log.WithField("component", "strict_gate"),
	}
}

// Push implements Gate.
func (g *StrictGate) Push(f *media.RawFrame) ([]*media.RawFrame, error) {
	g.stats.FramesIn++

	if g.order.isStale(f) {
		g.stats.FramesDropped++
		g.logger.WithFields(map[string]interface{}{
			"class":    f.Class.String(),
			"dts":      f.DTS,
			"last_dts": g.order.last.DTS,
		}).Debug("Dropping late frame")
		if g.onDrop != nil {
			g.onDrop(f)
		}
		return nil, nil
	}

	if err := g.order.emit(f); err != nil {
		return nil, err
	}
	g.stats.FramesEmitted++
	return []*media.RawFrame{f}, nil
}

// Flush implements Gate. A StrictGate never holds frames.
func (g *StrictGate) Flush() ([]*media.RawFrame, error) {
	return nil, nil
}

// Stats implements Gate.
func (g *StrictGate) Stats() Stats {
	return g.stats
}
