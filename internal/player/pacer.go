package player

import (
	"time"

	"github.com/zsiec/moqplay/internal/media"
)

// pacer maps media time onto the local clock relative to an anchor taken at
// the first frame after every reset.
type pacer struct {
	// gopJump is the PTS gap, in track units, past which the next frame is
	// treated as the start of a newer GOP and shown at once. Zero disables it.
	gopJump int64

	anchored    bool
	anchorLocal time.Time
	anchorMedia int64 // µs

	hasLast bool
	lastPTS int64
}

func (p *pacer) reset() {
	p.anchored = false
}

// delay returns how long to wait before rendering f at now.
func (p *pacer) delay(f *media.Frame, now time.Time) time.Duration {
	if !p.anchored {
		p.anchor(f, now)
	}

	if p.gopJump > 0 && p.hasLast && f.PTS > p.lastPTS+p.gopJump {
		p.anchor(f, now)
		return 0
	}

	elapsed := time.Duration(f.MediaTime()-p.anchorMedia) * time.Microsecond
	d := elapsed - now.Sub(p.anchorLocal)
	if d < 0 {
		return 0
	}
	return d
}

func (p *pacer) anchor(f *media.Frame, now time.Time) {
	p.anchored = true
	p.anchorLocal = now
	p.anchorMedia = f.MediaTime()
}

func (p *pacer) rendered(f *media.Frame) {
	p.hasLast = true
	p.lastPTS = f.PTS
}
