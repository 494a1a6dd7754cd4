// Package session records what happened during one playback session and
// aggregates it into a summary.
package session

import (
	"sync"
	"time"

	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/metrics"
)

// BufferingEventType distinguishes the two buffering transitions.
type BufferingEventType string

const (
	BufferingStart BufferingEventType = "bufferingStart"
	BufferingEnd   BufferingEventType = "bufferingEnd"
)

// ReceivedEntry is one frame as it arrived from the transport.
type ReceivedEntry struct {
	PayloadSize int              `json:"payload_size"`
	ReceivedAt  time.Time        `json:"received_at"`
	Class       media.FrameClass `json:"frame_class"`
}

// RenderedEntry is one frame handed to the render sink.
type RenderedEntry struct {
	PresentationTimeMs float64          `json:"presentation_time_ms"`
	Class              media.FrameClass `json:"frame_class"`
	LatencyMs          float64          `json:"latency_ms"`
}

// BufferingEntry is one buffering transition.
type BufferingEntry struct {
	Type      BufferingEventType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// DroppedEntry is one frame discarded by the reorder stage.
type DroppedEntry struct {
	Class media.FrameClass `json:"frame_class"`
	DTS   int64            `json:"dts"`
}

// Logs is the raw event record of a session.
type Logs struct {
	SessionID       string            `json:"session_id"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at,omitempty"`
	MediaReceived   []ReceivedEntry   `json:"media_received"`
	Rendered        []RenderedEntry   `json:"rendered"`
	BufferingEvents []BufferingEntry  `json:"buffering_events"`
	FramesDropped   []DroppedEntry    `json:"frames_dropped"`
	FramesExtracted []media.FrameInfo `json:"frames_extracted"`
	FramesDecoded   []media.FrameInfo `json:"frames_decoded"`
}

// Recorder collects session logs between StartSession and EndSession and
// mirrors every event into the process metrics. Events outside a session
// only reach the metrics.
type Recorder struct {
	mu      sync.Mutex
	now     func() time.Time
	enabled bool
	logs    *Logs
}

// NewRecorder creates a recorder. now may be nil to use the wall clock.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// StartSession discards previous logs and starts recording under id.
func (r *Recorder) StartSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = true
	r.logs = &Logs{SessionID: id, StartedAt: r.now()}
	metrics.SessionStarted()
}

// EndSession stops recording. The logs remain readable.
func (r *Recorder) EndSession() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	r.enabled = false
	r.logs.EndedAt = r.now()
	metrics.SessionEnded()
}

// Active reports whether a session is being recorded.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Logs returns a copy of the current session's logs, or false if no session
// was ever started.
func (r *Recorder) Logs() (Logs, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logs == nil {
		return Logs{}, false
	}
	l := *r.logs
	l.MediaReceived = append([]ReceivedEntry(nil), r.logs.MediaReceived...)
	l.Rendered = append([]RenderedEntry(nil), r.logs.Rendered...)
	l.BufferingEvents = append([]BufferingEntry(nil), r.logs.BufferingEvents...)
	l.FramesDropped = append([]DroppedEntry(nil), r.logs.FramesDropped...)
	l.FramesExtracted = append([]media.FrameInfo(nil), r.logs.FramesExtracted...)
	l.FramesDecoded = append([]media.FrameInfo(nil), r.logs.FramesDecoded...)
	return l, true
}

// FrameReceived records a frame parsed from the transport.
func (r *Recorder) FrameReceived(f *media.RawFrame) {
	metrics.RecordFrameReceived(f.Class.String(), len(f.Payload))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.MediaReceived = append(r.logs.MediaReceived, ReceivedEntry{
			PayloadSize: len(f.Payload),
			ReceivedAt:  r.now(),
			Class:       f.Class,
		})
	}
}

// FrameDropped records a frame discarded as late.
func (r *Recorder) FrameDropped(f *media.RawFrame) {
	metrics.RecordFrameDropped(f.Class.String(), "late")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.FramesDropped = append(r.logs.FramesDropped, DroppedEntry{Class: f.Class, DTS: f.DTS})
	}
}

// FrameExtracted records a sample produced by the demuxer.
func (r *Recorder) FrameExtracted(info media.FrameInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.FramesExtracted = append(r.logs.FramesExtracted, info)
	}
}

// FrameDecoded records a picture matched to its frame.
func (r *Recorder) FrameDecoded(info media.FrameInfo) {
	metrics.RecordFrameDecoded()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.FramesDecoded = append(r.logs.FramesDecoded, info)
	}
}

// FrameRendered records a rendered frame with its presentation time in
// microseconds and its latency.
func (r *Recorder) FrameRendered(class media.FrameClass, mediaTimeMicros int64, latencyMs float64) {
	metrics.RecordFrameRendered(class.String(), latencyMs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.Rendered = append(r.logs.Rendered, RenderedEntry{
			PresentationTimeMs: float64(mediaTimeMicros) / 1000,
			Class:              class,
			LatencyMs:          latencyMs,
		})
	}
}

// BufferingStarted records entry into the buffering state.
func (r *Recorder) BufferingStarted(at time.Time, rebuffering bool) {
	metrics.RecordBufferingStart(rebuffering)
	r.buffering(BufferingStart, at)
}

// BufferingEnded records the end of a buffering period that began at since.
func (r *Recorder) BufferingEnded(at, since time.Time) {
	if !since.IsZero() {
		metrics.RecordBufferingEnd(at.Sub(since).Seconds())
	}
	r.buffering(BufferingEnd, at)
}

func (r *Recorder) buffering(t BufferingEventType, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.logs.BufferingEvents = append(r.logs.BufferingEvents, BufferingEntry{Type: t, Timestamp: at})
	}
}
