package session

import (
	"sort"
	"time"

	"github.com/zsiec/moqplay/internal/media"
)

// Summary aggregates the logs of one session.
type Summary struct {
	SessionID            string         `json:"session_id"`
	StartedAt            time.Time      `json:"started_at"`
	EndedAt              time.Time      `json:"ended_at,omitempty"`
	AvgLatencyMs         float64        `json:"avg_latency_ms"`
	AvgBufferingMs       float64        `json:"avg_buffering_ms"`
	TotalBufferingEvents int            `json:"total_buffering_events"`
	TotalReceivedKbits   float64        `json:"total_received_kbits"`
	AvgReceivedKbps      float64        `json:"avg_received_kbps"`
	FramesReceivedByType map[string]int `json:"frames_received_by_type"`
	TotalFramesDropped   int            `json:"total_frames_dropped"`
	FramesExtracted      int            `json:"frames_extracted"`
	FramesDecoded        int            `json:"frames_decoded"`
	FramesRendered       int            `json:"frames_rendered"`
}

// Summarize computes the session summary. Buffering time is the sum of
// start-to-end intervals divided by the number of buffering starts; an
// unterminated buffering period counts as an event without duration.
func Summarize(logs Logs) Summary {
	s := Summary{
		SessionID:            logs.SessionID,
		StartedAt:            logs.StartedAt,
		EndedAt:              logs.EndedAt,
		FramesReceivedByType: make(map[string]int),
		TotalFramesDropped:   len(logs.FramesDropped),
		FramesExtracted:      len(logs.FramesExtracted),
		FramesDecoded:        len(logs.FramesDecoded),
		FramesRendered:       len(logs.Rendered),
	}

	if len(logs.Rendered) > 0 {
		var sum float64
		for _, r := range logs.Rendered {
			sum += r.LatencyMs
		}
		s.AvgLatencyMs = sum / float64(len(logs.Rendered))
	}

	var total time.Duration
	var start time.Time
	for _, ev := range logs.BufferingEvents {
		switch ev.Type {
		case BufferingStart:
			start = ev.Timestamp
			s.TotalBufferingEvents++
		case BufferingEnd:
			if !start.IsZero() {
				total += ev.Timestamp.Sub(start)
				start = time.Time{}
			}
		}
	}
	if s.TotalBufferingEvents > 0 {
		s.AvgBufferingMs = float64(total.Microseconds()) / 1000 / float64(s.TotalBufferingEvents)
	}

	var bytes int
	for _, m := range logs.MediaReceived {
		bytes += m.PayloadSize
		s.FramesReceivedByType[m.Class.String()]++
	}
	s.TotalReceivedKbits = float64(bytes*8) / 1000

	if n := len(logs.MediaReceived); n > 1 {
		d := logs.MediaReceived[n-1].ReceivedAt.Sub(logs.MediaReceived[0].ReceivedAt).Seconds()
		if d > 0 {
			s.AvgReceivedKbps = s.TotalReceivedKbits / d
		}
	}

	return s
}

// BitratePoint is the amount of media received during one wall-clock second.
type BitratePoint struct {
	Second int64   `json:"second"` // unix seconds
	Kbits  float64 `json:"kbits"`
}

// ReceivedBitrate groups received payloads by the second they arrived in.
func ReceivedBitrate(received []ReceivedEntry) []BitratePoint {
	perSecond := make(map[int64]int)
	for _, r := range received {
		perSecond[r.ReceivedAt.Unix()] += r.PayloadSize
	}

	points := make([]BitratePoint, 0, len(perSecond))
	for sec, b := range perSecond {
		points = append(points, BitratePoint{Second: sec, Kbits: float64(b*8) / 1000})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Second < points[j].Second })
	return points
}

// ReceivedByClass counts received frames of class c.
func (s Summary) ReceivedByClass(c media.FrameClass) int {
	return s.FramesReceivedByType[c.String()]
}
