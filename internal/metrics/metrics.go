package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Player states as exported on the state gauge.
var playerStates = []string{"paused", "buffering", "playing"}

var (
	// Ingress metrics
	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moqplay_frames_received_total",
		Help: "Total frames received from the transport by class",
	}, []string{"class"})

	bytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moqplay_bytes_received_total",
		Help: "Total frame bytes received from the transport",
	})

	framesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moqplay_frames_dropped_total",
		Help: "Total frames dropped before decode by class and reason",
	}, []string{"class", "reason"})

	reorderBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moqplay_reorder_buffer_frames",
		Help: "Frames currently held in the reorder buffer",
	})

	// Decode metrics
	framesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moqplay_frames_decoded_total",
		Help: "Total pictures produced by the decoder",
	})

	correlationPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moqplay_correlation_pending",
		Help: "Frame metadata entries awaiting their demuxed sample or decoded picture",
	}, []string{"stage"})

	// Presentation metrics
	framesRenderedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moqplay_frames_rendered_total",
		Help: "Total frames handed to the render sink by class",
	}, []string{"class"})

	renderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moqplay_render_latency_milliseconds",
		Help:    "Glass-to-glass latency measured at render time",
		Buckets: prometheus.ExponentialBuckets(10, 1.5, 14), // 10ms to ~2.9s
	})

	presentationBuffer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moqplay_presentation_buffer_milliseconds",
		Help: "Media time currently held in the presentation buffer",
	})

	bufferingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moqplay_buffering_events_total",
		Help: "Total buffering periods by kind",
	}, []string{"kind"})

	bufferingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moqplay_buffering_duration_seconds",
		Help:    "Duration of completed buffering periods",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
	})

	playerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moqplay_player_state",
		Help: "1 for the current player state, 0 otherwise",
	}, []string{"state"})

	// Session and transport metrics
	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moqplay_sessions_total",
		Help: "Total playback sessions started",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moqplay_sessions_active",
		Help: "Playback sessions currently running",
	})

	subscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moqplay_subscriptions_active",
		Help: "Track subscriptions currently open",
	})

	transportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moqplay_transport_errors_total",
		Help: "Total transport errors by operation",
	}, []string{"op"})
)

// RecordFrameReceived counts one received frame and its size.
func RecordFrameReceived(class string, bytes int) {
	framesReceivedTotal.WithLabelValues(class).Inc()
	bytesReceivedTotal.Add(float64(bytes))
}

// RecordFrameDropped counts one frame discarded before decode.
func RecordFrameDropped(class, reason string) {
	framesDroppedTotal.WithLabelValues(class, reason).Inc()
}

// SetReorderBufferDepth sets the number of frames held for reordering.
func SetReorderBufferDepth(n int) {
	reorderBufferDepth.Set(float64(n))
}

// RecordFrameDecoded counts one decoded picture.
func RecordFrameDecoded() {
	framesDecodedTotal.Inc()
}

// SetCorrelationPending sets the pending entry count for a correlation stage
// ("demux" or "decode").
func SetCorrelationPending(stage string, n int) {
	correlationPending.WithLabelValues(stage).Set(float64(n))
}

// RecordFrameRendered counts one rendered frame and observes its latency.
// Negative latency means the availability epoch was unknown and is not observed.
func RecordFrameRendered(class string, latencyMs float64) {
	framesRenderedTotal.WithLabelValues(class).Inc()
	if latencyMs >= 0 {
		renderLatency.Observe(latencyMs)
	}
}

// SetPresentationBuffer sets the buffered media span in milliseconds.
func SetPresentationBuffer(ms float64) {
	presentationBuffer.Set(ms)
}

// RecordBufferingStart counts the start of a buffering period.
func RecordBufferingStart(rebuffering bool) {
	kind := "initial"
	if rebuffering {
		kind = "rebuffer"
	}
	bufferingEventsTotal.WithLabelValues(kind).Inc()
}

// RecordBufferingEnd observes the duration of a completed buffering period.
func RecordBufferingEnd(seconds float64) {
	bufferingDuration.Observe(seconds)
}

// SetPlayerState marks state as current and clears the others.
func SetPlayerState(state string) {
	for _, s := range playerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		playerState.WithLabelValues(s).Set(v)
	}
}

// SessionStarted counts a new playback session.
func SessionStarted() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

// SessionEnded marks a playback session as finished.
func SessionEnded() {
	sessionsActive.Dec()
}

// SubscriptionOpened counts an open track subscription.
func SubscriptionOpened() {
	subscriptionsActive.Inc()
}

// SubscriptionClosed removes an open track subscription.
func SubscriptionClosed() {
	subscriptionsActive.Dec()
}

// IncrementTransportError counts a transport failure for op
// ("dial", "subscribe", "read", "unsubscribe").
func IncrementTransportError(op string) {
	transportErrorsTotal.WithLabelValues(op).Inc()
}
