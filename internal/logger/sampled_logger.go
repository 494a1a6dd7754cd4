package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Categories for per-frame log lines that would otherwise flood the output.
const (
	CategoryFrameDropped  = "frame_dropped"
	CategoryFrameRendered = "frame_rendered"
	CategoryFrameReceived = "frame_received"
)

// SampledLogger rate limits log lines per category. Categories without a
// configured limiter are always logged.
type SampledLogger struct {
	base Logger

	mu       sync.RWMutex
	samplers map[string]*logSampler
}

type logSampler struct {
	limiter    *rate.Limiter
	suppressed int64 // lines dropped since the last emitted one (atomic)
	total      int64 // atomic
}

// NewSampledLogger creates a new sampled logger
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*logSampler),
	}
}

// WithSampler allows at most one line per interval for category, with an
// initial burst.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	s.samplers[category] = &logSampler{limiter: rate.NewLimiter(limit, burst)}
	return s
}

// Log emits msg under category if the category's limiter allows it. Emitted
// lines carry the number of lines suppressed since the previous one.
func (s *SampledLogger) Log(level logrus.Level, category string, msg string, fields map[string]interface{}) {
	s.mu.RLock()
	sampler, ok := s.samplers[category]
	s.mu.RUnlock()

	if !ok {
		s.base.WithFields(fields).Log(level, msg)
		return
	}

	atomic.AddInt64(&sampler.total, 1)
	if !sampler.limiter.Allow() {
		atomic.AddInt64(&sampler.suppressed, 1)
		return
	}

	if suppressed := atomic.SwapInt64(&sampler.suppressed, 0); suppressed > 0 {
		if fields == nil {
			fields = make(map[string]interface{}, 1)
		}
		fields["suppressed"] = suppressed
	}
	s.base.WithFields(fields).Log(level, msg)
}

// Stats returns total and currently suppressed line counts for category.
func (s *SampledLogger) Stats(category string) (total, suppressed int64) {
	s.mu.RLock()
	sampler, ok := s.samplers[category]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return atomic.LoadInt64(&sampler.total), atomic.LoadInt64(&sampler.suppressed)
}

// Base returns the unsampled logger.
func (s *SampledLogger) Base() Logger {
	return s.base
}
