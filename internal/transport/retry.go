package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/zsiec/moqplay/internal/logger"
)

// Backoff yields the delays between connection attempts.
type Backoff interface {
	// NextDelay returns the next delay and whether another attempt is allowed.
	NextDelay() (time.Duration, bool)
	Reset()
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to
// MaxDelay, with ±20% jitter. MaxRetries <= 0 retries forever.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int

	mu      sync.Mutex
	current time.Duration
	retries int
	jitter  func() float64
}

// NewExponentialBackoff creates an exponential backoff.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		MaxRetries:   maxRetries,
		current:      initial,
		jitter:       rand.Float64,
	}
}

// NextDelay implements Backoff.
func (e *ExponentialBackoff) NextDelay() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.MaxRetries > 0 && e.retries >= e.MaxRetries {
		return 0, false
	}

	delay := time.Duration(float64(e.current) * (0.8 + 0.4*e.jitter()))

	e.current = time.Duration(float64(e.current) * e.Multiplier)
	if e.current > e.MaxDelay {
		e.current = e.MaxDelay
	}
	e.retries++
	return delay, true
}

// Reset implements Backoff.
func (e *ExponentialBackoff) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = e.InitialDelay
	e.retries = 0
}

// Retry calls connect until it succeeds, the backoff gives up or ctx is
// done. It returns the last connect error, or ctx's error.
func Retry[T any](ctx context.Context, b Backoff, log logger.Logger, connect func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := connect(ctx)
		if err == nil {
			b.Reset()
			return v, nil
		}
		if ctx.Err() != nil {
			return v, ctx.Err()
		}

		delay, ok := b.NextDelay()
		if !ok {
			log.WithError(err).WithField("attempts", attempt).Error("Giving up connecting")
			return v, err
		}
		log.WithError(err).WithFields(map[string]interface{}{
			"attempt":  attempt,
			"retry_in": delay.String(),
		}).Warn("Connection failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
