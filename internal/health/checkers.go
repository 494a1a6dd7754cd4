package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks the session store's Redis connection.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name returns the name of the checker.
func (r *RedisChecker) Name() string {
	return "session_store"
}

// Check pings Redis. An unreachable store only loses session summaries, so
// the failure is reported as degraded.
func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping failed: %v", ErrDegraded, err)
	}
	return nil
}

// Closer is anything that signals termination through a Done channel, such
// as a relay session.
type Closer interface {
	Done() <-chan struct{}
}

// SessionChecker reports the relay session as down once it has closed.
type SessionChecker struct {
	session Closer
}

// NewSessionChecker creates a checker for a relay session.
func NewSessionChecker(session Closer) *SessionChecker {
	return &SessionChecker{session: session}
}

// Name returns the name of the checker.
func (s *SessionChecker) Name() string {
	return "relay_session"
}

// Check fails once the session is closed.
func (s *SessionChecker) Check(ctx context.Context) error {
	select {
	case <-s.session.Done():
		return fmt.Errorf("relay session closed")
	default:
		return nil
	}
}

// PlaybackChecker reports the player's pacing state. A stall (buffering
// after playback already started) degrades the service; a paused player is
// healthy.
type PlaybackChecker struct {
	state func() (state string, stalled bool)
}

// NewPlaybackChecker creates a checker over a state snapshot function.
func NewPlaybackChecker(state func() (state string, stalled bool)) *PlaybackChecker {
	return &PlaybackChecker{state: state}
}

// Name returns the name of the checker.
func (p *PlaybackChecker) Name() string {
	return "playback"
}

// Check reports degraded while the player is stalled.
func (p *PlaybackChecker) Check(ctx context.Context) error {
	state, stalled := p.state()
	if stalled {
		return fmt.Errorf("%w: player is %s", ErrDegraded, state)
	}
	return nil
}
