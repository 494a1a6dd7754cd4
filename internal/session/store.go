package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/logger"
)

// Store persists session summaries.
type Store interface {
	Save(ctx context.Context, s Summary) error
	Get(ctx context.Context, id string) (*Summary, error)
	Recent(ctx context.Context, limit int) ([]Summary, error)
}

// NewRedisClient creates a client for the first configured address.
func NewRedisClient(cfg config.StoreConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// RedisStore keeps each summary under its own key with a TTL and indexes
// them in a sorted set by start time.
type RedisStore struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, log logger.Logger, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if prefix == "" {
		prefix = "moqplay:sessions"
	}
	return &RedisStore{
		client: client,
		logger: log,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":recent"
}

// Save stores s and prunes index entries older than the TTL.
func (r *RedisStore) Save(ctx context.Context, s Summary) error {
	if s.SessionID == "" {
		return errors.NewInvalidStateError("summary has no session id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	cutoff := time.Now().Add(-r.ttl).UnixNano()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(s.SessionID), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.StartedAt.UnixNano()), Member: s.SessionID})
		pipe.ZRemRangeByScore(ctx, r.indexKey(), "-inf", fmt.Sprintf("(%d", cutoff))
		pipe.Expire(ctx, r.indexKey(), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.WithField("session_id", s.SessionID).Debug("Session summary saved")
	return nil
}

// Get returns the summary stored for id.
func (r *RedisStore) Get(ctx context.Context, id string) (*Summary, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFoundError("session " + id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Recent returns up to limit summaries, newest first. Index entries whose
// summary has expired are skipped.
func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	out := make([]Summary, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var s Summary
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			r.logger.WithError(err).WithField("session_id", ids[i]).Warn("Skipping unreadable session summary")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// MemoryStore keeps summaries in process. It is used when Redis is disabled.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Summary
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Summary)}
}

func (m *MemoryStore) Save(_ context.Context, s Summary) error {
	if s.SessionID == "" {
		return errors.NewInvalidStateError("summary has no session id")
	}
	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session " + id)
	}
	return &s, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
