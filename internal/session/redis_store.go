package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL is the KV entry lifetime per spec §4.8/§6.5, refreshed on
// every write.
const defaultTTL = 30 * time.Minute

// RedisStore persists Records to a shared KV store, keyed
// "session:{call_id}", for cross-process observability and
// crash-survivability of session identity. It is never consulted by the
// owning pipeline to make decisions — the in-memory Session is the source
// of truth for as long as the call is alive.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisConfig carries the connection parameters for NewRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore dials Redis and verifies connectivity with a Ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return &RedisStore{client: client, ttl: defaultTTL}, nil
}

func (s *RedisStore) key(callID string) string {
	return "session:" + callID
}

// Save writes rec for callID with a fresh TTL, overwriting any prior value.
// Called at every state transition per spec §4.8.
func (s *RedisStore) Save(ctx context.Context, callID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	return s.client.Set(ctx, s.key(callID), data, s.ttl).Err()
}

// Touch refreshes the TTL on an existing entry without changing its value,
// for the "at most every N seconds during activity" cadence.
func (s *RedisStore) Touch(ctx context.Context, callID string) error {
	ok, err := s.client.Expire(ctx, s.key(callID), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	if !ok {
		return fmt.Errorf("session: touch: %w", ErrNotFound)
	}
	return nil
}

// Get reads back the Record for callID.
func (s *RedisStore) Get(ctx context.Context, callID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}
	return &rec, nil
}

// Delete removes the entry for callID. Called on Ended per spec §4.7's
// termination sequence. Deleting an already-absent (e.g. TTL-expired) entry
// is not an error.
func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, s.key(callID)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// Ping checks KV reachability, used by the /health liveness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
