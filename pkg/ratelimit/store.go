package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned by a StateStore that holds no quota yet.
var ErrNoSnapshot = errors.New("no rate limit snapshot")

// StateStore persists the last observed search quota so that harvesters
// sharing one token can fall back to it when /rate_limit is unavailable.
type StateStore interface {
	Save(ctx context.Context, q *Quota) error
	Load(ctx context.Context) (*Quota, error)
}

// RedisStore is a StateStore backed by Redis.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. Keys expire after ttl;
// a ttl of 0 keeps them forever.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Save writes the quota atomically.
func (s *RedisStore) Save(ctx context.Context, q *Quota) error {
	lastUpdateJSON, err := json.Marshal(q.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, q.Remaining, s.ttl)
	pipe.Set(ctx, RedisKeyLimit, q.Limit, s.ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, q.ResetAt.Unix(), s.ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit snapshot in redis: %w", err)
	}
	return nil
}

// Load reads the quota back. Returns ErrNoSnapshot if nothing was saved.
func (s *RedisStore) Load(ctx context.Context) (*Quota, error) {
	remaining, err := s.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := s.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := s.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := s.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	q := &Quota{
		Limit:      limit,
		Remaining:  remaining,
		LastUpdate: lastUpdate,
	}
	if resetTimestamp > 0 {
		q.ResetAt = time.Unix(resetTimestamp, 0)
	}
	return q, nil
}
