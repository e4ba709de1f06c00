package service

import (
	"context"
	"time"

	"github.com/squadkarma/karma-node/internal/redis"
)

// CooldownStore guards the per-pair vote cooldown.
type CooldownStore interface {
	// Remaining returns how long the voter must still wait before
	// voting on the target again, or zero if no cooldown is active.
	Remaining(ctx context.Context, voterSteam64, targetSteam64 string) (time.Duration, error)
	Set(ctx context.Context, voterSteam64, targetSteam64 string, ttl time.Duration) error
}

// RateLimiter bounds how many votes a single voter may submit inside a
// sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, steam64 string) (bool, error)
}

type redisCooldownStore struct {
	client *redis.Client
}

func NewCooldownStore(client *redis.Client) CooldownStore {
	return &redisCooldownStore{client: client}
}

func (s *redisCooldownStore) Remaining(ctx context.Context, voterSteam64, targetSteam64 string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, redis.CooldownKey(voterSteam64, targetSteam64)).Result()
	if err != nil {
		return 0, err
	}
	// TTL returns a negative duration when the key is missing or has
	// no expiry.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *redisCooldownStore) Set(ctx context.Context, voterSteam64, targetSteam64 string, ttl time.Duration) error {
	return s.client.Set(ctx, redis.CooldownKey(voterSteam64, targetSteam64), "1", ttl).Err()
}

type redisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &redisRateLimiter{client: client, limit: limit, window: window}
}

// Allow counts the attempt and reports whether it is within the limit.
// The first attempt of a fresh window starts the window.
func (l *redisRateLimiter) Allow(ctx context.Context, steam64 string) (bool, error) {
	key := redis.RateLimitKey(steam64)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.limit), nil
}
