// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
)

// # Login Throttling

// LoginThrottle counts failed logins per key (the normalised email) inside a
// fixed window and blocks further attempts once the budget is spent.
type LoginThrottle interface {
	// Check returns a positive retry-after when the key is currently blocked.
	Check(context context.Context, key string) (time.Duration, error)

	// Fail records one failed attempt.
	Fail(context context.Context, key string) error

	// Reset forgets every failure recorded for the key.
	Reset(context context.Context, key string) error
}

// RedisThrottle implements [LoginThrottle] with one INCR counter per key that
// expires with the window, so every API replica shares the same budget.
type RedisThrottle struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewRedisThrottle creates a Redis-backed throttle allowing maxAttempts
// failures per window.
func NewRedisThrottle(client *redis.Client, maxAttempts int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, maxAttempts: maxAttempts, window: window}
}

// Check implements [LoginThrottle].
func (throttle *RedisThrottle) Check(context context.Context, key string) (time.Duration, error) {
	redisKey := throttle.key(key)

	count, err := throttle.client.Get(context, redisKey).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis_login_throttle_get_failed: %w", err)
	}

	if count < throttle.maxAttempts {
		return 0, nil
	}

	ttl, err := throttle.client.TTL(context, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis_login_throttle_ttl_failed: %w", err)
	}

	return throttleRetryAfter(ttl, throttle.window), nil
}

// throttleRetryAfter turns the TTL Redis reports for a blocked counter into a
// client-facing delay of at least one second.
//
// Redis answers -1 for a key without expiry and -2 for a key that vanished
// between GET and TTL. A counter without expiry would block forever, so both
// fall back to the full window.
func throttleRetryAfter(ttl, window time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = window
	}
	return max(ttl, time.Second)
}

// Fail implements [LoginThrottle].
func (throttle *RedisThrottle) Fail(context context.Context, key string) error {
	redisKey := throttle.key(key)

	// The window starts with the first failure; later failures do not extend it
	_, err := throttle.client.TxPipelined(context, func(pipe redis.Pipeliner) error {
		pipe.Incr(context, redisKey)
		pipe.ExpireNX(context, redisKey, throttle.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_login_throttle_incr_failed: %w", err)
	}
	return nil
}

// Reset implements [LoginThrottle].
func (throttle *RedisThrottle) Reset(context context.Context, key string) error {
	if err := throttle.client.Del(context, throttle.key(key)).Err(); err != nil {
		return fmt.Errorf("redis_login_throttle_del_failed: %w", err)
	}
	return nil
}

// key hashes the email so addresses never appear in plain text in Redis.
func (throttle *RedisThrottle) key(email string) string {
	return constants.RedisPrefixLoginAttempts + sec.HashToken(email)
}
