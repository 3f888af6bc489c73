// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangashelf/internal/platform/constants"
)

/*
TestThrottleRetryAfter maps every TTL Redis can report to a usable delay.
*/
func TestThrottleRetryAfter(t *testing.T) {
	const window = 15 * time.Minute

	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"remaining_window", 90 * time.Second, 90 * time.Second},
		{"sub_second_rounds_up", 300 * time.Millisecond, time.Second},
		{"zero", 0, window},
		{"no_expiry", -1, window},
		{"key_vanished", -2, window},
		{"no_expiry_nanoseconds", -time.Nanosecond, window},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, throttleRetryAfter(tt.ttl, window))
		})
	}

	t.Run("tiny_window_still_one_second", func(t *testing.T) {
		assert.Equal(t, time.Second, throttleRetryAfter(-1, 10*time.Millisecond))
	})
}

/*
TestRedisThrottle_Key never stores the email in plain text.
*/
func TestRedisThrottle_Key(t *testing.T) {
	throttle := NewRedisThrottle(nil, 5, time.Minute)

	key := throttle.key("reader@example.com")
	assert.True(t, strings.HasPrefix(key, constants.RedisPrefixLoginAttempts))
	assert.NotContains(t, key, "reader")
	assert.NotContains(t, key, "@")
	assert.Equal(t, key, throttle.key("reader@example.com"))
	assert.NotEqual(t, key, throttle.key("other@example.com"))
}

/*
TestRedisThrottle_Unreachable wraps transport failures with the operation that failed.
*/
func TestRedisThrottle_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	throttle := NewRedisThrottle(client, 5, time.Minute)
	ctx := context.Background()

	_, err := throttle.Check(ctx, "reader@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_login_throttle_get_failed")

	err = throttle.Fail(ctx, "reader@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_login_throttle_incr_failed")

	err = throttle.Reset(ctx, "reader@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_login_throttle_del_failed")
}
