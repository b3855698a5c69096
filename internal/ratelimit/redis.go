package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] window key; ARGV: now ms, window ms, limit, member.
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
redis.call("ZADD", key, now, member)
local count = redis.call("ZCARD", key)
local allowed = 1
if count > limit then
  redis.call("ZREM", key, member)
  allowed = 0
end
local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
  oldest = tonumber(head[2])
end
redis.call("PEXPIRE", key, window)
return {allowed, count, oldest}
`)

// RedisLimiter implements a sliding-window rate limiter on a Redis sorted set.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Allow records now in the key's sorted set and reports whether it fits the rule.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	if !rule.Enabled() || key == "" {
		return allowAll(rule), nil
	}
	if l == nil || l.client == nil {
		return Result{}, errors.New("rate limit redis: not initialized")
	}

	nowMs := now.UnixMilli()
	windowMs := rule.Window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	res, errEval := redisSlidingWindowScript.Run(ctx, l.client, []string{l.buildKey(key)}, nowMs, windowMs, rule.MaxRequests, member).Result()
	if errEval != nil {
		return Result{}, errEval
	}
	values, ok := res.([]any)
	if !ok || len(values) != 3 {
		return Result{}, errors.New("rate limit redis: unexpected response shape")
	}
	allowedRaw, okAllowed := values[0].(int64)
	count, okCount := values[1].(int64)
	oldestMs, okOldest := values[2].(int64)
	if !okAllowed || !okCount || !okOldest {
		return Result{}, errors.New("rate limit redis: unexpected response type")
	}

	remaining := rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:       allowedRaw == 1,
		Limit:         rule.MaxRequests,
		Remaining:     remaining,
		ResetTime:     time.UnixMilli(oldestMs).Add(rule.Window).UTC(),
		TotalRequests: int(count),
	}, nil
}

func (l *RedisLimiter) buildKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
