package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// slidingWindowScript 在一次往返内完成清理、计数与登记，
// 并发请求不会在 ZCARD 与 ZADD 之间穿透上限。
//
// KEYS[1] 限流键；ARGV: now_ms, window_ms, limit, member
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window * 2)
return 1
`)

// RateLimiter 基于 ZSET 的滑动窗口限流器，HTTP 层按客户端 IP 与路由限流
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow 在窗口内登记一次请求；超过 limit 时返回 false 且不登记
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
	)
	defer span.End()

	now := l.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	allowed, err := slidingWindowScript.Run(ctx, l.client.rdb, []string{key},
		now, window.Milliseconds(), limit, member).Int()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed == 1))
	return allowed == 1, nil
}

// Remaining 当前窗口剩余配额（只读，不清理过期成员）
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	now := l.now().UnixMilli()
	floor := "(" + strconv.FormatInt(now-window.Milliseconds(), 10)

	used, err := l.client.rdb.ZCount(ctx, key, floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return max(limit-int(used), 0), nil
}

// BuildRateLimitKey 构建限流键
func BuildRateLimitKey(clientID, endpoint string) string {
	return "convergence:ratelimit:" + clientID + ":" + endpoint
}
