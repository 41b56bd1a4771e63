package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/internal/domain/repository"
)

const (
	defaultResultPrefix = "results"
	defaultResultTTL    = 24 * time.Hour
)

// ResultCache 降级模式使用的查询结果缓存
type ResultCache struct {
	client *Client
	prefix string
	ttl    time.Duration
}

var _ repository.ResultCache = (*ResultCache)(nil)

// NewResultCache 创建结果缓存
func NewResultCache(client *Client, prefix string, ttl time.Duration) *ResultCache {
	if prefix == "" {
		prefix = defaultResultPrefix
	}
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *ResultCache) key(k string) string { return c.prefix + ":" + k }

// Get 读取缓存结果，未命中返回 (nil, nil)
func (c *ResultCache) Get(ctx context.Context, key string) (*repository.CachedResult, error) {
	ctx, span := tracer.Start(ctx, "result_cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	data, err := c.client.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get cached result: %w", err)
	}

	var res repository.CachedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &res, nil
}

// Put 写入结果，覆盖同键旧值
func (c *ResultCache) Put(ctx context.Context, res *repository.CachedResult) error {
	ctx, span := tracer.Start(ctx, "result_cache.Put",
		trace.WithAttributes(
			attribute.String("cache.key", res.Key),
			attribute.Int64("cache.ttl_ms", c.ttl.Milliseconds()),
		))
	defer span.End()

	data, err := json.Marshal(res)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.client.rdb.Set(ctx, c.key(res.Key), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cached result: %w", err)
	}
	return nil
}

// Purge 清空全部缓存结果
func (c *ResultCache) Purge(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "result_cache.Purge")
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
	return c.client.rdb.Del(ctx, keys...).Result()
}
