// Package redis 提供 Redis 持久层、结果缓存与限流实现
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"convergence-engine/internal/config"
	"convergence-engine/pkg/metrics"
)

var tracer = otel.Tracer("redis")

const defaultPingTimeout = 5 * time.Second

// Client Redis 客户端
//
// 嵌入缓存持久层、检索结果缓存、限流与预热队列共用同一个连接池。
type Client struct {
	rdb *redis.Client
}

// NewClient 创建 Redis 客户端并验证连通性
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	rdb.AddHook(latencyHook{})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", rdb.Options().Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFrom 包装已有连接（测试与 worker 复用）
func NewClientFrom(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis 获取底层 Redis 客户端
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck 健康检查，供 /health/ready 的可选依赖使用
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.HealthCheck")
	defer span.End()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// IsNil 检查是否为 redis.Nil 错误
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// latencyHook 按命令名记录耗时
type latencyHook struct{}

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		metrics.RedisCommandDuration.WithLabelValues(cmd.Name(), commandStatus(err)).Observe(time.Since(start).Seconds())
		return err
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		metrics.RedisCommandDuration.WithLabelValues("pipeline", commandStatus(err)).Observe(time.Since(start).Seconds())
		return err
	}
}

func commandStatus(err error) string {
	if err == nil || IsNil(err) {
		return "ok"
	}
	return "error"
}
