// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/config"
	apperrors "convergence-engine/pkg/errors"
)

const backendName = "milvus"

var tracer = otel.Tracer("milvus")

// Client Milvus 客户端
type Client struct {
	milvus       client.Client
	collection   string
	vectorField  string
	payloadField string
	metricType   entity.MetricType
}

// NewClient 创建 Milvus 客户端
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus collection is empty")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:  addr,
		Username: cfg.User,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, retrieval.StoreUnavailable(backendName, fmt.Errorf("failed to connect to milvus: %w", err))
	}
	return NewClientWith(milvusClient, cfg), nil
}

// NewClientWith 基于已有 SDK 客户端构建
func NewClientWith(milvusClient client.Client, cfg *config.MilvusConfig) *Client {
	c := &Client{
		milvus:       milvusClient,
		collection:   cfg.Collection,
		vectorField:  cfg.VectorField,
		payloadField: cfg.PayloadField,
		metricType:   metricType(cfg.MetricType),
	}
	if c.vectorField == "" {
		c.vectorField = "vector"
	}
	if c.payloadField == "" {
		c.payloadField = "payload"
	}
	return c
}

func metricType(name string) entity.MetricType {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "L2":
		return entity.L2
	case "IP":
		return entity.IP
	default:
		return entity.COSINE
	}
}

// Backend 后端名称
func (c *Client) Backend() string { return backendName }

// Collection 集合名称
func (c *Client) Collection() string { return c.collection }

// Milvus 获取底层 Milvus 客户端
func (c *Client) Milvus() client.Client {
	return c.milvus
}

// Close 关闭 Milvus 连接
func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck")
	defer span.End()

	_, err := c.milvus.HasCollection(ctx, c.collection)
	if err != nil {
		span.RecordError(err)
		return c.classify("health_check", err)
	}
	return nil
}

// LoadCollection 加载集合到内存
func (c *Client) LoadCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.LoadCollection",
		trace.WithAttributes(attribute.String("collection", c.collection)))
	defer span.End()

	if err := c.milvus.LoadCollection(ctx, c.collection, false); err != nil {
		span.RecordError(err)
		return c.classify("load", err)
	}
	return nil
}

// classify 区分连接类错误（可降级）与服务端拒绝
func (c *Client) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return retrieval.StoreUnavailable(backendName, fmt.Errorf("milvus %s: %w", operation, err))
	}
	return apperrors.Wrap(err, apperrors.CodeVectorDBError, "milvus "+operation+" failed").
		WithField("collection", c.collection)
}
