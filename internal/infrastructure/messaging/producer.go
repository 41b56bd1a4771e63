package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/pkg/logger"
)

var tracer = otel.Tracer("messaging")

const defaultMaxLen = 100000

// Producer 向 Redis Stream 投递任务；流长度按 MAXLEN ~ 近似裁剪
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建生产者，maxLen <= 0 时使用默认上限
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Publish 写入一条消息并返回流内 ID。
// 当前 trace 上下文与请求 ID 写入 Metadata，消费端据此续接链路。
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish", trace.WithAttributes(
		attribute.String("stream", string(stream)),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
	), trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}

	span.SetAttributes(attribute.String("stream.message_id", id))
	return id, nil
}

// PublishWarmup 投递嵌入预热任务，空列表直接拒绝
func (p *Producer) PublishWarmup(ctx context.Context, warmup *WarmupMessage) (string, error) {
	if warmup == nil || len(warmup.Items) == 0 {
		return "", fmt.Errorf("warmup message has no items")
	}
	msg, err := NewMessage(uuid.NewString(), TypeEmbeddingWarmup, warmup)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("item_count", strconv.Itoa(len(warmup.Items)))
	return p.Publish(ctx, StreamEmbeddingWarmup, msg)
}

// PublishSweep 投递持久层 TTL 清理任务
func (p *Producer) PublishSweep(ctx context.Context, sweep *SweepMessage) (string, error) {
	if sweep == nil {
		sweep = &SweepMessage{}
	}
	msg, err := NewMessage(uuid.NewString(), TypeEmbeddingSweep, sweep)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, StreamEmbeddingSweep, msg)
}
