package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
)

// MessageHandler 消息处理函数；返回错误时消息保留在 PEL 中等待重试
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BatchSize     int64
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	// RetryLimit 投递次数上限，达到后写入死信流
	RetryLimit int
	Backoff    BackoffConfig
}

// Consumer Redis Stream 消费者组成员
//
// 每轮循环依次：重试自己 PEL 中到期的消息、定期接管其他成员长时间未确认的消息、读取新消息。
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	// reclaimIdle 其他成员的消息空闲超过该时长才会被接管
	reclaimIdle time.Duration

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewConsumer 创建消费者
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	return &Consumer{
		client:      client,
		cfg:         cfg,
		reclaimIdle: max(5*time.Minute, 2*cfg.Backoff.Max),
		handlers:    make(map[string]MessageHandler),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// RegisterHandler 按消息类型注册处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 创建消费者组（幂等）并启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s already running", c.cfg.ConsumerName)
	}
	c.running = true
	c.mu.Unlock()

	err := c.client.XGroupCreateMkStream(ctx, c.stream(), c.group(), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("create consumer group %s: %w", c.cfg.Group, err)
	}

	go c.loop(ctx)
	return nil
}

// Stop 通知消费循环退出；不等待阻塞读返回，需要时配合 Done 使用
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

// Done 消费循环退出后关闭
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) stream() string { return string(c.cfg.Stream) }
func (c *Consumer) group() string  { return string(c.cfg.Group) }

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)
	log := logger.FromContext(ctx).With("stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.ConsumerName)
	log.Info("consumer started")
	defer log.Info("consumer stopped")

	nextReclaim := time.Now()
	for !c.stopped(ctx) {
		c.retryDue(ctx)
		if now := time.Now(); !now.Before(nextReclaim) {
			c.reclaimStale(ctx)
			nextReclaim = now.Add(c.cfg.ClaimInterval)
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group(),
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{c.stream(), ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil), err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			log.Error("read stream failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			case <-c.stopCh:
			}
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.handle(ctx, xmsg)
			}
		}
	}
}

func decode(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", xmsg.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", xmsg.ID, err)
	}
	return &msg, nil
}

// handle 处理一条消息：成功则确认，失败则留待重试或写入死信流
func (c *Consumer) handle(ctx context.Context, xmsg redis.XMessage) {
	msg, err := decode(xmsg)
	if err != nil {
		c.deadLetter(ctx, xmsg, nil, err)
		return
	}

	// 延续生产者写入元数据的 trace 上下文
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
	ctx, span := tracer.Start(ctx, "consumer.handle", trace.WithAttributes(
		attribute.String("stream", c.stream()),
		attribute.String("stream.message_id", xmsg.ID),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
	), trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if reqID := msg.GetMetadata("request_id"); reqID != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, reqID)
	}
	log := logger.FromContext(ctx)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		log.Warn("dropping message without handler", "type", msg.Type, "message_id", msg.ID)
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		metrics.RedisStreamProcessed.WithLabelValues(c.stream(), "error").Inc()

		deliveries := c.deliveries(ctx, xmsg.ID)
		if deliveries >= c.cfg.RetryLimit {
			c.deadLetter(ctx, xmsg, msg, err)
			return
		}
		log.Warn("handler failed, message left pending",
			"error", err, "message_id", msg.ID, "deliveries", deliveries)
		return
	}

	metrics.RedisStreamProcessed.WithLabelValues(c.stream(), "ok").Inc()
	c.ack(ctx, xmsg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream(), c.group(), id).Err(); err != nil {
		logger.FromContext(ctx).Error("ack failed", "error", err, "message_id", id)
	}
}

func (c *Consumer) deliveries(ctx context.Context, id string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream(),
		Group:  c.group(),
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// deadLetter 写入死信流后确认原消息；msg 为 nil 时保存原始条目
func (c *Consumer) deadLetter(ctx context.Context, xmsg redis.XMessage, msg *Message, cause error) {
	entry := map[string]any{
		"original_stream": c.stream(),
		"original_id":     xmsg.ID,
		"error":           cause.Error(),
		"failed_at":       time.Now().Unix(),
	}
	if msg != nil {
		entry["data"] = msg
	} else {
		entry["raw"] = xmsg.Values
	}

	data, _ := json.Marshal(entry)
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		// 写死信失败时不确认，消息留在 PEL 中下轮再试
		logger.FromContext(ctx).Error("write dead letter failed", "error", err, "message_id", xmsg.ID)
		return
	}

	logger.FromContext(ctx).Warn("message dead-lettered", "message_id", xmsg.ID, "error", cause.Error())
	metrics.RedisStreamProcessed.WithLabelValues(c.stream(), "dead_letter").Inc()
	c.ack(ctx, xmsg.ID)
}

// retryDue 重新处理本成员 PEL 中退避已到期的消息
func (c *Consumer) retryDue(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   c.stream(),
		Group:    c.group(),
		Start:    "-",
		End:      "+",
		Count:    2 * c.cfg.BatchSize,
		Consumer: c.cfg.ConsumerName,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.FromContext(ctx).Error("list pending failed", "error", err)
		}
		return
	}

	for _, p := range pending {
		exhausted := int(p.RetryCount) >= c.cfg.RetryLimit
		wait := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
		if !exhausted && p.Idle < wait {
			continue
		}
		if exhausted {
			wait = 0
		}
		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream(),
			Group:    c.group(),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  wait,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.FromContext(ctx).Error("claim pending failed", "error", err, "message_id", p.ID)
			continue
		}
		c.dispatchClaimed(ctx, claimed, exhausted)
	}
}

// reclaimStale 用 XAUTOCLAIM 接管其他成员遗留的消息（例如进程崩溃）
func (c *Consumer) reclaimStale(ctx context.Context) {
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream(),
		Group:    c.group(),
		Consumer: c.cfg.ConsumerName,
		MinIdle:  c.reclaimIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.FromContext(ctx).Error("auto-claim failed", "error", err)
		}
		return
	}

	for _, xmsg := range claimed {
		// 接管本身会增加一次投递计数
		exhausted := c.deliveries(ctx, xmsg.ID) > c.cfg.RetryLimit
		c.dispatchClaimed(ctx, []redis.XMessage{xmsg}, exhausted)
	}
}

func (c *Consumer) dispatchClaimed(ctx context.Context, claimed []redis.XMessage, exhausted bool) {
	for _, xmsg := range claimed {
		if !exhausted {
			c.handle(ctx, xmsg)
			continue
		}
		msg, err := decode(xmsg)
		if err != nil {
			c.deadLetter(ctx, xmsg, nil, err)
			continue
		}
		c.deadLetter(ctx, xmsg, msg, fmt.Errorf("exceeded %d deliveries", c.cfg.RetryLimit))
	}
}
