// Package messaging 提供基于 Redis Stream 的任务队列
package messaging

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// 消息类型
const (
	TypeEmbeddingWarmup = "embedding.warmup"
	TypeEmbeddingSweep  = "embedding.sweep"
)

// Message 消息结构
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// WarmupItem 预热条目
type WarmupItem struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// WarmupMessage 嵌入预热任务
type WarmupMessage struct {
	Items []WarmupItem `json:"items"`
}

// SweepMessage 持久层清理任务
type SweepMessage struct {
	Reason string `json:"reason,omitempty"`
}

// Stream 流定义
type Stream string

const (
	StreamEmbeddingWarmup Stream = "stream:embedding:warmup"
	StreamEmbeddingSweep  Stream = "stream:embedding:sweep"
)

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const (
	ConsumerGroupWarmup  ConsumerGroup = "cg-embedding-warmup"
	ConsumerGroupSweeper ConsumerGroup = "cg-embedding-sweeper"
)

// WithPrefix 为消费者组加部署前缀
func (g ConsumerGroup) WithPrefix(prefix string) ConsumerGroup {
	if prefix == "" {
		return g
	}
	return ConsumerGroup(prefix + ":" + string(g))
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// CalculateBackoff 第 retryCount 次重试前的等待时间（无抖动）
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.Initial),
		backoff.WithMaxInterval(c.Max),
		backoff.WithMultiplier(multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	d := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
