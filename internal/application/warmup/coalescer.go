// Package warmup 预热队列：按时间窗口合并预热文本，批量写入嵌入缓存
package warmup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"convergence-engine/internal/application/embedding"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
)

const (
	defaultWindow   = 2 * time.Second
	defaultMaxBatch = 64
)

// ErrClosed 队列已关闭
var ErrClosed = errors.New("warmup coalescer closed")

// BatchEmbedder 批量嵌入能力
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, items []embedding.BatchItem) ([][]float32, error)
}

// Config 预热队列配置
type Config struct {
	Window   time.Duration
	MaxBatch int
}

// FlushResult 一次刷新的结果
type FlushResult struct {
	Items  int
	Failed int
	Err    error
}

// Coalescer 时间窗口合并队列
//
// 第一条文本进入空队列时开启窗口；窗口到期或达到 MaxBatch 时刷新。
// 刷新在后台 goroutine 中串行执行，Close 会刷新剩余文本并等待完成。
type Coalescer struct {
	embedder BatchEmbedder
	window   time.Duration
	maxBatch int

	mu      sync.Mutex
	pending []embedding.BatchItem
	timer   *time.Timer
	closed  bool

	flushes chan []embedding.BatchItem
	done    chan struct{}

	// OnFlush 测试与指标钩子，可为空
	OnFlush func(FlushResult)
}

// NewCoalescer 创建并启动预热队列
func NewCoalescer(cfg Config, embedder BatchEmbedder) *Coalescer {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	c := &Coalescer{
		embedder: embedder,
		window:   cfg.Window,
		maxBatch: cfg.MaxBatch,
		flushes:  make(chan []embedding.BatchItem, 16),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Submit 加入预热文本，空白文本被拒绝
func (c *Coalescer) Submit(items ...embedding.BatchItem) error {
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			return apperrors.InvalidInput("warmup text must not be empty")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, it := range items {
		c.pending = append(c.pending, it)
		if len(c.pending) >= c.maxBatch {
			c.flushLocked()
		}
	}
	if len(c.pending) > 0 && c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.flushWindow)
	}
	return nil
}

// Pending 当前等待刷新的文本数
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush 立即刷新当前窗口
func (c *Coalescer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.flushLocked()
	}
}

// Close 刷新剩余文本并等待后台刷新结束
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.flushLocked()
	c.closed = true
	close(c.flushes)
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) flushWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.flushLocked()
	}
}

// flushLocked 调用方持有 mu
func (c *Coalescer) flushLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil
	c.flushes <- batch
}

func (c *Coalescer) run() {
	defer close(c.done)
	ctx := logger.WithComponent(context.Background(), "warmup")

	for batch := range c.flushes {
		res := FlushResult{Items: len(batch)}
		_, err := c.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			res.Err = err
			var failures apperrors.BatchFailures
			if errors.As(err, &failures) {
				res.Failed = len(failures)
				logger.Warn(ctx, "warmup batch partially failed", "items", res.Items, "failed", res.Failed)
			} else {
				res.Failed = len(batch)
				logger.Error(ctx, "warmup batch failed", err, "items", res.Items)
			}
		} else {
			logger.Debug(ctx, "warmup batch flushed", "items", res.Items)
		}
		if c.OnFlush != nil {
			c.OnFlush(res)
		}
	}
}
