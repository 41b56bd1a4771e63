// Package worker 提供异步任务的消息处理器与定时清理
package worker

import (
	"context"
	"fmt"
	"time"

	"convergence-engine/internal/application/embedding"
	"convergence-engine/internal/infrastructure/messaging"
	"convergence-engine/pkg/logger"
)

// WarmupQueue 预热合并队列
type WarmupQueue interface {
	Submit(items ...embedding.BatchItem) error
}

// Sweeper 持久层清理能力
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// WarmupHandler 把预热消息写入合并队列，真正的嵌入在窗口刷新时批量执行
func WarmupHandler(queue WarmupQueue) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.WarmupMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return fmt.Errorf("decode warmup payload: %w", err)
		}
		if len(payload.Items) == 0 {
			return nil
		}

		items := make([]embedding.BatchItem, len(payload.Items))
		for i, it := range payload.Items {
			items[i] = embedding.BatchItem{Text: it.Text, Context: it.Context}
		}
		if err := queue.Submit(items...); err != nil {
			return err
		}
		logger.Debug(ctx, "warmup items queued", "message_id", msg.ID, "items", len(items))
		return nil
	}
}

// SweepHandler 响应显式清理请求
func SweepHandler(sweeper Sweeper) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.SweepMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return fmt.Errorf("decode sweep payload: %w", err)
		}
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info(ctx, "embedding cache swept", "removed", n, "reason", payload.Reason, "message_id", msg.ID)
		return nil
	}
}

// RunSweeper 按固定间隔清理过期条目，ctx 取消时返回；interval<=0 直接返回
func RunSweeper(ctx context.Context, interval time.Duration, sweeper Sweeper) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error(ctx, "scheduled sweep failed", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "scheduled sweep finished", "removed", n)
			}
		}
	}
}
