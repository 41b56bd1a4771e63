// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"convergence-engine/internal/domain/entity"
)

// EmbeddingRepository 嵌入缓存持久层
// 未命中时 Get 返回 (nil, nil)。
type EmbeddingRepository interface {
	Get(ctx context.Context, fingerprint string) (*entity.EmbeddingRecord, error)
	GetMany(ctx context.Context, fingerprints []string) (map[string]*entity.EmbeddingRecord, error)
	Save(ctx context.Context, record *entity.EmbeddingRecord) error
	// Sweep 删除 created_at 早于 cutoff 的记录，返回删除条数
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CachedResult 降级缓存中的查询结果
type CachedResult struct {
	Key      string         `json:"key"`
	Summary  string         `json:"summary,omitempty"`
	Chunks   []entity.Chunk `json:"chunks"`
	StoredAt time.Time      `json:"stored_at"`
}

// ResultCache 按维度哈希缓存最近一次成功的查询结果，供向量库不可用时回退
// 未命中时 Get 返回 (nil, nil)。
type ResultCache interface {
	Get(ctx context.Context, key string) (*CachedResult, error)
	Put(ctx context.Context, result *CachedResult) error
}
