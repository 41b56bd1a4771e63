package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
)

// embeddingModel embedding_cache 表映射
// vector 列不限定维度，允许不同模型的向量共存。
type embeddingModel struct {
	Fingerprint string          `gorm:"primaryKey;size:64"`
	Vector      pgvector.Vector `gorm:"type:vector;not null"`
	ProviderID  string          `gorm:"size:64;not null"`
	Model       string          `gorm:"size:128"`
	Dimensions  int             `gorm:"not null"`
	CreatedAt   time.Time       `gorm:"not null;index"`
}

func (embeddingModel) TableName() string { return "embedding_cache" }

func toModel(rec *entity.EmbeddingRecord) *embeddingModel {
	return &embeddingModel{
		Fingerprint: rec.Fingerprint,
		Vector:      pgvector.NewVector(rec.Vector),
		ProviderID:  rec.ProviderID,
		Model:       rec.Model,
		Dimensions:  rec.Dimensions,
		CreatedAt:   rec.CreatedAt,
	}
}

func (m *embeddingModel) toEntity() *entity.EmbeddingRecord {
	return &entity.EmbeddingRecord{
		Fingerprint: m.Fingerprint,
		Vector:      m.Vector.Slice(),
		ProviderID:  m.ProviderID,
		Model:       m.Model,
		Dimensions:  m.Dimensions,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

// EmbeddingRepository 嵌入缓存持久层实现
type EmbeddingRepository struct {
	client *Client
}

var _ repository.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository 创建嵌入缓存仓储
func NewEmbeddingRepository(client *Client) *EmbeddingRepository {
	return &EmbeddingRepository{client: client}
}

// Migrate 启用 vector 扩展并建表
func (r *EmbeddingRepository) Migrate(ctx context.Context) error {
	db := r.client.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	if err := db.AutoMigrate(&embeddingModel{}); err != nil {
		return fmt.Errorf("failed to migrate embedding_cache: %w", err)
	}
	return nil
}

// Get 根据指纹获取记录
func (r *EmbeddingRepository) Get(ctx context.Context, fingerprint string) (*entity.EmbeddingRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.EmbeddingRepository.Get")
	defer span.End()

	var m embeddingModel
	if err := r.client.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	return m.toEntity(), nil
}

// GetMany 批量获取
func (r *EmbeddingRepository) GetMany(ctx context.Context, fingerprints []string) (map[string]*entity.EmbeddingRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.EmbeddingRepository.GetMany",
		trace.WithAttributes(attribute.Int("fingerprint_count", len(fingerprints))))
	defer span.End()

	out := make(map[string]*entity.EmbeddingRecord, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}

	var models []embeddingModel
	err := r.client.db.WithContext(ctx).
		Where("fingerprint = ANY(?)", pq.Array(fingerprints)).
		Find(&models).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	for i := range models {
		out[models[i].Fingerprint] = models[i].toEntity()
	}
	return out, nil
}

// Save 写入记录；指纹已存在时保留首次写入的版本
func (r *EmbeddingRepository) Save(ctx context.Context, rec *entity.EmbeddingRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.EmbeddingRepository.Save")
	defer span.End()

	err := r.client.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
		Create(toModel(rec)).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// Sweep 删除 created_at 早于 cutoff 的记录
func (r *EmbeddingRepository) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.EmbeddingRepository.Sweep")
	defer span.End()

	result := r.client.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&embeddingModel{})
	if result.Error != nil {
		span.RecordError(result.Error)
		return 0, fmt.Errorf("failed to sweep embeddings: %w", result.Error)
	}
	span.SetAttributes(attribute.Int64("swept", result.RowsAffected))
	return result.RowsAffected, nil
}

// Count 记录总数
func (r *EmbeddingRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.client.db.WithContext(ctx).Model(&embeddingModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}
