package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
)

const defaultEmbeddingPrefix = "emb"

// sweepBatch 单次清扫删除的键数
const sweepBatch = 500

// EmbeddingStore 嵌入缓存持久层
// 记录以 JSON 存储在 {prefix}:{fingerprint}，并在 {prefix}:index 有序集合中按写入时间索引。
type EmbeddingStore struct {
	client *Client
	prefix string
}

var _ repository.EmbeddingRepository = (*EmbeddingStore)(nil)

// NewEmbeddingStore 创建嵌入持久层
func NewEmbeddingStore(client *Client, prefix string) *EmbeddingStore {
	if prefix == "" {
		prefix = defaultEmbeddingPrefix
	}
	return &EmbeddingStore{client: client, prefix: prefix}
}

func (s *EmbeddingStore) key(fp string) string { return s.prefix + ":" + fp }

func (s *EmbeddingStore) indexKey() string { return s.prefix + ":index" }

// Get 读取记录，未命中返回 (nil, nil)
func (s *EmbeddingStore) Get(ctx context.Context, fingerprint string) (*entity.EmbeddingRecord, error) {
	ctx, span := tracer.Start(ctx, "embedding_store.Get")
	defer span.End()

	data, err := s.client.rdb.Get(ctx, s.key(fingerprint)).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return decodeRecord(data)
}

// GetMany 批量读取，只返回命中的记录
func (s *EmbeddingStore) GetMany(ctx context.Context, fingerprints []string) (map[string]*entity.EmbeddingRecord, error) {
	ctx, span := tracer.Start(ctx, "embedding_store.GetMany",
		trace.WithAttributes(attribute.Int("cache.key_count", len(fingerprints))))
	defer span.End()

	out := make(map[string]*entity.EmbeddingRecord, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	keys := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		keys[i] = s.key(fp)
	}

	values, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[fingerprints[i]] = rec
	}
	span.SetAttributes(attribute.Int("cache.hit_count", len(out)))
	return out, nil
}

// Save 写入记录，已存在时覆盖
func (s *EmbeddingStore) Save(ctx context.Context, rec *entity.EmbeddingRecord) error {
	ctx, span := tracer.Start(ctx, "embedding_store.Save")
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, s.key(rec.Fingerprint), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.CreatedAt.Unix()),
		Member: rec.Fingerprint,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// Sweep 删除 created_at 早于 cutoff 的记录
func (s *EmbeddingStore) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "embedding_store.Sweep")
	defer span.End()

	// 开区间：恰好等于 cutoff 的记录保留
	upper := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	var removed int64
	for {
		fps, err := s.client.rdb.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: sweepBatch,
		}).Result()
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("failed to scan embedding index: %w", err)
		}
		if len(fps) == 0 {
			break
		}

		keys := make([]string, len(fps))
		members := make([]any, len(fps))
		for i, fp := range fps {
			keys[i] = s.key(fp)
			members[i] = fp
		}
		pipe := s.client.rdb.TxPipeline()
		del := pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("failed to sweep embeddings: %w", err)
		}
		removed += del.Val()
	}

	span.SetAttributes(attribute.Int64("cache.swept", removed))
	return removed, nil
}

// Count 当前记录数
func (s *EmbeddingStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.rdb.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

func decodeRecord(data []byte) (*entity.EmbeddingRecord, error) {
	var rec entity.EmbeddingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return &rec, nil
}
