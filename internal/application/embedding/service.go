// Package embedding 提供带两级缓存与提供方熔断的文本嵌入服务
package embedding

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
)

const (
	DefaultCacheCapacity = 10000
	DefaultBatchWorkers  = 10
	DefaultLoadTimeout   = 30 * time.Second
)

// Config 嵌入服务配置
type Config struct {
	// Dimension 期望的向量维度，0 表示不校验
	Dimension int
	// StrictDimensions 维度不符时拒绝而非仅告警
	StrictDimensions bool
	CacheCapacity    int
	// CacheTTL 记录存活时间，0 表示不过期
	CacheTTL     time.Duration
	BatchWorkers int
	// LoadTimeout 合并后的单次未命中加载的上限，与任一调用方的取消无关
	LoadTimeout time.Duration
}

// BatchItem 批量嵌入的单项输入
type BatchItem struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// Stats 服务运行统计
type Stats struct {
	Cached         int64                   `json:"cached"`
	Generated      int64                   `json:"generated"`
	Failed         int64                   `json:"failed"`
	MemoryEntries  int                     `json:"memory_entries"`
	MemoryCapacity int                     `json:"memory_capacity"`
	AllowFallback  bool                    `json:"allow_fallback"`
	Breakers       map[string]BreakerState `json:"breakers"`
}

// Service 嵌入缓存服务
// 查找顺序：内存层 -> 持久层 -> 提供方链。
type Service struct {
	cfg    Config
	chain  *ProviderChain
	memory *expirable.LRU[string, *entity.EmbeddingRecord]
	store  repository.EmbeddingRepository
	group  singleflight.Group

	cached    atomic.Int64
	generated atomic.Int64
	failed    atomic.Int64

	now func() time.Time
}

// NewService 创建嵌入服务，store 可为 nil（仅内存层）
func NewService(cfg Config, chain *ProviderChain, store repository.EmbeddingRepository) *Service {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}

	return &Service{
		cfg:    cfg,
		chain:  chain,
		memory: expirable.NewLRU[string, *entity.EmbeddingRecord](cfg.CacheCapacity, nil, cfg.CacheTTL),
		store:  store,
		now:    time.Now,
	}
}

// Embed 返回文本（附带上下文）的向量
func (s *Service) Embed(ctx context.Context, text string, meta map[string]any) ([]float32, error) {
	rec, _, err := s.EmbedRecord(ctx, text, meta)
	if err != nil {
		return nil, err
	}
	return rec.Vector, nil
}

type loadResult struct {
	record *entity.EmbeddingRecord
	cached bool
}

// EmbedRecord 返回完整的缓存记录以及是否命中缓存
func (s *Service) EmbedRecord(ctx context.Context, text string, meta map[string]any) (*entity.EmbeddingRecord, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, apperrors.InvalidInput("text must not be empty")
	}

	fp := Fingerprint(text, meta)
	if rec, ok := s.memory.Peek(fp); ok {
		s.recordHit()
		return rec, true, nil
	}

	// 同一指纹的并发未命中共享一次加载；加载不继承发起者的取消，
	// 每个调用方只在自己的 ctx 结束时停止等待。
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(fp, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(shared, s.cfg.LoadTimeout)
		defer cancel()
		return s.load(lctx, fp, text, meta)
	})

	select {
	case <-ctx.Done():
		return nil, false, apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "embedding cancelled")
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(*loadResult)
		return res.record, res.cached, nil
	}
}

func (s *Service) load(ctx context.Context, fp, text string, meta map[string]any) (*loadResult, error) {
	if rec, ok := s.memory.Peek(fp); ok {
		s.recordHit()
		return &loadResult{record: rec, cached: true}, nil
	}

	if rec := s.readPersistent(ctx, fp); rec != nil {
		s.memory.Add(fp, rec)
		s.recordHit()
		return &loadResult{record: rec, cached: true}, nil
	}

	vec, provider, err := s.chain.Embed(ctx, ComposeInput(text, meta))
	if err != nil {
		s.failed.Add(1)
		metrics.EmbeddingRequestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := s.checkDimensions(ctx, provider, vec); err != nil {
		s.failed.Add(1)
		metrics.EmbeddingRequestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	rec := entity.NewEmbeddingRecord(fp, vec, provider.Name(), provider.Model())
	rec.CreatedAt = s.now().UTC()
	s.memory.Add(fp, rec)
	if s.store != nil {
		if err := s.store.Save(ctx, rec); err != nil {
			logger.Warn(ctx, "persistent embedding tier write failed",
				"fingerprint", fp,
				"error", err.Error(),
			)
		}
	}

	s.generated.Add(1)
	metrics.EmbeddingRequestsTotal.WithLabelValues("generated").Inc()
	return &loadResult{record: rec}, nil
}

// readPersistent 持久层读取失败或记录过期均视为未命中
func (s *Service) readPersistent(ctx context.Context, fp string) *entity.EmbeddingRecord {
	if s.store == nil {
		return nil
	}
	rec, err := s.store.Get(ctx, fp)
	if err != nil {
		logger.Warn(ctx, "persistent embedding tier read failed",
			"fingerprint", fp,
			"error", err.Error(),
		)
		return nil
	}
	if rec == nil || rec.Expired(s.now(), s.cfg.CacheTTL) {
		return nil
	}
	return rec
}

func (s *Service) checkDimensions(ctx context.Context, provider Provider, vec []float32) error {
	if s.cfg.Dimension <= 0 || len(vec) == s.cfg.Dimension {
		return nil
	}

	metrics.EmbeddingDimensionMismatch.WithLabelValues(provider.Name()).Inc()
	if s.cfg.StrictDimensions {
		return apperrors.New(apperrors.CodeDimensionalityMismatch, "embedding dimensionality mismatch").
			WithField("provider", provider.Name()).
			WithField("expected", s.cfg.Dimension).
			WithField("actual", len(vec))
	}

	logger.Warn(ctx, "embedding dimensionality mismatch, caching anyway",
		"provider", provider.Name(),
		"model", provider.Model(),
		"expected", s.cfg.Dimension,
		"actual", len(vec),
	)
	return nil
}

func (s *Service) recordHit() {
	s.cached.Add(1)
	metrics.EmbeddingRequestsTotal.WithLabelValues("cached").Inc()
}

// EmbedBatch 以有限并发批量嵌入，结果与输入一一对应。
// 单项失败不会中断整批：对应位置为 nil，失败明细以 PartialBatchFailure 错误返回。
func (s *Service) EmbedBatch(ctx context.Context, items []BatchItem) ([][]float32, error) {
	results := make([][]float32, len(items))
	if len(items) == 0 {
		return results, nil
	}

	s.prefetch(ctx, items)

	var (
		mu       sync.Mutex
		failures = apperrors.BatchFailures{}
		g        errgroup.Group
	)
	g.SetLimit(s.cfg.BatchWorkers)

	for i, item := range items {
		g.Go(func() error {
			vec, err := s.Embed(ctx, item.Text, item.Context)
			if err != nil {
				mu.Lock()
				failures[i] = err
				mu.Unlock()
				return nil
			}
			results[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return results, apperrors.Wrap(ctxErr, apperrors.CodeTimeout, "embedding batch cancelled").
			WithField("completed", len(items)-len(failures))
	}
	if len(failures) > 0 {
		logger.Warn(ctx, "embedding batch completed with failures",
			"total", len(items),
			"failed", len(failures),
		)
		return results, apperrors.PartialBatchFailure(len(items), failures)
	}
	return results, nil
}

// prefetch 一次性从持久层取回内存层缺失的记录
func (s *Service) prefetch(ctx context.Context, items []BatchItem) {
	if s.store == nil {
		return
	}

	missing := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		fp := Fingerprint(item.Text, item.Context)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		if !s.memory.Contains(fp) {
			missing = append(missing, fp)
		}
	}
	if len(missing) == 0 {
		return
	}

	records, err := s.store.GetMany(ctx, missing)
	if err != nil {
		logger.Warn(ctx, "persistent embedding tier batch read failed",
			"count", len(missing),
			"error", err.Error(),
		)
		return
	}
	now := s.now()
	for fp, rec := range records {
		if rec != nil && !rec.Expired(now, s.cfg.CacheTTL) {
			s.memory.Add(fp, rec)
		}
	}
}

// Sweep 清除持久层中超过 TTL 的记录；内存层由 TTL 自动过期
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	if s.store == nil || s.cfg.CacheTTL <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.cfg.CacheTTL)
	n, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeCacheError, "embedding cache sweep failed")
	}
	metrics.EmbeddingSweptTotal.Add(float64(n))
	logger.Info(ctx, "embedding cache swept",
		"removed", n,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return n, nil
}

// Stats 返回统计信息
func (s *Service) Stats() Stats {
	return Stats{
		Cached:         s.cached.Load(),
		Generated:      s.generated.Load(),
		Failed:         s.failed.Load(),
		MemoryEntries:  s.memory.Len(),
		MemoryCapacity: s.cfg.CacheCapacity,
		AllowFallback:  s.chain.AllowFallback(),
		Breakers:       s.chain.States(),
	}
}
