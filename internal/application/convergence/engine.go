// Package convergence 实现收敛导航：检索、按文档聚合评分、排序并计算语料缩减率
package convergence

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
	"convergence-engine/pkg/tracer"
)

const (
	defaultQueryLimit      = 1000
	defaultSearchLimit     = 50
	defaultEvidenceLimit   = 50
	defaultMaxConvergences = 20
)

// ChunkRetriever 导航所需的检索能力，由 retrieval.Connector 实现
type ChunkRetriever interface {
	Query(ctx context.Context, dims entity.FilterDimensions, limit int) (*retrieval.QueryResult, error)
	SearchByVector(ctx context.Context, vector []float32, limit int, dims *entity.FilterDimensions) (*retrieval.QueryResult, error)
	CountDocuments(ctx context.Context) (int, error)
}

// IntentEmbedder 意图文本向量化，由 embedding.Service 实现
type IntentEmbedder interface {
	Embed(ctx context.Context, text string, meta map[string]any) ([]float32, error)
}

// Config 引擎配置
type Config struct {
	Weights         Weights       `mapstructure:"weights"`
	Normalization   float64       `mapstructure:"normalization"`
	QueryLimit      int           `mapstructure:"query_limit"`
	SearchLimit     int           `mapstructure:"search_limit"`
	EvidenceLimit   int           `mapstructure:"evidence_limit"`
	MaxConvergences int           `mapstructure:"max_convergences"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.QueryLimit <= 0 {
		c.QueryLimit = defaultQueryLimit
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = defaultSearchLimit
	}
	if c.EvidenceLimit <= 0 {
		c.EvidenceLimit = defaultEvidenceLimit
	}
	if c.MaxConvergences <= 0 {
		c.MaxConvergences = defaultMaxConvergences
	}
	return c
}

// NavigateOptions 单次导航选项，零值使用引擎配置
type NavigateOptions struct {
	// UseVectorSearch 以意图向量做相似度检索（需要配置 IntentEmbedder）
	UseVectorSearch bool
	Limit           int
	MaxConvergences int
	// CorpusDocuments 调用方已知的语料文档总数
	CorpusDocuments int
	Weights         *Weights
}

// Engine 收敛导航引擎
type Engine struct {
	cfg      Config
	scorer   *Scorer
	store    ChunkRetriever
	embedder IntentEmbedder
}

// NewEngine 创建引擎，embedder 可为 nil（仅结构化过滤）
func NewEngine(cfg Config, store ChunkRetriever, embedder IntentEmbedder) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		scorer:   NewScorer(cfg.Weights, cfg.Normalization),
		store:    store,
		embedder: embedder,
	}
}

// VectorSearchEnabled 是否可用向量检索
func (e *Engine) VectorSearchEnabled() bool {
	return e.embedder != nil
}

// Navigate 按意图与维度执行一次收敛导航
func (e *Engine) Navigate(ctx context.Context, intent string, dims entity.FilterDimensions, opts NavigateOptions) (res *entity.NavigationResult, err error) {
	start := time.Now()
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, apperrors.InvalidInput("intent is required")
	}
	if err := dims.Validate(); err != nil {
		return nil, apperrors.InvalidInput("%s", err.Error())
	}
	if opts.Weights != nil && (!opts.Weights.valid() || opts.Weights.IsZero()) {
		return nil, apperrors.InvalidInput("weights must be non-negative and not all zero")
	}
	dims = dims.Normalize()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	ctx = logger.WithComponent(ctx, "convergence")
	ctx, span := tracer.Start(ctx, "convergence.Navigate")
	defer func() {
		tracer.End(span, err)
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res.FromCache:
			status = "cached"
		case res.NoConvergence:
			status = "empty"
		}
		metrics.NavigationTotal.WithLabelValues(status).Inc()
	}()

	res = &entity.NavigationResult{
		Intent:       intent,
		Dimensions:   dims,
		Ranked:       []entity.DocumentConvergence{},
		EvidencePool: []string{},
	}

	qr, err := e.retrieve(ctx, intent, dims, opts, res)
	if err != nil {
		return nil, err
	}
	res.FromCache = qr.FromCache
	if qr.FromCache {
		res.DegradedReason = joinReason(res.DegradedReason, "vector store unavailable, cached result: "+qr.Cause)
	}
	res.ChunksMatched = len(qr.Chunks)

	if len(qr.Chunks) == 0 {
		res.NoConvergence = true
		res.DocumentsConsidered = e.considered(ctx, opts, 0)
		logger.Info(ctx, "navigation found no convergence", "dimensions", dims.Summary())
		return res, nil
	}

	scorer := e.scorer
	if opts.Weights != nil {
		scorer = NewScorer(*opts.Weights, scorer.normalization)
	}
	ranked := scorer.Rank(qr.Chunks, dims)
	res.DocumentsMatched = len(ranked)
	res.EvidencePool = EvidencePool(ranked, e.cfg.EvidenceLimit)

	limit := opts.MaxConvergences
	if limit <= 0 {
		limit = e.cfg.MaxConvergences
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	res.Ranked = ranked

	res.DocumentsConsidered = e.considered(ctx, opts, res.DocumentsMatched)
	res.ReductionRate = ReductionRate(len(ranked), res.DocumentsConsidered)
	res.ReductionPercent = math.Round(res.ReductionRate*1000) / 10
	metrics.NavigationReductionRate.Observe(res.ReductionRate)

	logger.Info(ctx, "navigation completed",
		"documents_considered", res.DocumentsConsidered,
		"convergences", len(res.Ranked),
		"chunks", res.ChunksMatched,
		"reduction_percent", res.ReductionPercent,
		"from_cache", res.FromCache,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// retrieve 向量检索优先；向量化失败且非超时时回退到结构化查询
func (e *Engine) retrieve(ctx context.Context, intent string, dims entity.FilterDimensions, opts NavigateOptions, res *entity.NavigationResult) (*retrieval.QueryResult, error) {
	if opts.UseVectorSearch && e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, intent, nil)
		switch {
		case err == nil:
			limit := opts.Limit
			if limit <= 0 {
				limit = e.cfg.SearchLimit
			}
			res.VectorSearchUsed = true
			return e.store.SearchByVector(ctx, vec, limit, &dims)
		case ctx.Err() != nil, apperrors.IsCode(err, apperrors.CodeTimeout), apperrors.IsCode(err, apperrors.CodeInvalidInput):
			return nil, err
		default:
			logger.Warn(ctx, "intent embedding failed, falling back to structured query", "error", err.Error())
			res.DegradedReason = "vector search unavailable: " + err.Error()
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.QueryLimit
	}
	return e.store.Query(ctx, dims, limit)
}

// considered 语料文档数：调用方提供 > 向量库统计 > 结果中的文档数
func (e *Engine) considered(ctx context.Context, opts NavigateOptions, matched int) int {
	n := opts.CorpusDocuments
	if n <= 0 {
		count, err := e.store.CountDocuments(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "corpus document count unavailable", "error", err.Error())
		}
		if err == nil {
			n = count
		}
	}
	if n < matched {
		n = matched
	}
	return n
}

func joinReason(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
