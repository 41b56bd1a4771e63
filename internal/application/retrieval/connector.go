// Package retrieval 提供向量库连接器：过滤构建、游标分页、结果规范化与降级缓存
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
	"convergence-engine/pkg/tracer"
)

const (
	// MaxPageSize 单页请求上限，与调用方 limit 无关
	MaxPageSize           = 100
	defaultQueryLimit     = 1000
	defaultSearchLimit    = 20
	maxSearchLimit        = 100
	defaultCorpusScan     = 10000
	defaultCorpusCountTTL = 5 * time.Minute
)

// Config 连接器配置
type Config struct {
	PageSize       int `mapstructure:"page_size"`
	DefaultLimit   int `mapstructure:"default_limit"`
	MaxSearchLimit int `mapstructure:"max_search_limit"`

	// CorpusScanLimit 统计语料文档数时最多扫描的点数
	CorpusScanLimit int           `mapstructure:"corpus_scan_limit"`
	CorpusCountTTL  time.Duration `mapstructure:"corpus_count_ttl"`

	Fields FilterFields `mapstructure:"fields"`
	Paths  FieldPaths   `mapstructure:"paths"`
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = defaultQueryLimit
	}
	if c.MaxSearchLimit <= 0 {
		c.MaxSearchLimit = maxSearchLimit
	}
	if c.CorpusScanLimit <= 0 {
		c.CorpusScanLimit = defaultCorpusScan
	}
	if c.CorpusCountTTL <= 0 {
		c.CorpusCountTTL = defaultCorpusCountTTL
	}
	c.Fields = c.Fields.withDefaults()
	return c
}

// Connector 向量库连接器
type Connector struct {
	cfg        Config
	store      VectorStore
	cache      repository.ResultCache
	normalizer *Normalizer

	connected atomic.Bool

	countMu   sync.Mutex
	count     int
	countedAt time.Time
	now       func() time.Time
}

// NewConnector 创建连接器，cache 可为 nil（此时降级模式只返回显式错误）
func NewConnector(cfg Config, store VectorStore, cache repository.ResultCache) *Connector {
	cfg = cfg.withDefaults()
	return &Connector{
		cfg:        cfg,
		store:      store,
		cache:      cache,
		normalizer: NewNormalizer(cfg.Paths),
		now:        time.Now,
	}
}

// Connected 最近一次探测或请求时向量库是否可达
func (c *Connector) Connected() bool {
	return c.connected.Load()
}

// Backend 后端名称
func (c *Connector) Backend() string {
	if c.store == nil {
		return ""
	}
	return c.store.Backend()
}

// Normalizer 返回连接器使用的规范化器
func (c *Connector) Normalizer() *Normalizer {
	return c.normalizer
}

// Collection 集合状态
func (c *Connector) Collection(ctx context.Context) (*entity.CollectionInfo, error) {
	if c.store == nil {
		return nil, StoreUnavailable("none", ErrNoStore)
	}
	info, err := c.store.Describe(ctx)
	if err != nil {
		c.markFailure(ctx, err)
		return nil, err
	}
	c.connected.Store(true)
	return info, nil
}

// Query 按维度执行结构化过滤查询
func (c *Connector) Query(ctx context.Context, dims entity.FilterDimensions, limit int) (*QueryResult, error) {
	if err := dims.Validate(); err != nil {
		return nil, apperrors.InvalidInput("%s", err.Error())
	}
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	dims = dims.Normalize()

	ctx, span := tracer.Start(ctx, "retrieval.Query")
	var err error
	defer func() { tracer.End(span, err) }()

	key := "query:" + dims.Hash()
	var res *QueryResult
	res, err = c.run(ctx, key, dims, limit, func(ctx context.Context) (*QueryResult, error) {
		points, pages, err := c.scrollAll(ctx, BuildFilter(dims, c.cfg.Fields), limit, true)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Chunks: c.normalizer.Chunks(points), Pages: pages}, nil
	})
	return res, err
}

// SearchByVector 向量相似度检索，dims 为 nil 时不附加过滤
func (c *Connector) SearchByVector(ctx context.Context, vector []float32, limit int, dims *entity.FilterDimensions) (*QueryResult, error) {
	if len(vector) == 0 {
		return nil, apperrors.InvalidInput("query vector is empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > c.cfg.MaxSearchLimit {
		limit = c.cfg.MaxSearchLimit
	}

	var (
		filter *Filter
		d      entity.FilterDimensions
	)
	if dims != nil {
		if err := dims.Validate(); err != nil {
			return nil, apperrors.InvalidInput("%s", err.Error())
		}
		d = dims.Normalize()
		filter = BuildFilter(d, c.cfg.Fields)
	}

	ctx, span := tracer.Start(ctx, "retrieval.SearchByVector")
	var err error
	defer func() { tracer.End(span, err) }()

	key := "search:" + vectorHash(vector) + ":" + d.Hash() + ":" + strconv.Itoa(limit)
	var res *QueryResult
	res, err = c.run(ctx, key, d, limit, func(ctx context.Context) (*QueryResult, error) {
		points, err := c.store.Search(ctx, &SearchRequest{
			Vector:      vector,
			Limit:       limit,
			Filter:      filter,
			WithPayload: true,
		})
		if err != nil {
			return nil, err
		}
		return &QueryResult{Chunks: c.normalizer.Chunks(points), Pages: 1}, nil
	})
	return res, err
}

// run 执行查询：必要时先探测连通性，连接失败时回退到降级缓存
func (c *Connector) run(ctx context.Context, key string, dims entity.FilterDimensions, limit int, fn func(context.Context) (*QueryResult, error)) (*QueryResult, error) {
	if c.store == nil {
		return c.degrade(ctx, key, dims, limit, StoreUnavailable("none", ErrNoStore))
	}
	if err := c.ensureConnected(ctx); err != nil {
		if isConnectivityError(err) {
			return c.degrade(ctx, key, dims, limit, err)
		}
		return nil, err
	}

	res, err := fn(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.Wrap(ctxErr, apperrors.CodeTimeout, "vector store request cancelled")
		}
		if isConnectivityError(err) {
			c.markFailure(ctx, err)
			return c.degrade(ctx, key, dims, limit, err)
		}
		return nil, err
	}

	c.remember(ctx, key, dims, res)
	return res, nil
}

// ensureConnected 未连接时惰性探测
func (c *Connector) ensureConnected(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if _, err := c.store.Describe(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.Wrap(ctxErr, apperrors.CodeTimeout, "vector store probe cancelled")
		}
		return err
	}
	if !c.connected.Swap(true) {
		logger.Info(ctx, "vector store connected", "backend", c.store.Backend(), "collection", c.store.Collection())
	}
	return nil
}

func (c *Connector) markFailure(ctx context.Context, err error) {
	if isConnectivityError(err) && c.connected.Swap(false) {
		logger.Warn(ctx, "vector store connection lost", "backend", c.store.Backend(), "error", err.Error())
	}
}

// scrollAll 顺序翻页直到游标耗尽或达到 limit，每页不超过 PageSize
func (c *Connector) scrollAll(ctx context.Context, filter *Filter, limit int, withPayload bool) ([]Point, int, error) {
	var (
		out    []Point
		offset any
		pages  int
	)
	for len(out) < limit {
		size := c.cfg.PageSize
		if rest := limit - len(out); rest < size {
			size = rest
		}
		page, err := c.store.Scroll(ctx, &ScrollRequest{
			Filter:      filter,
			Limit:       size,
			Offset:      offset,
			WithPayload: withPayload,
		})
		if err != nil {
			return nil, pages, err
		}
		pages++
		out = append(out, page.Points...)
		if page.NextOffset == nil || len(page.Points) == 0 {
			break
		}
		offset = page.NextOffset
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, pages, nil
}

// ScrollChunks 扫描全部匹配点并规范化，最多 limit 个；truncated 表示仍有剩余
func (c *Connector) ScrollChunks(ctx context.Context, dims entity.FilterDimensions, limit int) (chunks []entity.Chunk, truncated bool, err error) {
	if c.store == nil {
		return nil, false, StoreUnavailable("none", ErrNoStore)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, false, err
	}
	points, _, err := c.scrollAll(ctx, BuildFilter(dims, c.cfg.Fields), limit+1, true)
	if err != nil {
		c.markFailure(ctx, err)
		return nil, false, err
	}
	if len(points) > limit {
		points = points[:limit]
		truncated = true
	}
	return c.normalizer.Chunks(points), truncated, nil
}

// CountDocuments 语料中不同文档的数量，结果按 CorpusCountTTL 缓存
func (c *Connector) CountDocuments(ctx context.Context) (int, error) {
	c.countMu.Lock()
	defer c.countMu.Unlock()

	if !c.countedAt.IsZero() && c.now().Sub(c.countedAt) < c.cfg.CorpusCountTTL {
		return c.count, nil
	}

	chunks, truncated, err := c.ScrollChunks(ctx, entity.FilterDimensions{}, c.cfg.CorpusScanLimit)
	if err != nil {
		return 0, err
	}
	if truncated {
		logger.Warn(ctx, "corpus document count truncated", "scan_limit", c.cfg.CorpusScanLimit)
	}
	docs := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		docs[ch.DocumentID] = struct{}{}
	}
	c.count = len(docs)
	c.countedAt = c.now()
	return c.count, nil
}

func (c *Connector) remember(ctx context.Context, key string, dims entity.FilterDimensions, res *QueryResult) {
	if c.cache == nil {
		return
	}
	err := c.cache.Put(ctx, &repository.CachedResult{
		Key:      key,
		Summary:  dims.Summary(),
		Chunks:   res.Chunks,
		StoredAt: c.now().UTC(),
	})
	if err != nil {
		logger.Warn(ctx, "failed to store degraded-mode result", "key", key, "error", err.Error())
	}
}

// degrade 返回等价过滤条件下最近一次成功的结果（截断到本次 limit）；无缓存时返回空结果与显式错误
func (c *Connector) degrade(ctx context.Context, key string, dims entity.FilterDimensions, limit int, cause error) (*QueryResult, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, key)
		if err != nil {
			logger.Warn(ctx, "degraded-mode cache read failed", "key", key, "error", err.Error())
		}
		if cached != nil {
			chunks := cached.Chunks
			if limit > 0 && len(chunks) > limit {
				chunks = chunks[:limit]
			}
			metrics.VectorStoreDegradedTotal.WithLabelValues("cache_hit").Inc()
			logger.Warn(ctx, "vector store unavailable, serving cached result",
				"dimensions", dims.Summary(),
				"cached_at", cached.StoredAt,
				"chunks", len(chunks),
			)
			return &QueryResult{
				Chunks:    chunks,
				FromCache: true,
				CachedAt:  cached.StoredAt,
				Cause:     cause.Error(),
			}, nil
		}
	}

	metrics.VectorStoreDegradedTotal.WithLabelValues("cache_miss").Inc()
	err := noCachedResult(cause, dims)
	return &QueryResult{Chunks: []entity.Chunk{}, Cause: err.Error()}, err
}

func vectorHash(v []float32) string {
	h := sha256.New()
	var buf [4]byte
	for _, f := range v {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

