// Package bootstrap 按配置显式组装各二进制共用的依赖
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"convergence-engine/internal/application/analysis"
	"convergence-engine/internal/application/convergence"
	"convergence-engine/internal/application/embedding"
	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/config"
	"convergence-engine/internal/domain/repository"
	infraembedding "convergence-engine/internal/infrastructure/embedding"
	"convergence-engine/internal/infrastructure/persistence/milvus"
	"convergence-engine/internal/infrastructure/persistence/postgres"
	"convergence-engine/internal/infrastructure/persistence/qdrant"
	"convergence-engine/internal/infrastructure/persistence/redis"
	"convergence-engine/pkg/logger"
)

// 持久层与向量库后端
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreNone     = "none"

	BackendQdrant = "qdrant"
	BackendMilvus = "milvus"
)

// DataLayer 基础设施依赖容器
type DataLayer struct {
	Redis    *redis.Client
	Postgres *postgres.Client
	Qdrant   *qdrant.Client
	Milvus   *milvus.Client

	VectorStore    retrieval.VectorStore
	EmbeddingStore repository.EmbeddingRepository
	ResultCache    repository.ResultCache
	RateLimiter    *redis.RateLimiter

	closers []func() error
}

// DataOptions 控制哪些依赖必须可用
type DataOptions struct {
	// RequireRedis 为 true 时 Redis 连接失败直接返回错误（消息队列依赖 Redis）
	RequireRedis bool
	// SkipVectorStore 不连接向量库（仅做缓存清理的进程）
	SkipVectorStore bool
}

// NewDataLayer 按配置连接 Redis、Postgres 与向量库
func NewDataLayer(ctx context.Context, cfg *config.Config, opts DataOptions) (*DataLayer, error) {
	d := &DataLayer{}
	store := strings.ToLower(cfg.Embedding.Cache.Store)
	if store == "" {
		store = StoreNone
	}

	needRedis := opts.RequireRedis || store == StoreRedis
	wantRedis := needRedis || cfg.Vector.ResultCache.Enabled || cfg.Security.RateLimit.Enabled
	if wantRedis {
		rc, err := redis.NewClient(ctx, &cfg.Cache.Redis)
		switch {
		case err == nil:
			d.Redis = rc
			d.closers = append(d.closers, rc.Close)
		case needRedis:
			d.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		default:
			logger.Warn(ctx, "redis unavailable, result cache and rate limiting disabled", "error", err.Error())
		}
	}

	switch store {
	case StoreRedis:
		d.EmbeddingStore = redis.NewEmbeddingStore(d.Redis, cfg.Embedding.Cache.KeyPrefix)
	case StorePostgres:
		pg, err := postgres.NewClient(ctx, &cfg.Database.Postgres)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.Postgres = pg
		d.closers = append(d.closers, pg.Close)
		repo := postgres.NewEmbeddingRepository(pg)
		if cfg.Database.Postgres.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				d.Close()
				return nil, fmt.Errorf("migrate embedding cache: %w", err)
			}
		}
		d.EmbeddingStore = repo
	case StoreNone:
	default:
		d.Close()
		return nil, fmt.Errorf("unsupported embedding cache store %q", cfg.Embedding.Cache.Store)
	}

	if d.Redis != nil {
		if cfg.Vector.ResultCache.Enabled {
			d.ResultCache = redis.NewResultCache(d.Redis, cfg.Vector.ResultCache.KeyPrefix, cfg.Vector.ResultCache.TTL)
		}
		d.RateLimiter = redis.NewRateLimiter(d.Redis)
	}

	if !opts.SkipVectorStore {
		if err := d.connectVectorStore(ctx, cfg.Vector); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *DataLayer) connectVectorStore(ctx context.Context, cfg config.VectorConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendQdrant:
		qc, err := qdrant.NewClient(&cfg.Qdrant)
		if err != nil {
			return fmt.Errorf("init qdrant: %w", err)
		}
		d.Qdrant = qc
		d.VectorStore = qc
	case BackendMilvus:
		mc, err := milvus.NewClient(ctx, &cfg.Milvus)
		if err != nil {
			return fmt.Errorf("connect milvus: %w", err)
		}
		d.Milvus = mc
		d.VectorStore = mc
		d.closers = append(d.closers, mc.Close)
	default:
		return fmt.Errorf("unsupported vector backend %q", cfg.Backend)
	}
	return nil
}

// Close 按创建的逆序关闭连接
func (d *DataLayer) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn(context.Background(), "close dependency failed", "error", err.Error())
		}
	}
	d.closers = nil
}

// Services 应用服务容器
type Services struct {
	Embedding *embedding.Service
	Connector *retrieval.Connector
	Engine    *convergence.Engine
	Analyzer  *analysis.Analyzer
}

// NewEmbeddingService 创建提供方链与两级缓存服务
func NewEmbeddingService(ctx context.Context, cfg config.EmbeddingConfig, store repository.EmbeddingRepository) (*embedding.Service, error) {
	providers, err := infraembedding.NewProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chain, err := embedding.NewProviderChain(ChainConfig(cfg), providers...)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "embedding provider chain ready",
		"primary", chain.Primary().Name(),
		"providers", len(providers),
		"allow_fallback", chain.AllowFallback(),
	)
	return embedding.NewService(EmbeddingConfig(cfg), chain, store), nil
}

// NewServices 组装嵌入服务、连接器、收敛引擎与语料分析
func NewServices(ctx context.Context, cfg *config.Config, data *DataLayer) (*Services, error) {
	if data.VectorStore == nil {
		return nil, fmt.Errorf("vector store not configured")
	}
	svc, err := NewEmbeddingService(ctx, cfg.Embedding, data.EmbeddingStore)
	if err != nil {
		return nil, fmt.Errorf("init embedding service: %w", err)
	}

	connector := retrieval.NewConnector(ConnectorConfig(cfg.Vector.Connector), data.VectorStore, data.ResultCache)
	return &Services{
		Embedding: svc,
		Connector: connector,
		Engine:    convergence.NewEngine(EngineConfig(cfg.Convergence), connector, svc),
		Analyzer:  analysis.NewAnalyzer(connector, cfg.Vector.Connector.CorpusScanLimit),
	}, nil
}
