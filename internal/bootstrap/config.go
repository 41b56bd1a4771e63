package bootstrap

import (
	"time"

	"convergence-engine/internal/application/convergence"
	"convergence-engine/internal/application/embedding"
	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/application/warmup"
	"convergence-engine/internal/config"
)

// EmbeddingConfig 配置映射到嵌入服务
func EmbeddingConfig(cfg config.EmbeddingConfig) embedding.Config {
	return embedding.Config{
		Dimension:        cfg.Dimension,
		StrictDimensions: cfg.StrictDimensions,
		CacheCapacity:    cfg.Cache.Capacity,
		CacheTTL:         cfg.Cache.TTL,
		BatchWorkers:     cfg.Batch.Workers,
		// 链上每个提供方最多占用一个 CallTimeout
		LoadTimeout: cfg.CallTimeout * time.Duration(max(len(cfg.Providers), 1)),
	}
}

// ChainConfig 配置映射到提供方链
func ChainConfig(cfg config.EmbeddingConfig) embedding.ChainConfig {
	return embedding.ChainConfig{
		AllowFallback: cfg.AllowFallback,
		Breaker: embedding.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		CallTimeout: cfg.CallTimeout,
		RateLimit:   cfg.RateLimit.RPS,
		RateBurst:   cfg.RateLimit.Burst,
	}
}

// ConnectorConfig 配置映射到向量库连接器
func ConnectorConfig(cfg config.ConnectorConfig) retrieval.Config {
	return retrieval.Config{
		PageSize:        cfg.PageSize,
		DefaultLimit:    cfg.DefaultLimit,
		MaxSearchLimit:  cfg.MaxSearchLimit,
		CorpusScanLimit: cfg.CorpusScanLimit,
		CorpusCountTTL:  cfg.CorpusCountTTL,
		Fields: retrieval.FilterFields{
			Temporal:     cfg.Fields["temporal"],
			Keywords:     cfg.Fields["keywords"],
			Categories:   cfg.Fields["categories"],
			AnalysisType: cfg.Fields["analysis_type"],
		},
	}
}

// EngineConfig 配置映射到收敛引擎
func EngineConfig(cfg config.ConvergenceConfig) convergence.Config {
	return convergence.Config{
		Weights: convergence.Weights{
			Similarity:     cfg.Weights.Similarity,
			ChunkCount:     cfg.Weights.ChunkCount,
			KeywordOverlap: cfg.Weights.KeywordOverlap,
		},
		Normalization:   cfg.Normalization,
		QueryLimit:      cfg.QueryLimit,
		SearchLimit:     cfg.SearchLimit,
		EvidenceLimit:   cfg.EvidenceLimit,
		MaxConvergences: cfg.MaxConvergences,
		Timeout:         cfg.Timeout,
	}
}

// WarmupConfig 配置映射到预热队列
func WarmupConfig(cfg config.WarmupConfig) warmup.Config {
	return warmup.Config{Window: cfg.Window, MaxBatch: cfg.MaxBatch}
}
