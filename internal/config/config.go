// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Convergence   ConvergenceConfig   `yaml:"convergence" mapstructure:"convergence"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	// AutoMigrate 启动时创建 embedding_cache 表与 vector 扩展
	AutoMigrate bool `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量库配置
type VectorConfig struct {
	// Backend qdrant | milvus
	Backend     string            `yaml:"backend" mapstructure:"backend"`
	Qdrant      QdrantConfig      `yaml:"qdrant" mapstructure:"qdrant"`
	Milvus      MilvusConfig      `yaml:"milvus" mapstructure:"milvus"`
	Connector   ConnectorConfig   `yaml:"connector" mapstructure:"connector"`
	ResultCache ResultCacheConfig `yaml:"result_cache" mapstructure:"result_cache"`
}

// QdrantConfig Qdrant HTTP 配置
type QdrantConfig struct {
	URL        string        `yaml:"url" mapstructure:"url"`
	Collection string        `yaml:"collection" mapstructure:"collection"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
	VectorField string `yaml:"vector_field" mapstructure:"vector_field"`
	// PayloadField 存放 JSON payload 的字段
	PayloadField string `yaml:"payload_field" mapstructure:"payload_field"`
	MetricType   string `yaml:"metric_type" mapstructure:"metric_type"`
	// DialTimeout 建连超时
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// ConnectorConfig 连接器配置
type ConnectorConfig struct {
	PageSize        int           `yaml:"page_size" mapstructure:"page_size"`
	DefaultLimit    int           `yaml:"default_limit" mapstructure:"default_limit"`
	MaxSearchLimit  int           `yaml:"max_search_limit" mapstructure:"max_search_limit"`
	CorpusScanLimit int           `yaml:"corpus_scan_limit" mapstructure:"corpus_scan_limit"`
	CorpusCountTTL  time.Duration `yaml:"corpus_count_ttl" mapstructure:"corpus_count_ttl"`
	// Fields 维度对应的 payload 字段名
	Fields map[string]string `yaml:"fields" mapstructure:"fields"`
}

// ResultCacheConfig 降级缓存配置
type ResultCacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	// Providers 按优先级排列，第一个为主提供方
	Providers []EmbeddingProviderConfig `yaml:"providers" mapstructure:"providers"`
	// AllowFallback 显式授权主提供方故障时切换到后续提供方
	AllowFallback    bool                 `yaml:"allow_fallback" mapstructure:"allow_fallback"`
	Dimension        int                  `yaml:"dimension" mapstructure:"dimension"`
	StrictDimensions bool                 `yaml:"strict_dimensions" mapstructure:"strict_dimensions"`
	CallTimeout      time.Duration        `yaml:"call_timeout" mapstructure:"call_timeout"`
	Breaker          BreakerConfig        `yaml:"breaker" mapstructure:"breaker"`
	RateLimit        ProviderRateConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Cache            EmbeddingCacheConfig `yaml:"cache" mapstructure:"cache"`
	Batch            BatchConfig          `yaml:"batch" mapstructure:"batch"`
	Warmup           WarmupConfig         `yaml:"warmup" mapstructure:"warmup"`
	Sweep            SweepConfig          `yaml:"sweep" mapstructure:"sweep"`
}

// EmbeddingProviderConfig 嵌入提供方配置
type EmbeddingProviderConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Type ollama | openai | eino
	Type      string        `yaml:"type" mapstructure:"type"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Model     string        `yaml:"model" mapstructure:"model"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// ProviderRateConfig 提供方调用限速，RPS<=0 不限速
type ProviderRateConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// EmbeddingCacheConfig 两级缓存配置
type EmbeddingCacheConfig struct {
	Capacity int           `yaml:"capacity" mapstructure:"capacity"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// Store 持久层实现：redis | postgres | none
	Store     string `yaml:"store" mapstructure:"store"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// BatchConfig 批量嵌入配置
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// WarmupConfig 预热队列配置
type WarmupConfig struct {
	Window   time.Duration `yaml:"window" mapstructure:"window"`
	MaxBatch int           `yaml:"max_batch" mapstructure:"max_batch"`
}

// SweepConfig 定时清理配置，Interval<=0 时仅响应显式清理请求
type SweepConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ConvergenceConfig 收敛评分配置
type ConvergenceConfig struct {
	Weights         WeightsConfig `yaml:"weights" mapstructure:"weights"`
	Normalization   float64       `yaml:"normalization" mapstructure:"normalization"`
	QueryLimit      int           `yaml:"query_limit" mapstructure:"query_limit"`
	SearchLimit     int           `yaml:"search_limit" mapstructure:"search_limit"`
	EvidenceLimit   int           `yaml:"evidence_limit" mapstructure:"evidence_limit"`
	MaxConvergences int           `yaml:"max_convergences" mapstructure:"max_convergences"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WeightsConfig 密度权重
type WeightsConfig struct {
	Similarity     float64 `yaml:"similarity" mapstructure:"similarity"`
	ChunkCount     float64 `yaml:"chunk_count" mapstructure:"chunk_count"`
	KeywordOverlap float64 `yaml:"keyword_overlap" mapstructure:"keyword_overlap"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
