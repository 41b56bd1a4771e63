package bootstrap

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "convergence-engine", Version: "test", Env: "test"},
		Vector: config.VectorConfig{
			Backend: BackendQdrant,
			Qdrant:  config.QdrantConfig{URL: "http://127.0.0.1:6333", Collection: "knowledge"},
			Connector: config.ConnectorConfig{
				PageSize: 50,
				Fields:   map[string]string{"temporal": "ts", "categories": "category"},
			},
		},
		Embedding: config.EmbeddingConfig{
			Providers: []config.EmbeddingProviderConfig{
				{Name: "local", Type: "ollama", BaseURL: "http://127.0.0.1:11434", Model: "nomic-embed-text"},
			},
			Dimension: 768,
			Cache:     config.EmbeddingCacheConfig{Store: StoreNone, Capacity: 100},
		},
	}
}

func useMiniredis(t *testing.T, cfg *config.Config) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	cfg.Cache.Redis.Host = host
	cfg.Cache.Redis.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	return mr
}

func TestConfigMapping(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.AllowFallback = true
	cfg.Embedding.Breaker = config.BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second}
	cfg.Embedding.Cache.TTL = time.Hour
	cfg.Embedding.CallTimeout = 5 * time.Second
	cfg.Convergence.Weights = config.WeightsConfig{Similarity: 0.5, ChunkCount: 0.3, KeywordOverlap: 0.2}
	cfg.Convergence.MaxConvergences = 7

	chain := ChainConfig(cfg.Embedding)
	assert.True(t, chain.AllowFallback)
	assert.EqualValues(t, 3, chain.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, chain.Breaker.Cooldown)

	emb := EmbeddingConfig(cfg.Embedding)
	assert.Equal(t, 768, emb.Dimension)
	assert.Equal(t, 100, emb.CacheCapacity)
	assert.Equal(t, time.Hour, emb.CacheTTL)
	assert.Equal(t, 5*time.Second, emb.LoadTimeout, "one call timeout per provider in the chain")

	conn := ConnectorConfig(cfg.Vector.Connector)
	assert.Equal(t, 50, conn.PageSize)
	assert.Equal(t, "ts", conn.Fields.Temporal)
	assert.Equal(t, "category", conn.Fields.Categories)
	assert.Empty(t, conn.Fields.Keywords)

	eng := EngineConfig(cfg.Convergence)
	assert.Equal(t, 0.5, eng.Weights.Similarity)
	assert.Equal(t, 7, eng.MaxConvergences)

	wu := WarmupConfig(config.WarmupConfig{Window: time.Second, MaxBatch: 8})
	assert.Equal(t, time.Second, wu.Window)
	assert.Equal(t, 8, wu.MaxBatch)
}

func TestNewDataLayer_UnsupportedSelections(t *testing.T) {
	ctx := context.Background()

	t.Run("cache store", func(t *testing.T) {
		cfg := testConfig()
		cfg.Embedding.Cache.Store = "memcached"
		_, err := NewDataLayer(ctx, cfg, DataOptions{})
		assert.ErrorContains(t, err, "memcached")
	})

	t.Run("vector backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.Vector.Backend = "chroma"
		_, err := NewDataLayer(ctx, cfg, DataOptions{})
		assert.ErrorContains(t, err, "chroma")
	})

	t.Run("required redis unreachable", func(t *testing.T) {
		cfg := testConfig()
		cfg.Cache.Redis = config.RedisConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 50 * time.Millisecond}
		_, err := NewDataLayer(ctx, cfg, DataOptions{RequireRedis: true})
		assert.ErrorContains(t, err, "connect redis")
	})
}

func TestNewDataLayer_OptionalRedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Redis = config.RedisConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 50 * time.Millisecond}
	cfg.Vector.ResultCache.Enabled = true

	data, err := NewDataLayer(context.Background(), cfg, DataOptions{})
	require.NoError(t, err)
	defer data.Close()

	assert.Nil(t, data.Redis)
	assert.Nil(t, data.ResultCache)
	assert.Nil(t, data.RateLimiter)
	assert.NotNil(t, data.VectorStore)
}

func TestNewDataLayer_RedisStore(t *testing.T) {
	cfg := testConfig()
	useMiniredis(t, cfg)
	cfg.Embedding.Cache.Store = StoreRedis
	cfg.Embedding.Cache.KeyPrefix = "emb:"
	cfg.Vector.ResultCache = config.ResultCacheConfig{Enabled: true, KeyPrefix: "vq:", TTL: time.Minute}

	data, err := NewDataLayer(context.Background(), cfg, DataOptions{SkipVectorStore: true})
	require.NoError(t, err)
	defer data.Close()

	assert.NotNil(t, data.Redis)
	assert.NotNil(t, data.EmbeddingStore)
	assert.NotNil(t, data.ResultCache)
	assert.NotNil(t, data.RateLimiter)
	assert.Nil(t, data.VectorStore)

	deps := HealthDependencies(data)
	require.Len(t, deps, 1)
	assert.Equal(t, "redis", deps[0].Name)
	assert.False(t, deps[0].Required)
	assert.NotNil(t, NewProducer(cfg, data))
}

func TestNewServices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	data, err := NewDataLayer(ctx, cfg, DataOptions{})
	require.NoError(t, err)
	defer data.Close()

	svc, err := NewServices(ctx, cfg, data)
	require.NoError(t, err)
	assert.NotNil(t, svc.Embedding)
	assert.NotNil(t, svc.Engine)
	assert.NotNil(t, svc.Analyzer)
	assert.Equal(t, BackendQdrant, svc.Connector.Backend())

	deps := HealthDependencies(data)
	require.Len(t, deps, 1)
	assert.Equal(t, "qdrant", deps[0].Name)
	assert.True(t, deps[0].Required)
	assert.Nil(t, NewProducer(cfg, data))
}

func TestNewServices_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no vector store", func(t *testing.T) {
		_, err := NewServices(ctx, testConfig(), &DataLayer{})
		assert.ErrorContains(t, err, "vector store")
	})

	t.Run("no providers", func(t *testing.T) {
		cfg := testConfig()
		cfg.Embedding.Providers = nil
		data, err := NewDataLayer(ctx, cfg, DataOptions{})
		require.NoError(t, err)
		defer data.Close()

		_, err = NewServices(ctx, cfg, data)
		assert.ErrorContains(t, err, "no embedding providers")
	})
}

func TestNewRouter_ServesLiveness(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	useMiniredis(t, cfg)
	cfg.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 100, Burst: 100}

	data, err := NewDataLayer(ctx, cfg, DataOptions{})
	require.NoError(t, err)
	defer data.Close()
	svc, err := NewServices(ctx, cfg, data)
	require.NoError(t, err)

	r := NewRouter(cfg, data, svc)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
