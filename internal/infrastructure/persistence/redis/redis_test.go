package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFrom(rdb), mr
}

func record(fp string, createdAt time.Time) *entity.EmbeddingRecord {
	return &entity.EmbeddingRecord{
		Fingerprint: fp,
		Vector:      []float32{0.25, -0.5, 1},
		ProviderID:  "local",
		Model:       "nomic-embed-text",
		Dimensions:  3,
		CreatedAt:   createdAt.UTC(),
	}
}

func TestClient_HealthCheck(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestEmbeddingStore_SaveAndGet(t *testing.T) {
	c, mr := newTestClient(t)
	store := NewEmbeddingStore(c, "emb")
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, record("abc", created)))
	assert.True(t, mr.Exists("emb:abc"))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, record("abc", created), got)

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEmbeddingStore_GetMany(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewEmbeddingStore(c, "")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, record("a", now)))
	require.NoError(t, store.Save(ctx, record("c", now)))

	got, err := store.GetMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "c")
	assert.NotContains(t, got, "b")

	empty, err := store.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbeddingStore_Sweep(t *testing.T) {
	c, mr := newTestClient(t)
	store := NewEmbeddingStore(c, "emb")
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{-48 * time.Hour, -time.Hour, 0, time.Hour} {
		require.NoError(t, store.Save(ctx, record(string(rune('a'+i)), cutoff.Add(age))))
	}

	removed, err := store.Sweep(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	assert.False(t, mr.Exists("emb:a"))
	assert.False(t, mr.Exists("emb:b"))
	assert.True(t, mr.Exists("emb:c"), "a record created exactly at the cutoff is kept")
	assert.True(t, mr.Exists("emb:d"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	removed, err = store.Sweep(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEmbeddingStore_SweepManyBatches(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewEmbeddingStore(c, "emb")
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < sweepBatch+20; i++ {
		require.NoError(t, store.Save(ctx, record(time.Duration(i).String(), old)))
	}
	removed, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, sweepBatch+20, removed)
}

func TestResultCache(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewResultCache(c, "results", time.Hour)
	ctx := context.Background()
	stored := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	miss, err := cache.Get(ctx, "query:abc")
	require.NoError(t, err)
	assert.Nil(t, miss)

	in := &repository.CachedResult{
		Key:      "query:abc",
		Summary:  "keywords=cache",
		Chunks:   []entity.Chunk{{ChunkID: "1", DocumentID: "/kb/a.md", FileName: "a.md", Keywords: []string{"cache"}}},
		StoredAt: stored,
	}
	require.NoError(t, cache.Put(ctx, in))
	assert.Equal(t, time.Hour, mr.TTL("results:query:abc"))

	out, err := cache.Get(ctx, "query:abc")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	mr.FastForward(2 * time.Hour)
	expired, err := cache.Get(ctx, "query:abc")
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestResultCache_Purge(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewResultCache(c, "results", 0)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, &repository.CachedResult{Key: "query:a"}))
	require.NoError(t, cache.Put(ctx, &repository.CachedResult{Key: "search:b"}))
	require.NoError(t, mr.Set("emb:keep", "x"))

	n, err := cache.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, mr.Exists("emb:keep"))
	assert.Equal(t, defaultResultTTL, cache.ttl)
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	limiter := NewRateLimiter(c)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()
	key := BuildRateLimitKey("10.0.0.1", "/api/v1/navigate")

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key, 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := limiter.Allow(ctx, key, 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := limiter.Remaining(ctx, key, 3, time.Second)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	now = now.Add(2 * time.Second)
	ok, err = limiter.Allow(ctx, key, 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err = limiter.Remaining(ctx, key, 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}
