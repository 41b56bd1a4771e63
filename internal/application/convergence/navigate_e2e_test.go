package convergence_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/application/convergence"
	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/config"
	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/infrastructure/persistence/qdrant"
)

// corpusServer 按 should 条件过滤的最小 Qdrant 实现
func corpusServer(t *testing.T, points []map[string]any) *httptest.Server {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, result any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
	}
	mux.HandleFunc("GET /collections/knowledge", func(w http.ResponseWriter, _ *http.Request) {
		write(w, map[string]any{"status": "green", "points_count": len(points)})
	})
	mux.HandleFunc("POST /collections/knowledge/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter *retrieval.Filter `json:"filter"`
			Limit  int               `json:"limit"`
			Offset *int              `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var matched []map[string]any
		for _, p := range points {
			if matches(body.Filter, p["payload"].(map[string]any)) {
				matched = append(matched, p)
			}
		}
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		end := start + body.Limit
		if end > len(matched) {
			end = len(matched)
		}
		var next any
		if end < len(matched) {
			next = end
		}
		write(w, map[string]any{"points": matched[start:end], "next_page_offset": next})
	})
	return httptest.NewServer(mux)
}

func matches(f *retrieval.Filter, payload map[string]any) bool {
	if f == nil || len(f.Should) == 0 {
		return true
	}
	for _, cond := range f.Should {
		switch v := payload[cond.Key].(type) {
		case []any:
			for _, item := range v {
				if item == cond.Match.Value {
					return true
				}
			}
		case string:
			if v == cond.Match.Value {
				return true
			}
		}
	}
	return false
}

func buildCorpus() []map[string]any {
	var points []map[string]any
	id := 0
	add := func(file string, chunks int, keywords, categories []any) {
		for i := 0; i < chunks; i++ {
			points = append(points, map[string]any{
				"id": id,
				"payload": map[string]any{
					"content":          fmt.Sprintf("%s part %d", file, i),
					"filePath":         "/kb/" + file,
					"keywords":         keywords,
					"categories":       categories,
					"convergenceScore": 0.5,
					"chunkIndex":       i,
					"totalChunks":      chunks,
				},
			})
			id++
		}
	}

	add("redis-tuning.md", 4, []any{"cache", "performance"}, []any{"Técnico"})
	add("cdn-notes.md", 3, []any{"cache", "cdn"}, []any{"Técnico"})
	add("profiling.md", 2, []any{"performance"}, []any{"Aprendizado"})
	add("db-index.md", 2, []any{"database"}, []any{"Técnico"})
	add("http-cache.md", 1, []any{"cache"}, []any{})
	for i := 0; i < 13; i++ {
		add(fmt.Sprintf("journal-%02d.md", i), 2, []any{"planning", "team"}, []any{"Estratégico"})
	}
	return points
}

func TestNavigate_EndToEnd(t *testing.T) {
	srv := corpusServer(t, buildCorpus())
	defer srv.Close()

	client, err := qdrant.NewClient(&config.QdrantConfig{URL: srv.URL, Collection: "knowledge"})
	require.NoError(t, err)
	conn := retrieval.NewConnector(retrieval.Config{}, client, nil)
	engine := convergence.NewEngine(convergence.Config{}, conn, nil)

	dims := entity.FilterDimensions{
		SemanticKeywords: []string{"performance", "cache"},
		Categories:       []string{"Técnico"},
	}
	res, err := engine.Navigate(context.Background(), "how do we keep the cache fast", dims, convergence.NavigateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 18, res.DocumentsConsidered)
	assert.Equal(t, 5, res.DocumentsMatched)
	assert.LessOrEqual(t, len(res.Ranked), 5)
	assert.InDelta(t, 0.72, res.ReductionRate, 0.005)
	assert.Equal(t, 72.2, res.ReductionPercent)
	assert.False(t, res.NoConvergence)
	assert.False(t, res.FromCache)

	pool := append([]string(nil), res.EvidencePool...)
	sort.Strings(pool)
	assert.Equal(t, []string{"cdn-notes.md", "db-index.md", "http-cache.md", "profiling.md", "redis-tuning.md"}, pool)

	// redis-tuning：最多块且关键词全部命中
	assert.Equal(t, "/kb/redis-tuning.md", res.Ranked[0].DocumentID)
	assert.Equal(t, 4, res.Ranked[0].ChunkCount)
	assert.InDelta(t, 1.0, res.Ranked[0].Coverage, 1e-9)
}

func TestNavigate_EndToEndIsDeterministic(t *testing.T) {
	srv := corpusServer(t, buildCorpus())
	defer srv.Close()

	client, err := qdrant.NewClient(&config.QdrantConfig{URL: srv.URL, Collection: "knowledge"})
	require.NoError(t, err)
	engine := convergence.NewEngine(convergence.Config{}, retrieval.NewConnector(retrieval.Config{}, client, nil), nil)
	dims := entity.FilterDimensions{SemanticKeywords: []string{"cache"}}

	first, err := engine.Navigate(context.Background(), "cache", dims, convergence.NavigateOptions{})
	require.NoError(t, err)
	second, err := engine.Navigate(context.Background(), "cache", dims, convergence.NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Ranked, second.Ranked)
	assert.Equal(t, first.EvidencePool, second.EvidencePool)
}
