package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/config"
	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

// fakeQdrant 用固定点集模拟 scroll 游标分页
type fakeQdrant struct {
	points  []map[string]any
	scrolls atomic.Int64
	bodies  []map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/kb", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, map[string]any{"status": "green", "points_count": len(f.points), "vectors_count": len(f.points), "segments_count": 2})
	})
	mux.HandleFunc("POST /collections/kb/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		f.scrolls.Add(1)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.bodies = append(f.bodies, body)

		start := 0
		if off, ok := body["offset"].(float64); ok {
			start = int(off)
		}
		limit := int(body["limit"].(float64))
		end := start + limit
		if end > len(f.points) {
			end = len(f.points)
		}
		var next any
		if end < len(f.points) {
			next = end
		}
		writeResult(w, map[string]any{"points": f.points[start:end], "next_page_offset": next})
	})
	mux.HandleFunc("POST /collections/kb/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.bodies = append(f.bodies, body)
		writeResult(w, []map[string]any{
			{"id": "7c9e6679-7425-40de-944b-e07fc1f90ae7", "score": 0.87, "payload": map[string]any{"content": "hit"}},
		})
	})
	return mux
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func makePoints(n int) []map[string]any {
	points := make([]map[string]any, n)
	for i := range points {
		points[i] = map[string]any{
			"id":      i,
			"payload": map[string]any{"content": fmt.Sprintf("chunk %d", i), "chunkIndex": i % 4},
		}
	}
	return points
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(&config.QdrantConfig{URL: url, Collection: "kb"})
	require.NoError(t, err)
	return c
}

func TestClient_Describe(t *testing.T) {
	fake := &fakeQdrant{points: makePoints(12)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	info, err := newTestClient(t, srv.URL).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &entity.CollectionInfo{Name: "kb", Status: "green", PointsCount: 12, VectorsCount: 12, SegmentsCount: 2}, info)
}

func TestClient_ScrollThroughConnector(t *testing.T) {
	fake := &fakeQdrant{points: makePoints(247)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	conn := retrieval.NewConnector(retrieval.Config{}, newTestClient(t, srv.URL), nil)
	res, err := conn.Query(context.Background(), entity.FilterDimensions{}, 1000)
	require.NoError(t, err)

	assert.Len(t, res.Chunks, 247)
	assert.EqualValues(t, 3, fake.scrolls.Load())
	assert.Equal(t, "chunk 246", res.Chunks[246].Content)
	assert.Equal(t, "246", res.Chunks[246].ChunkID)
	assert.Equal(t, 2, res.Chunks[246].ChunkIndex)

	require.Len(t, fake.bodies, 3)
	assert.NotContains(t, fake.bodies[0], "offset")
	assert.EqualValues(t, 100, fake.bodies[1]["offset"])
	assert.EqualValues(t, 200, fake.bodies[2]["offset"])
	assert.Equal(t, true, fake.bodies[0]["with_payload"])
	assert.Equal(t, false, fake.bodies[0]["with_vector"])
}

func TestClient_ScrollSendsFilter(t *testing.T) {
	fake := &fakeQdrant{points: makePoints(1)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	filter := retrieval.BuildFilter(entity.FilterDimensions{Categories: []string{"Técnico"}}, retrieval.FilterFields{})
	_, err := newTestClient(t, srv.URL).Scroll(context.Background(), &retrieval.ScrollRequest{Filter: filter, Limit: 10, WithPayload: true})
	require.NoError(t, err)

	raw, _ := json.Marshal(fake.bodies[0]["filter"])
	assert.JSONEq(t, `{"should":[{"key":"categories","match":{"value":"Técnico"}}],"min_should":{"min_should":1}}`, string(raw))
}

func TestClient_Search(t *testing.T) {
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	points, err := newTestClient(t, srv.URL).Search(context.Background(), &retrieval.SearchRequest{
		Vector: []float32{0.5, 0.25}, Limit: 5, WithPayload: true,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", points[0].ID)
	require.NotNil(t, points[0].Score)
	assert.InDelta(t, 0.87, *points[0].Score, 1e-9)
	assert.Equal(t, []any{0.5, 0.25}, fake.bodies[0]["vector"])
	assert.NotContains(t, fake.bodies[0], "filter")
}

func TestClient_ServerErrorIsUnavailableAndRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.maxRetries = 2
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err := c.Describe(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"status":{"error":"bad filter"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.maxRetries = 2
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err := c.Scroll(context.Background(), &retrieval.ScrollRequest{Limit: 10})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeVectorDBError))
	assert.False(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Describe(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
}

func TestClient_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		writeResult(w, map[string]any{"status": "green"})
	}))
	defer srv.Close()

	c, err := NewClient(&config.QdrantConfig{URL: srv.URL, Collection: "kb", APIKey: "secret"})
	require.NoError(t, err)
	_, err = c.Describe(context.Background())
	require.NoError(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&config.QdrantConfig{Collection: "kb"})
	assert.Error(t, err)
	_, err = NewClient(&config.QdrantConfig{URL: "http://q"})
	assert.Error(t, err)
}
