package convergence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

type fakeRetriever struct {
	result    *retrieval.QueryResult
	err       error
	count     int
	countErr  error
	queries   int
	searches  int
	lastLimit int
	lastDims  *entity.FilterDimensions
}

func (f *fakeRetriever) Query(_ context.Context, dims entity.FilterDimensions, limit int) (*retrieval.QueryResult, error) {
	f.queries++
	f.lastLimit = limit
	f.lastDims = &dims
	return f.result, f.err
}

func (f *fakeRetriever) SearchByVector(_ context.Context, _ []float32, limit int, dims *entity.FilterDimensions) (*retrieval.QueryResult, error) {
	f.searches++
	f.lastLimit = limit
	f.lastDims = dims
	return f.result, f.err
}

func (f *fakeRetriever) CountDocuments(context.Context) (int, error) {
	return f.count, f.countErr
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string, map[string]any) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func chunksForDocs(docs ...string) []entity.Chunk {
	var out []entity.Chunk
	for i, d := range docs {
		out = append(out, chunk(d, fmt.Sprintf("c%d", i), 0.6, "cache"))
	}
	return out
}

func TestEngine_ReductionRate(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a", "b", "c", "a")}}
	engine := NewEngine(Config{}, store, nil)

	res, err := engine.Navigate(context.Background(), "cache tuning", entity.FilterDimensions{}, NavigateOptions{CorpusDocuments: 10})
	require.NoError(t, err)

	assert.Len(t, res.Ranked, 3)
	assert.Equal(t, 10, res.DocumentsConsidered)
	assert.InDelta(t, 0.7, res.ReductionRate, 1e-9)
	assert.Equal(t, 70.0, res.ReductionPercent)
	assert.Equal(t, 4, res.ChunksMatched)
	assert.Equal(t, "a", res.Ranked[0].DocumentID, "two chunks outrank one")
	assert.False(t, res.NoConvergence)
}

func TestEngine_NoConvergence(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{}, count: 18}
	engine := NewEngine(Config{}, store, nil)

	res, err := engine.Navigate(context.Background(), "nothing here", entity.FilterDimensions{Categories: []string{"none"}}, NavigateOptions{})
	require.NoError(t, err)
	assert.True(t, res.NoConvergence)
	assert.NotNil(t, res.Ranked)
	assert.Empty(t, res.Ranked)
	assert.Empty(t, res.EvidencePool)
	assert.Equal(t, 0.0, res.ReductionRate)
	assert.Equal(t, 18, res.DocumentsConsidered)
}

func TestEngine_ConsideredFallsBack(t *testing.T) {
	t.Run("counted from store", func(t *testing.T) {
		store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a", "b")}, count: 8}
		res, err := NewEngine(Config{}, store, nil).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 8, res.DocumentsConsidered)
		assert.InDelta(t, 0.75, res.ReductionRate, 1e-9)
	})

	t.Run("distinct documents when count fails", func(t *testing.T) {
		store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a", "b")}, countErr: errors.New("down")}
		res, err := NewEngine(Config{}, store, nil).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, res.DocumentsConsidered)
		assert.Equal(t, 0.0, res.ReductionRate)
	})
}

func TestEngine_MaxConvergences(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a", "b", "c", "d", "e")}}
	engine := NewEngine(Config{MaxConvergences: 4, EvidenceLimit: 2}, store, nil)

	res, err := engine.Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{MaxConvergences: 2, CorpusDocuments: 20})
	require.NoError(t, err)
	assert.Len(t, res.Ranked, 2)
	assert.Equal(t, 5, res.DocumentsMatched)
	assert.InDelta(t, 0.9, res.ReductionRate, 1e-9)
	assert.Equal(t, []string{"a.md", "b.md"}, res.EvidencePool)
}

func TestEngine_DegradedCachedResult(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a"), FromCache: true, Cause: "connection refused"}}
	res, err := NewEngine(Config{}, store, nil).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{CorpusDocuments: 5})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Contains(t, res.DegradedReason, "connection refused")
}

func TestEngine_StoreUnavailableWithoutCacheFails(t *testing.T) {
	cause := apperrors.New(apperrors.CodeStoreUnavailable, "vector store unavailable and no cached result")
	store := &fakeRetriever{result: &retrieval.QueryResult{}, err: cause}

	res, err := NewEngine(Config{}, store, nil).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{})
	assert.Nil(t, res)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
}

func TestEngine_VectorSearch(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a")}}
	embedder := &fakeEmbedder{}
	engine := NewEngine(Config{SearchLimit: 30}, store, embedder)
	dims := entity.FilterDimensions{Categories: []string{"Técnico"}}

	res, err := engine.Navigate(context.Background(), "x", dims, NavigateOptions{UseVectorSearch: true, CorpusDocuments: 2})
	require.NoError(t, err)
	assert.True(t, res.VectorSearchUsed)
	assert.Equal(t, 1, store.searches)
	assert.Equal(t, 0, store.queries)
	assert.Equal(t, 30, store.lastLimit)
	require.NotNil(t, store.lastDims)
	assert.Equal(t, []string{"Técnico"}, store.lastDims.Categories)
}

func TestEngine_VectorSearchFallsBackWhenProviderDown(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: chunksForDocs("a")}}
	embedder := &fakeEmbedder{err: apperrors.New(apperrors.CodeBreakerOpen, "breaker open")}

	res, err := NewEngine(Config{}, store, embedder).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{UseVectorSearch: true, CorpusDocuments: 2})
	require.NoError(t, err)
	assert.False(t, res.VectorSearchUsed)
	assert.Equal(t, 1, store.queries)
	assert.Contains(t, res.DegradedReason, "vector search unavailable")
}

func TestEngine_VectorSearchTimeoutIsReturned(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{}}
	embedder := &fakeEmbedder{err: apperrors.New(apperrors.CodeTimeout, "deadline")}

	_, err := NewEngine(Config{}, store, embedder).Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{UseVectorSearch: true})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTimeout))
	assert.Equal(t, 0, store.queries)
}

func TestEngine_InvalidInput(t *testing.T) {
	engine := NewEngine(Config{}, &fakeRetriever{result: &retrieval.QueryResult{}}, nil)

	_, err := engine.Navigate(context.Background(), "   ", entity.FilterDimensions{}, NavigateOptions{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = engine.Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{Weights: &Weights{Similarity: -1}})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestEngine_CustomWeights(t *testing.T) {
	store := &fakeRetriever{result: &retrieval.QueryResult{Chunks: []entity.Chunk{
		chunk("many", "1", 0.1), chunk("many", "2", 0.1), chunk("many", "3", 0.1),
		chunk("strong", "4", 0.9),
	}}}
	engine := NewEngine(Config{}, store, nil)

	res, err := engine.Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{Weights: &Weights{Similarity: 1}, CorpusDocuments: 2})
	require.NoError(t, err)
	assert.Equal(t, "strong", res.Ranked[0].DocumentID)

	res, err = engine.Navigate(context.Background(), "x", entity.FilterDimensions{}, NavigateOptions{Weights: &Weights{ChunkCount: 1}, CorpusDocuments: 2})
	require.NoError(t, err)
	assert.Equal(t, "many", res.Ranked[0].DocumentID)
}
