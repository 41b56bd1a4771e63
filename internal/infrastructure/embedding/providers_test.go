package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/config"
)

func TestOllamaProvider_Embed(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.25,-1]}`))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.EmbeddingProviderConfig{Name: "local", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, -1}, vec)
	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, "hello world", got.Prompt)
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, 3, p.Dimensions())
}

func TestOllamaProvider_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.EmbeddingProviderConfig{Name: "local", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestOllamaProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaProvider(config.EmbeddingProviderConfig{Name: "local"})
	assert.Error(t, err)
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.EmbeddingProviderConfig{
		Name: "remote-fallback", BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimension: 2,
	})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "text-embedding-3-small", body["model"])
	assert.EqualValues(t, 2, body["dimensions"])
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.EmbeddingProviderConfig{Name: "remote", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

type fakeEinoEmbedder struct {
	vectors [][]float64
	err     error
	texts   []string
}

func (f *fakeEinoEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.texts = texts
	return f.vectors, f.err
}

func TestEinoProvider_Embed(t *testing.T) {
	fake := &fakeEinoEmbedder{vectors: [][]float64{{1, 2, 3}}}
	p := NewEinoProviderWith("eino", "bge-m3", 3, fake)

	vec, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, []string{"text"}, fake.texts)

	fake.vectors, fake.err = nil, errors.New("upstream")
	_, err = p.Embed(context.Background(), "text")
	assert.Error(t, err)

	fake.err = nil
	_, err = p.Embed(context.Background(), "text")
	assert.Error(t, err, "empty response")
}

func TestNewProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), config.EmbeddingConfig{
		Dimension: 768,
		Providers: []config.EmbeddingProviderConfig{
			{Name: "local", Type: "ollama", BaseURL: "http://localhost:11434"},
			{Name: "remote-fallback", Type: "OpenAI", Model: "text-embedding-3-small"},
		},
	})
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "local", providers[0].Name())
	assert.Equal(t, 768, providers[0].Dimensions(), "provider inherits the service dimension")
	assert.Equal(t, "remote-fallback", providers[1].Name())

	_, err = NewProviders(context.Background(), config.EmbeddingConfig{
		Providers: []config.EmbeddingProviderConfig{{Name: "x", Type: "bert"}},
	})
	assert.Error(t, err)

	_, err = NewProviders(context.Background(), config.EmbeddingConfig{})
	assert.Error(t, err)
}
