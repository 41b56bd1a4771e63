package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"convergence-engine/internal/config"
)

// OpenAIProvider OpenAI 兼容的远程嵌入提供方
type OpenAIProvider struct {
	name      string
	model     string
	dimension int
	client    *openai.Client
}

// NewOpenAIProvider 创建 OpenAI 兼容提供方
func NewOpenAIProvider(cfg config.EmbeddingProviderConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding provider %q: model is required", cfg.Name)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{
		name:      cfg.Name,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    openai.NewClientWithConfig(clientCfg),
	}, nil
}

func (p *OpenAIProvider) Name() string    { return p.name }
func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dimension }

// Embed 调用 /embeddings，请求与本地模型一致的维度
func (p *OpenAIProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{input},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}
