package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"

	"convergence-engine/internal/config"
)

// EinoProvider 通过 Eino Embedder 组件生成向量
type EinoProvider struct {
	name      string
	model     string
	dimension int
	embedder  embedding.Embedder
}

// NewEinoProvider 创建基于 Eino 的提供方
func NewEinoProvider(ctx context.Context, cfg config.EmbeddingProviderConfig) (*EinoProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding provider %q: base_url is required", cfg.Name)
	}

	// 使用 Eino 的 OpenAI 适配器
	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return NewEinoProviderWith(cfg.Name, cfg.Model, cfg.Dimension, embedder), nil
}

// NewEinoProviderWith 包装已有的 Eino Embedder
func NewEinoProviderWith(name, model string, dimension int, e embedding.Embedder) *EinoProvider {
	return &EinoProvider{name: name, model: model, dimension: dimension, embedder: e}
}

func (p *EinoProvider) Name() string    { return p.name }
func (p *EinoProvider) Model() string   { return p.model }
func (p *EinoProvider) Dimensions() int { return p.dimension }

// Embed 生成单条文本的向量
func (p *EinoProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	// 以提供方名作为 RunInfo，全局回调据此打标签
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      p.name,
		Type:      "OpenAI",
		Component: components.ComponentOfEmbedding,
	})
	vectors, err := p.embedder.EmbedStrings(ctx, []string{input})
	if err != nil {
		return nil, fmt.Errorf("eino embedding failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("eino embedding response is empty")
	}
	return toFloat32(vectors[0]), nil
}
