package embedding

import (
	"context"
	"fmt"
	"strings"

	embeddingsvc "convergence-engine/internal/application/embedding"
	"convergence-engine/internal/config"
)

// NewProviders 按配置顺序创建提供方，第一个为主提供方
func NewProviders(ctx context.Context, cfg config.EmbeddingConfig) ([]embeddingsvc.Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no embedding providers configured")
	}

	providers := make([]embeddingsvc.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if pc.Dimension <= 0 {
			pc.Dimension = cfg.Dimension
		}
		p, err := newProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func newProvider(ctx context.Context, pc config.EmbeddingProviderConfig) (embeddingsvc.Provider, error) {
	var (
		p   embeddingsvc.Provider
		err error
	)
	switch strings.ToLower(pc.Type) {
	case "ollama":
		p, err = NewOllamaProvider(pc)
	case "openai":
		p, err = NewOpenAIProvider(pc)
	case "eino":
		p, err = NewEinoProvider(ctx, pc)
	default:
		return nil, fmt.Errorf("embedding provider %q: unsupported type %q", pc.Name, pc.Type)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
