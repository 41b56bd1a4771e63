package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate 校验配置的基本合法性
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Vector.Backend) {
	case "qdrant":
		if c.Vector.Qdrant.URL == "" || c.Vector.Qdrant.Collection == "" {
			errs = append(errs, errors.New("vector.qdrant.url and vector.qdrant.collection are required"))
		}
	case "milvus":
		if c.Vector.Milvus.Collection == "" {
			errs = append(errs, errors.New("vector.milvus.collection is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported vector.backend %q", c.Vector.Backend))
	}

	if c.Vector.Connector.PageSize > 100 {
		errs = append(errs, fmt.Errorf("vector.connector.page_size must be <= 100, got %d", c.Vector.Connector.PageSize))
	}

	seen := make(map[string]struct{}, len(c.Embedding.Providers))
	for i, p := range c.Embedding.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("embedding.providers[%d].name is required", i))
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("embedding provider %q is declared twice", p.Name))
		}
		seen[p.Name] = struct{}{}
		switch strings.ToLower(p.Type) {
		case "ollama", "openai", "eino":
		default:
			errs = append(errs, fmt.Errorf("embedding provider %q has unsupported type %q", p.Name, p.Type))
		}
	}

	switch strings.ToLower(c.Embedding.Cache.Store) {
	case "redis", "postgres", "none", "":
	default:
		errs = append(errs, fmt.Errorf("unsupported embedding.cache.store %q", c.Embedding.Cache.Store))
	}

	w := c.Convergence.Weights
	if w.Similarity < 0 || w.ChunkCount < 0 || w.KeywordOverlap < 0 {
		errs = append(errs, errors.New("convergence.weights must be non-negative"))
	}

	return errors.Join(errs...)
}
