// Package embedding 提供嵌入提供方客户端
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"convergence-engine/internal/config"
)

// OllamaProvider 本地 Ollama 嵌入接口客户端
type OllamaProvider struct {
	name       string
	endpoint   string
	model      string
	dimension  int
	httpClient *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaProvider 创建 Ollama 提供方
func NewOllamaProvider(cfg config.EmbeddingProviderConfig) (*OllamaProvider, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("embedding provider %q: base_url is required", cfg.Name)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("embedding provider %q: invalid base_url: %w", cfg.Name, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/embeddings"
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		name:      cfg.Name,
		endpoint:  u.String(),
		model:     model,
		dimension: cfg.Dimension,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (p *OllamaProvider) Name() string    { return p.name }
func (p *OllamaProvider) Model() string   { return p.model }
func (p *OllamaProvider) Dimensions() int { return p.dimension }

// Embed 请求单条文本的向量，非 2xx 或网络错误均视为提供方不可用
func (p *OllamaProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	reqBody, err := json.Marshal(&ollamaRequest{Model: p.model, Prompt: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("embedding request failed: status=%d body=%s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return toFloat32(resp.Embedding), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
