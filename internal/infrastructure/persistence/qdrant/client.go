// Package qdrant 提供 Qdrant HTTP 向量库访问层实现
package qdrant

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

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/config"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
)

const backendName = "qdrant"

var tracer = otel.Tracer("qdrant")

// Client Qdrant REST 客户端
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	// newBackOff 单次请求的退避策略
	newBackOff func() backoff.BackOff
}

// NewClient 创建 Qdrant 客户端
func NewClient(cfg *config.QdrantConfig) (*Client, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("qdrant url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		baseURL:    base,
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		maxRetries: retries,
		httpClient: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(200*time.Millisecond),
				backoff.WithMaxInterval(2*time.Second),
			)
		},
	}, nil
}

// Backend 后端名称
func (c *Client) Backend() string { return backendName }

// Collection 集合名称
func (c *Client) Collection() string { return c.collection }

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

// do 发送请求并解码 result 字段
// 网络错误与 5xx 视为连接失败（可重试，映射为 StoreUnavailable），4xx 不重试。
func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "qdrant."+operation,
		trace.WithAttributes(
			attribute.String("collection", c.collection),
			attribute.String("http.method", method),
		))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.VectorStoreDuration.WithLabelValues(backendName, operation, status).Observe(time.Since(start).Seconds())
		span.End()
	}()

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal qdrant request: %w", err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	raw, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	}, b, func(err error, next time.Duration) {
		logger.Debug(ctx, "retrying qdrant request", "operation", operation, "next", next, "error", err.Error())
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !apperrors.IsAppError(err) {
			return ctxErr
		}
		return err
	}

	if out == nil {
		return nil
	}
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return fmt.Errorf("failed to decode qdrant response: %w", err)
	}
	dec = json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode qdrant result: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create qdrant request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to read qdrant response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, unavailable(fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, snippet(data)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(apperrors.New(apperrors.CodeVectorDBError, "qdrant collection not found").
			WithDetail(snippet(data)).WithField("collection", c.collection))
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(apperrors.New(apperrors.CodeVectorDBError, fmt.Sprintf("qdrant rejected request: status %d", resp.StatusCode)).
			WithDetail(snippet(data)))
	}
	return data, nil
}

func unavailable(err error) error {
	return retrieval.StoreUnavailable(backendName, err)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Describe(ctx)
	return err
}
