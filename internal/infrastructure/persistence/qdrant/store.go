package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/domain/entity"
)

type collectionInfo struct {
	Status        string      `json:"status"`
	PointsCount   json.Number `json:"points_count"`
	VectorsCount  json.Number `json:"vectors_count"`
	SegmentsCount json.Number `json:"segments_count"`
}

type scrollRequest struct {
	Filter      *retrieval.Filter `json:"filter,omitempty"`
	Limit       int               `json:"limit"`
	WithPayload bool              `json:"with_payload"`
	WithVector  bool              `json:"with_vector"`
	Offset      any               `json:"offset,omitempty"`
}

type scrollResult struct {
	Points         []point `json:"points"`
	NextPageOffset any     `json:"next_page_offset"`
}

type searchRequest struct {
	Vector      []float32         `json:"vector"`
	Limit       int               `json:"limit"`
	WithPayload bool              `json:"with_payload"`
	WithVector  bool              `json:"with_vector"`
	Filter      *retrieval.Filter `json:"filter,omitempty"`
}

type point struct {
	ID      any            `json:"id"`
	Score   *float64       `json:"score,omitempty"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(c.collection) + suffix
}

// Describe GET /collections/{name}
func (c *Client) Describe(ctx context.Context) (*entity.CollectionInfo, error) {
	var info collectionInfo
	if err := c.do(ctx, "describe", http.MethodGet, c.collectionPath(""), nil, &info); err != nil {
		return nil, err
	}
	return &entity.CollectionInfo{
		Name:          c.collection,
		Status:        info.Status,
		PointsCount:   toInt64(info.PointsCount),
		VectorsCount:  toInt64(info.VectorsCount),
		SegmentsCount: toInt64(info.SegmentsCount),
	}, nil
}

// Scroll POST /collections/{name}/points/scroll
func (c *Client) Scroll(ctx context.Context, req *retrieval.ScrollRequest) (*retrieval.ScrollPage, error) {
	body := &scrollRequest{
		Filter:      req.Filter,
		Limit:       req.Limit,
		WithPayload: req.WithPayload,
		WithVector:  req.WithVector,
		Offset:      req.Offset,
	}
	var res scrollResult
	if err := c.do(ctx, "scroll", http.MethodPost, c.collectionPath("/points/scroll"), body, &res); err != nil {
		return nil, err
	}
	return &retrieval.ScrollPage{
		Points:     toPoints(res.Points),
		NextOffset: res.NextPageOffset,
	}, nil
}

// Search POST /collections/{name}/points/search
func (c *Client) Search(ctx context.Context, req *retrieval.SearchRequest) ([]retrieval.Point, error) {
	body := &searchRequest{
		Vector:      req.Vector,
		Limit:       req.Limit,
		WithPayload: req.WithPayload,
		WithVector:  req.WithVector,
		Filter:      req.Filter,
	}
	var res []point
	if err := c.do(ctx, "search", http.MethodPost, c.collectionPath("/points/search"), body, &res); err != nil {
		return nil, err
	}
	return toPoints(res), nil
}

func toPoints(in []point) []retrieval.Point {
	out := make([]retrieval.Point, 0, len(in))
	for _, p := range in {
		out = append(out, retrieval.Point{
			ID:      pointID(p.ID),
			Score:   p.Score,
			Payload: normalizeNumbers(p.Payload),
		})
	}
	return out
}

// pointID 整数与 UUID 两种 ID 统一为字符串
func pointID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func toInt64(n json.Number) int64 {
	if n == "" {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		f, _ := n.Float64()
		return int64(f)
	}
	return v
}

// normalizeNumbers 将 payload 中的 json.Number 转为 float64
func normalizeNumbers(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}

var _ retrieval.VectorStore = (*Client)(nil)
