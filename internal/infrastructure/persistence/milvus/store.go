package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"convergence-engine/internal/application/retrieval"
	domain "convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/metrics"
)

// idField Milvus 主键字段
const idField = "id"

var _ retrieval.VectorStore = (*Client)(nil)

// Describe 集合状态；行数来自集合统计
func (c *Client) Describe(ctx context.Context) (info *domain.CollectionInfo, err error) {
	ctx, span := tracer.Start(ctx, "milvus.Describe",
		trace.WithAttributes(attribute.String("collection", c.collection)))
	defer span.End()
	defer observe("describe", time.Now(), &err)

	has, err := c.milvus.HasCollection(ctx, c.collection)
	if err != nil {
		span.RecordError(err)
		return nil, c.classify("describe", err)
	}
	if !has {
		return nil, apperrors.New(apperrors.CodeVectorDBError, "collection not found").
			WithField("collection", c.collection)
	}

	stats, err := c.milvus.GetCollectionStatistics(ctx, c.collection)
	if err != nil {
		span.RecordError(err)
		return nil, c.classify("describe", err)
	}
	rows, _ := strconv.ParseInt(stats["row_count"], 10, 64)
	return &domain.CollectionInfo{
		Name:         c.collection,
		Status:       "ready",
		PointsCount:  rows,
		VectorsCount: rows,
	}, nil
}

// Scroll 按 offset/limit 分页查询；返回页满时给出下一页偏移
func (c *Client) Scroll(ctx context.Context, req *retrieval.ScrollRequest) (page *retrieval.ScrollPage, err error) {
	ctx, span := tracer.Start(ctx, "milvus.Scroll",
		trace.WithAttributes(
			attribute.String("collection", c.collection),
			attribute.Int("limit", req.Limit),
		))
	defer span.End()
	defer observe("scroll", time.Now(), &err)

	expr, err := buildExpr(c.payloadField, req.Filter)
	if err != nil {
		return nil, err
	}
	offset, err := offsetOf(req.Offset)
	if err != nil {
		return nil, err
	}

	fields := []string{idField, c.payloadField}
	if req.WithVector {
		fields = append(fields, c.vectorField)
	}
	rs, err := c.milvus.Query(ctx, c.collection, nil, expr, fields,
		client.WithOffset(int64(offset)),
		client.WithLimit(int64(req.Limit)),
	)
	if err != nil {
		span.RecordError(err)
		return nil, c.classify("scroll", err)
	}

	points, err := c.toPoints(rs.GetColumn(idField), rs.GetColumn(c.payloadField), nil)
	if err != nil {
		return nil, err
	}
	page = &retrieval.ScrollPage{Points: points}
	if req.Limit > 0 && len(points) == req.Limit {
		page.NextOffset = offset + len(points)
	}
	span.SetAttributes(attribute.Int("result_count", len(points)))
	return page, nil
}

// Search 向量检索
func (c *Client) Search(ctx context.Context, req *retrieval.SearchRequest) (points []retrieval.Point, err error) {
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("collection", c.collection),
			attribute.Int("top_k", req.Limit),
		))
	defer span.End()
	defer observe("search", time.Now(), &err)

	expr, err := buildExpr(c.payloadField, req.Filter)
	if err != nil {
		return nil, err
	}

	// 搜索参数
	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := c.milvus.Search(ctx,
		c.collection,
		nil,
		expr,
		[]string{c.payloadField},
		[]entity.Vector{entity.FloatVector(req.Vector)},
		c.vectorField,
		c.metricType,
		req.Limit,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, c.classify("search", err)
	}

	for _, result := range results {
		batch, err := c.toPoints(result.IDs, result.Fields.GetColumn(c.payloadField), result.Scores)
		if err != nil {
			return nil, err
		}
		points = append(points, batch...)
	}
	span.SetAttributes(attribute.Int("result_count", len(points)))
	return points, nil
}

func (c *Client) toPoints(ids, payloads entity.Column, scores []float32) ([]retrieval.Point, error) {
	if ids == nil {
		return []retrieval.Point{}, nil
	}
	points := make([]retrieval.Point, 0, ids.Len())
	for i := 0; i < ids.Len(); i++ {
		id, err := ids.Get(i)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "malformed milvus result")
		}
		p := retrieval.Point{ID: fmt.Sprint(id)}
		if i < len(scores) {
			s := float64(scores[i])
			p.Score = &s
		}
		if payloads != nil && i < payloads.Len() {
			payload, err := decodePayload(payloads, i)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "malformed milvus payload").
					WithField("id", p.ID)
			}
			p.Payload = payload
		}
		points = append(points, p)
	}
	return points, nil
}

func decodePayload(col entity.Column, i int) (map[string]any, error) {
	raw, err := col.Get(i)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func offsetOf(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		return int(n), err
	}
	return 0, apperrors.InvalidInput("unsupported milvus scroll offset %T", v)
}

func observe(operation string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.VectorStoreDuration.WithLabelValues(backendName, operation, status).Observe(time.Since(start).Seconds())
}
