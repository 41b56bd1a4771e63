package handler

import (
	"context"
	"errors"
	"sort"

	"github.com/gin-gonic/gin"

	"convergence-engine/internal/application/embedding"
	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/infrastructure/messaging"
	"convergence-engine/internal/interfaces/http/dto"
	apperrors "convergence-engine/pkg/errors"
)

// Embedder 嵌入缓存服务能力
type Embedder interface {
	EmbedRecord(ctx context.Context, text string, meta map[string]any) (*entity.EmbeddingRecord, bool, error)
	EmbedBatch(ctx context.Context, items []embedding.BatchItem) ([][]float32, error)
	Sweep(ctx context.Context) (int64, error)
	Stats() embedding.Stats
}

// WarmupPublisher 预热任务投递
type WarmupPublisher interface {
	PublishWarmup(ctx context.Context, warmup *messaging.WarmupMessage) (string, error)
}

// EmbeddingHandler 嵌入处理器
type EmbeddingHandler struct {
	svc       Embedder
	publisher WarmupPublisher
}

// NewEmbeddingHandler 创建嵌入处理器，publisher 为 nil 时预热接口不可用
func NewEmbeddingHandler(svc Embedder, publisher WarmupPublisher) *EmbeddingHandler {
	return &EmbeddingHandler{svc: svc, publisher: publisher}
}

// Embed 生成或命中缓存的单条向量
// @Summary 生成嵌入
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param body body dto.EmbedRequest true "嵌入请求"
// @Success 200 {object} dto.Response[dto.EmbedResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/embeddings [post]
func (h *EmbeddingHandler) Embed(c *gin.Context) {
	var req dto.EmbedRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, cached, err := h.svc.EmbedRecord(c.Request.Context(), req.Text, req.Context)
	if err != nil {
		writeError(c, "embedding failed", err)
		return
	}
	dto.Success(c, &dto.EmbedResponse{
		Fingerprint: rec.Fingerprint,
		Vector:      rec.Vector,
		Dimensions:  rec.Dimensions,
		ProviderID:  rec.ProviderID,
		Model:       rec.Model,
		Cached:      cached,
	})
}

// EmbedBatch 批量嵌入，部分失败时仍返回 200 与失败明细
// @Summary 批量嵌入
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param body body dto.BatchEmbedRequest true "批量请求"
// @Success 200 {object} dto.Response[dto.BatchEmbedResponse]
// @Router /v1/embeddings/batch [post]
func (h *EmbeddingHandler) EmbedBatch(c *gin.Context) {
	var req dto.BatchEmbedRequest
	if !bindJSON(c, &req) {
		return
	}

	items := toBatchItems(req.Items)
	vectors, err := h.svc.EmbedBatch(c.Request.Context(), items)
	resp := &dto.BatchEmbedResponse{Vectors: vectors}
	if err != nil {
		var failures apperrors.BatchFailures
		if !errors.As(err, &failures) {
			writeError(c, "batch embedding failed", err)
			return
		}
		resp.Failures = toFailures(failures)
	}
	dto.Success(c, resp)
}

// Warmup 投递预热任务
// @Summary 预热嵌入缓存
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param body body dto.WarmupRequest true "预热请求"
// @Success 202 {object} dto.Response[dto.WarmupResponse]
// @Router /v1/embeddings/warmup [post]
func (h *EmbeddingHandler) Warmup(c *gin.Context) {
	if h.publisher == nil {
		dto.ServiceUnavailable(c, "warmup queue not configured")
		return
	}
	var req dto.WarmupRequest
	if !bindJSON(c, &req) {
		return
	}

	msg := &messaging.WarmupMessage{Items: make([]messaging.WarmupItem, 0, len(req.Items))}
	for _, it := range req.Items {
		msg.Items = append(msg.Items, messaging.WarmupItem{Text: it.Text, Context: it.Context})
	}
	id, err := h.publisher.PublishWarmup(c.Request.Context(), msg)
	if err != nil {
		writeError(c, "publish warmup failed", err)
		return
	}
	dto.Accepted(c, &dto.WarmupResponse{MessageID: id, Items: len(msg.Items)})
}

// Sweep 清理过期的持久层记录
// @Summary 清理过期嵌入
// @Tags Embeddings
// @Produce json
// @Success 200 {object} dto.Response[dto.SweepResponse]
// @Router /v1/embeddings/sweep [post]
func (h *EmbeddingHandler) Sweep(c *gin.Context) {
	n, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, "sweep failed", err)
		return
	}
	dto.Success(c, &dto.SweepResponse{Removed: n})
}

// Stats 缓存与熔断统计
// @Summary 嵌入服务统计
// @Tags Embeddings
// @Produce json
// @Success 200 {object} dto.Response[embedding.Stats]
// @Router /v1/embeddings/stats [get]
func (h *EmbeddingHandler) Stats(c *gin.Context) {
	dto.Success(c, h.svc.Stats())
}

func toBatchItems(items []dto.EmbedItem) []embedding.BatchItem {
	out := make([]embedding.BatchItem, len(items))
	for i, it := range items {
		out[i] = embedding.BatchItem{Text: it.Text, Context: it.Context}
	}
	return out
}

func toFailures(failures apperrors.BatchFailures) []dto.BatchFailure {
	out := make([]dto.BatchFailure, 0, len(failures))
	for idx, err := range failures {
		out = append(out, dto.BatchFailure{Index: idx, Error: err.Error()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
