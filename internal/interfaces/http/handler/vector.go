package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"convergence-engine/internal/application/retrieval"
	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/interfaces/http/dto"
	apperrors "convergence-engine/pkg/errors"
)

// VectorReader 向量库读取能力
type VectorReader interface {
	Query(ctx context.Context, dims entity.FilterDimensions, limit int) (*retrieval.QueryResult, error)
	SearchByVector(ctx context.Context, vector []float32, limit int, dims *entity.FilterDimensions) (*retrieval.QueryResult, error)
	Collection(ctx context.Context) (*entity.CollectionInfo, error)
}

// CorpusReporter 语料分析能力
type CorpusReporter interface {
	Report(ctx context.Context, dims entity.FilterDimensions) (*entity.CorpusReport, error)
}

// VectorHandler 向量库处理器
type VectorHandler struct {
	reader   VectorReader
	embedder Embedder
	reporter CorpusReporter
}

// NewVectorHandler 创建向量库处理器，embedder 为 nil 时不支持文本检索
func NewVectorHandler(reader VectorReader, embedder Embedder, reporter CorpusReporter) *VectorHandler {
	return &VectorHandler{reader: reader, embedder: embedder, reporter: reporter}
}

// Query 按维度过滤分页读取
// @Summary 结构化查询
// @Tags Vectors
// @Accept json
// @Produce json
// @Param body body dto.VectorQueryRequest true "查询请求"
// @Success 200 {object} dto.Response[dto.VectorQueryResponse]
// @Router /v1/vectors/query [post]
func (h *VectorHandler) Query(c *gin.Context) {
	var req dto.VectorQueryRequest
	if !bindJSON(c, &req) {
		return
	}
	dims, err := req.Dimensions.ToEntity()
	if err != nil {
		writeError(c, "invalid dimensions", err)
		return
	}

	res, err := h.reader.Query(c.Request.Context(), dims, req.Limit)
	if err != nil {
		writeError(c, "vector query failed", err)
		return
	}
	dto.Success(c, toQueryResponse(res))
}

// Search 相似度检索
// @Summary 相似度检索
// @Tags Vectors
// @Accept json
// @Produce json
// @Param body body dto.VectorSearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.VectorQueryResponse]
// @Router /v1/vectors/search [post]
func (h *VectorHandler) Search(c *gin.Context) {
	var req dto.VectorSearchRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	vector := req.Vector
	switch {
	case len(vector) > 0 && strings.TrimSpace(req.Text) != "":
		dto.AppError(c, apperrors.InvalidInput("provide either vector or text, not both"))
		return
	case len(vector) == 0 && strings.TrimSpace(req.Text) == "":
		dto.AppError(c, apperrors.InvalidInput("vector or text is required"))
		return
	case len(vector) == 0:
		if h.embedder == nil {
			dto.ServiceUnavailable(c, "text search requires an embedding provider")
			return
		}
		rec, _, err := h.embedder.EmbedRecord(ctx, req.Text, nil)
		if err != nil {
			writeError(c, "embed search text failed", err)
			return
		}
		vector = rec.Vector
	}

	var dims *entity.FilterDimensions
	if req.Dimensions != nil {
		d, err := req.Dimensions.ToEntity()
		if err != nil {
			writeError(c, "invalid dimensions", err)
			return
		}
		dims = &d
	}

	res, err := h.reader.SearchByVector(ctx, vector, req.Limit, dims)
	if err != nil {
		writeError(c, "vector search failed", err)
		return
	}
	dto.Success(c, toQueryResponse(res))
}

// Collection 集合状态
// @Summary 集合状态
// @Tags Vectors
// @Produce json
// @Success 200 {object} dto.Response[entity.CollectionInfo]
// @Router /v1/vectors/collection [get]
func (h *VectorHandler) Collection(c *gin.Context) {
	info, err := h.reader.Collection(c.Request.Context())
	if err != nil {
		writeError(c, "collection status failed", err)
		return
	}
	dto.Success(c, info)
}

// Analysis 语料分析报告，可用查询参数限定维度
// @Summary 语料分析
// @Tags Vectors
// @Produce json
// @Param keywords query string false "逗号分隔的关键词"
// @Param categories query string false "逗号分隔的分类"
// @Success 200 {object} dto.Response[entity.CorpusReport]
// @Router /v1/vectors/analysis [get]
func (h *VectorHandler) Analysis(c *gin.Context) {
	if h.reporter == nil {
		dto.ServiceUnavailable(c, "corpus analysis not configured")
		return
	}
	dims, err := dto.BindDimensionsQuery(c)
	if err != nil {
		writeError(c, "invalid dimensions", err)
		return
	}

	report, err := h.reporter.Report(c.Request.Context(), dims)
	if err != nil {
		writeError(c, "corpus analysis failed", err)
		return
	}
	dto.Success(c, report)
}

func toQueryResponse(res *retrieval.QueryResult) *dto.VectorQueryResponse {
	chunks := res.Chunks
	if chunks == nil {
		chunks = []entity.Chunk{}
	}
	return &dto.VectorQueryResponse{
		Chunks:    chunks,
		Total:     len(chunks),
		Documents: res.DistinctDocuments(),
		Pages:     res.Pages,
		FromCache: res.FromCache,
		Cause:     res.Cause,
	}
}
