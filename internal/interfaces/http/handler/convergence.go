package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"convergence-engine/internal/application/convergence"
	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/interfaces/http/dto"
)

// Navigator 收敛导航能力
type Navigator interface {
	Navigate(ctx context.Context, intent string, dims entity.FilterDimensions, opts convergence.NavigateOptions) (*entity.NavigationResult, error)
}

// ConvergenceHandler 收敛导航处理器
type ConvergenceHandler struct {
	navigator Navigator
}

// NewConvergenceHandler 创建收敛导航处理器
func NewConvergenceHandler(navigator Navigator) *ConvergenceHandler {
	return &ConvergenceHandler{navigator: navigator}
}

// Navigate 执行一次收敛导航
// @Summary 收敛导航
// @Description 按意图与过滤维度检索知识库，按收敛密度排序文档
// @Tags Convergence
// @Accept json
// @Produce json
// @Param body body dto.NavigateRequest true "导航请求"
// @Success 200 {object} dto.Response[dto.NavigateResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/convergence/navigate [post]
func (h *ConvergenceHandler) Navigate(c *gin.Context) {
	var req dto.NavigateRequest
	if !bindJSON(c, &req) {
		return
	}
	dims, err := req.Dimensions.ToEntity()
	if err != nil {
		writeError(c, "invalid dimensions", err)
		return
	}

	opts := convergence.NavigateOptions{
		UseVectorSearch: req.UseVectorSearch,
		Limit:           req.Limit,
		MaxConvergences: req.MaxConvergences,
	}
	if req.Weights != nil {
		opts.Weights = &convergence.Weights{
			Similarity:     req.Weights.Similarity,
			ChunkCount:     req.Weights.ChunkCount,
			KeywordOverlap: req.Weights.KeywordOverlap,
		}
	}

	res, err := h.navigator.Navigate(c.Request.Context(), req.Intent, dims, opts)
	if err != nil {
		writeError(c, "navigation failed", err)
		return
	}
	dto.Success(c, res)
}
