// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strings"

	"github.com/gin-gonic/gin"

	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

// DimensionsRequest 查询维度
type DimensionsRequest struct {
	// From/To 支持 RFC3339 或 YYYY-MM-DD
	From         string   `json:"from,omitempty" form:"from"`
	To           string   `json:"to,omitempty" form:"to"`
	Keywords     []string `json:"keywords,omitempty" form:"keywords"`
	Categories   []string `json:"categories,omitempty" form:"categories"`
	AnalysisType string   `json:"analysis_type,omitempty" form:"analysis_type"`
}

// ToEntity 转换为领域维度并校验
func (r *DimensionsRequest) ToEntity() (entity.FilterDimensions, error) {
	if r == nil {
		return entity.FilterDimensions{}, nil
	}
	temporal, err := entity.ParseDateRange(r.From, r.To)
	if err != nil {
		return entity.FilterDimensions{}, apperrors.InvalidInput("%s", err.Error())
	}
	dims := entity.FilterDimensions{
		Temporal:         temporal,
		SemanticKeywords: r.Keywords,
		Categories:       r.Categories,
		AnalysisType:     strings.TrimSpace(r.AnalysisType),
	}
	if err := dims.Validate(); err != nil {
		return entity.FilterDimensions{}, apperrors.InvalidInput("%s", err.Error())
	}
	return dims.Normalize(), nil
}

// BindDimensionsQuery 从查询参数绑定维度，keywords/categories 支持逗号分隔
func BindDimensionsQuery(c *gin.Context) (entity.FilterDimensions, error) {
	var req DimensionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		return entity.FilterDimensions{}, apperrors.InvalidInput("%s", err.Error())
	}
	req.Keywords = splitCSV(req.Keywords)
	req.Categories = splitCSV(req.Categories)
	return req.ToEntity()
}

func splitCSV(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
