package dto

import "convergence-engine/internal/domain/entity"

// VectorQueryRequest 结构化过滤查询
type VectorQueryRequest struct {
	Dimensions *DimensionsRequest `json:"dimensions,omitempty"`
	Limit      int                `json:"limit,omitempty" binding:"omitempty,min=1,max=10000"`
}

// VectorSearchRequest 相似度检索，vector 与 text 二选一
type VectorSearchRequest struct {
	Vector     []float32          `json:"vector,omitempty"`
	Text       string             `json:"text,omitempty"`
	Limit      int                `json:"limit,omitempty" binding:"omitempty,min=1"`
	Dimensions *DimensionsRequest `json:"dimensions,omitempty"`
}

// VectorQueryResponse 查询结果
type VectorQueryResponse struct {
	Chunks    []entity.Chunk `json:"chunks"`
	Total     int            `json:"total"`
	Documents int            `json:"documents"`
	Pages     int            `json:"pages,omitempty"`
	FromCache bool           `json:"from_cache"`
	Cause     string         `json:"cause,omitempty"`
}
