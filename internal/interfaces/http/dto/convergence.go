package dto

import "convergence-engine/internal/domain/entity"

// NavigateRequest 收敛导航请求
type NavigateRequest struct {
	Intent          string             `json:"intent" binding:"required,max=5000"`
	Dimensions      *DimensionsRequest `json:"dimensions,omitempty"`
	UseVectorSearch bool               `json:"use_vector_search,omitempty"`
	Limit           int                `json:"limit,omitempty" binding:"omitempty,min=1,max=10000"`
	MaxConvergences int                `json:"max_convergences,omitempty" binding:"omitempty,min=1,max=1000"`
	Weights         *WeightsRequest    `json:"weights,omitempty"`
}

// WeightsRequest 单次请求的密度权重覆盖
type WeightsRequest struct {
	Similarity     float64 `json:"similarity"`
	ChunkCount     float64 `json:"chunk_count"`
	KeywordOverlap float64 `json:"keyword_overlap"`
}

// NavigateResponse 收敛导航响应
type NavigateResponse = entity.NavigationResult
