package entity

// DocumentConvergence 单个文档的收敛结果（每次导航重新计算，不缓存）
type DocumentConvergence struct {
	DocumentID          string  `json:"document_id"`
	FileName            string  `json:"file_name"`
	FilePath            string  `json:"file_path,omitempty"`
	ChunkCount          int     `json:"chunk_count"`
	TotalChunks         int     `json:"total_chunks,omitempty"`
	AverageScore        float64 `json:"average_score"`
	KeywordOverlapRatio float64 `json:"keyword_overlap_ratio"`
	Density             float64 `json:"density"`
	// Coverage 命中块数占文档总块数的比例，总块数未知时为 0
	Coverage     float64  `json:"coverage"`
	ChunkIDs     []string `json:"chunk_ids,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	AnalysisType string   `json:"analysis_type,omitempty"`
}

// NavigationResult 导航结果
type NavigationResult struct {
	Intent              string                `json:"intent"`
	Dimensions          FilterDimensions      `json:"dimensions"`
	Ranked              []DocumentConvergence `json:"ranked"`
	EvidencePool        []string              `json:"evidence_pool"`
	ReductionRate       float64               `json:"reduction_rate"`
	ReductionPercent    float64               `json:"reduction_percent"`
	DocumentsConsidered int                   `json:"documents_considered"`
	DocumentsMatched    int                   `json:"documents_matched"`
	ChunksMatched       int                   `json:"chunks_matched"`
	NoConvergence       bool                  `json:"no_convergence"`
	FromCache           bool                  `json:"from_cache"`
	VectorSearchUsed    bool                  `json:"vector_search_used"`
	// DegradedReason 非空时说明结果来自降级路径或部分能力不可用
	DegradedReason string `json:"degraded_reason,omitempty"`
}
