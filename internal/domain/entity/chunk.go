package entity

import "time"

// ConvergenceChain 语料中预先计算的收敛链
type ConvergenceChain struct {
	Participants     []string `json:"participants,omitempty"`
	ConvergenceScore float64  `json:"convergence_score"`
}

// Chunk 规范化后的检索结果，对应向量库中的一个点
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Content    string `json:"content,omitempty"`

	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`

	// SimilarityScore 仅向量检索结果携带
	SimilarityScore  *float64 `json:"similarity_score,omitempty"`
	ConvergenceScore float64  `json:"convergence_score"`

	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	AnalysisType      string             `json:"analysis_type,omitempty"`
	EnrichmentLevel   string             `json:"enrichment_level,omitempty"`
	ConvergenceChains []ConvergenceChain `json:"convergence_chains,omitempty"`
	Timestamp         time.Time          `json:"timestamp,omitempty"`
}

// Signal 返回块的相关度信号：有相似度时取相似度，否则取预计算的收敛分
func (c Chunk) Signal() float64 {
	if c.SimilarityScore != nil {
		return *c.SimilarityScore
	}
	return c.ConvergenceScore
}

