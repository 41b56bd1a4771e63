package dto

// EmbedRequest 单条嵌入请求
type EmbedRequest struct {
	Text    string         `json:"text" binding:"required"`
	Context map[string]any `json:"context,omitempty"`
}

// EmbedResponse 单条嵌入响应
type EmbedResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Vector      []float32 `json:"vector"`
	Dimensions  int       `json:"dimensions"`
	ProviderID  string    `json:"provider_id,omitempty"`
	Model       string    `json:"model,omitempty"`
	Cached      bool      `json:"cached"`
}

// EmbedItem 批量中的一项
type EmbedItem struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// BatchEmbedRequest 批量嵌入请求
type BatchEmbedRequest struct {
	Items []EmbedItem `json:"items" binding:"required,min=1,max=1000"`
}

// BatchFailure 批量中失败项
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchEmbedResponse 批量嵌入响应，失败项对应位置为 null
type BatchEmbedResponse struct {
	Vectors  [][]float32    `json:"vectors"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// WarmupRequest 预热请求
type WarmupRequest struct {
	Items []EmbedItem `json:"items" binding:"required,min=1,max=10000"`
}

// WarmupResponse 预热入队响应
type WarmupResponse struct {
	MessageID string `json:"message_id"`
	Items     int    `json:"items"`
}

// SweepResponse 清理响应
type SweepResponse struct {
	Removed int64 `json:"removed"`
}
