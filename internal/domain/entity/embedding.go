// Package entity 定义领域实体
package entity

import "time"

// EmbeddingRecord 嵌入缓存记录
// 首次生成后只读；持久层按 TTL 清扫，内存层按容量淘汰最早写入的条目。
type EmbeddingRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Vector      []float32 `json:"vector"`
	ProviderID  string    `json:"provider_id"`
	Model       string    `json:"model,omitempty"`
	Dimensions  int       `json:"dimensions"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewEmbeddingRecord 创建嵌入记录
func NewEmbeddingRecord(fingerprint string, vector []float32, providerID, model string) *EmbeddingRecord {
	return &EmbeddingRecord{
		Fingerprint: fingerprint,
		Vector:      vector,
		ProviderID:  providerID,
		Model:       model,
		Dimensions:  len(vector),
		CreatedAt:   time.Now().UTC(),
	}
}

// Expired 判断记录是否已超过 TTL，ttl <= 0 表示永不过期
func (r *EmbeddingRecord) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(r.CreatedAt) > ttl
}
