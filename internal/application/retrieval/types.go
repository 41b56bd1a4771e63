package retrieval

import (
	"time"

	"convergence-engine/internal/domain/entity"
)

// QueryResult 连接器查询结果
type QueryResult struct {
	Chunks []entity.Chunk `json:"chunks"`
	Pages  int            `json:"pages"`

	// FromCache 向量库不可用时返回的降级缓存结果
	FromCache bool      `json:"from_cache"`
	CachedAt  time.Time `json:"cached_at,omitempty"`
	// Cause 降级原因
	Cause string `json:"cause,omitempty"`
}

// DistinctDocuments 结果中不同文档的数量
func (r *QueryResult) DistinctDocuments() int {
	if r == nil {
		return 0
	}
	seen := make(map[string]struct{}, len(r.Chunks))
	for _, c := range r.Chunks {
		seen[c.DocumentID] = struct{}{}
	}
	return len(seen)
}
