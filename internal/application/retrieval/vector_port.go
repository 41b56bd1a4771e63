package retrieval

import (
	"context"

	"convergence-engine/internal/domain/entity"
)

// VectorStore 定义应用层对远程向量库的最小依赖（port）。
// 由基础设施层提供具体实现（Qdrant HTTP、Milvus）。
//
// 连接失败（网络错误、5xx）应返回 CodeStoreUnavailable 的 AppError，
// 连接器据此进入降级模式；其他错误按原样向上返回。
type VectorStore interface {
	Backend() string
	Collection() string
	Describe(ctx context.Context) (*entity.CollectionInfo, error)
	Scroll(ctx context.Context, req *ScrollRequest) (*ScrollPage, error)
	Search(ctx context.Context, req *SearchRequest) ([]Point, error)
}

// ScrollRequest 游标分页请求
type ScrollRequest struct {
	Filter      *Filter
	Limit       int
	Offset      any // nil 表示从头开始
	WithPayload bool
	WithVector  bool
}

// ScrollPage 单页结果，NextOffset 为 nil 表示游标已耗尽
type ScrollPage struct {
	Points     []Point
	NextOffset any
}

// SearchRequest 向量相似度检索请求
type SearchRequest struct {
	Vector      []float32
	Limit       int
	Filter      *Filter
	WithPayload bool
	WithVector  bool
}

// Point 向量库返回的原始点
type Point struct {
	ID      string
	Score   *float64
	Payload map[string]any
}
