// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由，未提供的处理器对应路由不注册
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	// 收敛导航
	if h.Convergence != nil {
		v1.POST("/convergence/navigate", h.Convergence.Navigate)
	}

	// 嵌入缓存
	if h.Embedding != nil {
		embeddings := v1.Group("/embeddings")
		{
			embeddings.POST("", h.Embedding.Embed)
			embeddings.POST("/batch", h.Embedding.EmbedBatch)
			embeddings.POST("/warmup", h.Embedding.Warmup)
			embeddings.POST("/sweep", h.Embedding.Sweep)
			embeddings.GET("/stats", h.Embedding.Stats)
		}
	}

	// 向量库
	if h.Vector != nil {
		vectors := v1.Group("/vectors")
		{
			vectors.POST("/query", h.Vector.Query)
			vectors.POST("/search", h.Vector.Search)
			vectors.GET("/collection", h.Vector.Collection)
			vectors.GET("/analysis", h.Vector.Analysis)
		}
	}
}
