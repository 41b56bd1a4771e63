// Package eino 注册 Eino 组件的全局回调，上报嵌入调用的追踪与指标
package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var initOnce sync.Once

// Init 注册 Eino 全局 callbacks（进程级一次）。
func Init() {
	initOnce.Do(func() {
		einocallbacks.AppendGlobalHandlers(Handler())
	})
}

// Handler 嵌入组件回调处理器
func Handler() einocallbacks.Handler {
	return cbtemplate.NewHandlerHelper().
		Embedding(newEmbeddingCallbackHandler()).
		Handler()
}
