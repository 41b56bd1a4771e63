// Package middleware 提供 HTTP 中间件
package middleware

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"

	"convergence-engine/internal/interfaces/http/dto"
	"convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
)

// Recovery 捕获处理链中的 panic 并返回统一的 500 响应。
// 客户端已断开（broken pipe / connection reset）时只记录日志，不再写响应。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			ctx := c.Request.Context()

			if clientGone(err) {
				logger.Warn(ctx, "client disconnected during response", "path", c.FullPath(), "error", err.Error())
				c.Abort()
				return
			}

			logger.Error(ctx, "panic recovered", err,
				"stack", string(debug.Stack()),
				"route", c.FullPath(),
				"method", c.Request.Method,
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
				Code:    http.StatusInternalServerError,
				Message: "internal server error",
				Error:   &dto.ErrorDetail{ErrorCode: string(errors.CodeInternalError)},
				TraceID: c.GetString("trace_id"),
			})
		}()

		c.Next()
	}
}

func clientGone(err error) bool {
	var opErr *net.OpError
	if !stderrors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if stderrors.As(opErr.Err, &sysErr) {
		return stderrors.Is(sysErr.Err, syscall.EPIPE) || stderrors.Is(sysErr.Err, syscall.ECONNRESET)
	}
	return false
}
