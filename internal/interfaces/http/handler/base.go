// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"convergence-engine/internal/interfaces/http/dto"
	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
)

// bindJSON 绑定请求体，失败时写出 400
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		dto.AppError(c, apperrors.InvalidInput("%s", err.Error()))
		return false
	}
	return true
}

// writeError 写出错误响应；非业务错误记录日志
func writeError(c *gin.Context, msg string, err error) {
	if !apperrors.IsAppError(err) {
		logger.Error(c.Request.Context(), msg, err)
	} else if appErr := apperrors.AsAppError(err); appErr.HTTPStatus >= 500 {
		logger.Warn(c.Request.Context(), msg, "error", err.Error())
	}
	dto.AppError(c, err)
}
