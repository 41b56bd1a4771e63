// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"
	CodeInvalidInput       ErrorCode = "1009"
	CodeTimeout            ErrorCode = "1010"

	// 业务错误 (4xxx)
	CodeRetrievalFailed        ErrorCode = "4003"
	CodeEmbeddingFailed        ErrorCode = "4006"
	CodeDimensionalityMismatch ErrorCode = "4101"
	CodePartialBatchFailure    ErrorCode = "4102"

	// 外部服务错误 (5xxx)
	CodeDatabaseError       ErrorCode = "5001"
	CodeCacheError          ErrorCode = "5002"
	CodeVectorDBError       ErrorCode = "5003"
	CodeProviderUnavailable ErrorCode = "5101"
	CodeBreakerOpen         ErrorCode = "5102"
	CodeStoreUnavailable    ErrorCode = "5103"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Detail     string         `json:"detail,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	RetryAfter time.Duration  `json:"-"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// WithField 添加诊断字段（provider、breaker 状态、维度摘要等）
func (e *AppError) WithField(key string, value any) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithRetryAfter 设置建议的重试等待时间
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess, CodePartialBatchFailure:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDimensionalityMismatch:
		return http.StatusUnprocessableEntity
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable, CodeProviderUnavailable, CodeBreakerOpen, CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// IsCode 判断错误链中是否存在指定错误码的 AppError
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// InvalidInput 参数非法，快速失败且不重试
func InvalidInput(format string, args ...any) *AppError {
	return New(CodeInvalidInput, "invalid input").WithDetail(fmt.Sprintf(format, args...))
}

// BatchFailures 批量处理中失败项的原因，按输入下标索引
type BatchFailures map[int]error

// Error 实现 error 接口
func (f BatchFailures) Error() string {
	idx := make([]int, 0, len(f))
	for i := range f {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, f[i]))
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(f), strings.Join(parts, "; "))
}

// Indexes 返回升序排列的失败下标
func (f BatchFailures) Indexes() []int {
	idx := make([]int, 0, len(f))
	for i := range f {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// PartialBatchFailure 构造批量部分失败错误
func PartialBatchFailure(total int, failures BatchFailures) *AppError {
	return New(CodePartialBatchFailure, "partial batch failure").
		WithDetail(fmt.Sprintf("%d of %d items failed", len(failures), total)).
		WithError(failures)
}
