// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeUnknown         ErrorCode = "1000"
	CodeInvalidParam    ErrorCode = "1001"
	CodeNotFound        ErrorCode = "1004"
	CodeTooManyRequests ErrorCode = "1006"
	CodeInternalError   ErrorCode = "1007"

	// 资源错误 (3xxx)
	CodeStoryNotFound ErrorCode = "3001"
	CodeFileNotFound  ErrorCode = "3004"

	// 业务错误 (4xxx)
	CodeSummaryFailed      ErrorCode = "4001"
	CodeLLMCallFailed      ErrorCode = "4005"
	CodeRetriesExhausted   ErrorCode = "4010"
	CodeRunTimeout         ErrorCode = "4011"
	CodeQuotaExceeded      ErrorCode = "4012"
	CodeInvalidResponse    ErrorCode = "4013"
	CodeNothingToSummarize ErrorCode = "4014"

	// 外部服务错误 (5xxx)
	CodeCacheError       ErrorCode = "5002"
	CodeStorageError     ErrorCode = "5004"
	CodeLLMProviderError ErrorCode = "5005"
	CodeQueueError       ErrorCode = "5006"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，使 errors.Is(err, ErrRunTimeout) 对包装后的错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrInvalidParam    = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrTooManyRequests = New(CodeTooManyRequests, "too many requests")
	ErrInternalError   = New(CodeInternalError, "internal error")

	ErrStoryNotFound = New(CodeStoryNotFound, "story not found")

	ErrSummaryFailed      = New(CodeSummaryFailed, "story summary failed")
	ErrLLMCallFailed      = New(CodeLLMCallFailed, "LLM call failed")
	ErrRetriesExhausted   = New(CodeRetriesExhausted, "LLM retries exhausted")
	ErrRunTimeout         = New(CodeRunTimeout, "summary run timed out")
	ErrQuotaExceeded      = New(CodeQuotaExceeded, "request quota exceeded")
	ErrInvalidResponse    = New(CodeInvalidResponse, "invalid LLM response")
	ErrNothingToSummarize = New(CodeNothingToSummarize, "nothing to summarize")
)

// IsAppError 检查错误链中是否存在 AppError
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

// CodeOf 返回错误链中第一个 AppError 的错误码
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
