package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "internal server error")
	ErrParam       = New(BadRequest, "invalid parameter")
	ErrForbidden   = New(Forbidden, "forbidden")
)

// 租户隔离
var (
	ErrInvalidScope = New(BadRequest, "invalid tenant scope")
	ErrCrossTenant  = New(Forbidden, "cross-tenant access denied")
)

// 任务队列
var (
	ErrJobNotFound     = New(NotFound, "job not found")
	ErrJobNotWaiting   = New(Conflict, "job is not waiting")
	ErrJobNotFailed    = New(Conflict, "job is not failed")
	ErrUnknownQueue    = New(NotFound, "unknown queue")
	ErrInvalidPayload  = New(BadRequest, "invalid job payload")
	ErrLeaseLost       = New(Conflict, "job lease lost")
	ErrStallTimeout    = New(Conflict, "job lease expired without progress")
	ErrQueueStopped    = New(ServiceUnavailable, "queue stopped")
	ErrNotFoundRecord  = New(NotFound, "record not found")
	ErrAssignConflict  = New(Conflict, "assignment conflict")
	ErrIllegalTransit  = New(Conflict, "illegal conversation transition")
	ErrDraftReviewed   = New(Conflict, "draft already reviewed")
	ErrInferenceFailed = New(ServiceUnavailable, "inference unavailable")
)

// As 从错误链中取出 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
