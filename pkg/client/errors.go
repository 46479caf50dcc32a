package client

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // 400
	KindNotFound   ErrorKind = "not_found"  // 404
	KindConflict   ErrorKind = "conflict"   // 409
	KindTransport  ErrorKind = "transport"  // 网络错误、超时
	KindInternal   ErrorKind = "internal"   // 5xx 或无法解析的响应
)

// Retryable 只有传输错误和服务端内部错误值得重试
func (k ErrorKind) Retryable() bool {
	return k == KindTransport || k == KindInternal
}

// FieldError 字段校验错误
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error API 调用错误
type Error struct {
	Kind    ErrorKind
	Status  int    // HTTP 状态码，传输错误时为 0
	Message string // 服务端返回的 message
	Fields  []FieldError
	Err     error // 底层错误（传输错误时）
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回错误类别，非 *Error 按内部错误处理
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound 用户不存在
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsConflict email 冲突
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsValidation 请求数据未通过校验
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// kindForStatus 将 HTTP 状态码映射为错误类别
func kindForStatus(status int) ErrorKind {
	switch status {
	case 400, 422:
		return KindValidation
	case 404:
		return KindNotFound
	case 409:
		return KindConflict
	default:
		return KindInternal
	}
}
