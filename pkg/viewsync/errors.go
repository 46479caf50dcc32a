package viewsync

import (
	"errors"
	"fmt"

	"users-admin/pkg/client"
)

// ErrClosed 同步器已关闭
var ErrClosed = errors.New("viewsync: synchronizer closed")

// ErrorCategory 失败的操作类别
type ErrorCategory string

const (
	CategoryLoad   ErrorCategory = "load-failed"
	CategoryCreate ErrorCategory = "create-failed"
	CategoryUpdate ErrorCategory = "update-failed"
	CategoryDelete ErrorCategory = "delete-failed"
)

// Message 面向用户的提示文本
func (c ErrorCategory) Message() string {
	switch c {
	case CategoryLoad:
		return "Failed to load users"
	case CategoryCreate:
		return "Failed to create user"
	case CategoryUpdate:
		return "Failed to update user"
	case CategoryDelete:
		return "Failed to delete user"
	default:
		return "Operation failed"
	}
}

// SyncError 带类别的同步错误
type SyncError struct {
	Category ErrorCategory
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Kind 底层错误类别（校验、不存在、冲突、传输、内部）
func (e *SyncError) Kind() client.ErrorKind {
	return client.KindOf(e.Err)
}
