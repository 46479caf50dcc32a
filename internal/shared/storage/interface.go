// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（PostgreSQL、SQLite）、mongostore/
//   - 初始化时通过依赖注入传入实现
//
// 变更事件总线不属于存储层，见 eventbus/。
package storage

import (
	"context"

	"users-admin/internal/shared/model"
)

// UserStore 用户存储接口
//
// 所有方法对单个用户原子生效：
//   - ListUsers 按 created_at 降序（同一时间戳按 id 降序）
//   - GetUser / UpdateUser / DeleteUser 在 id 不存在时返回 ErrNotFound
//   - CreateUser / UpdateUser 违反 email 唯一约束时返回 ErrDuplicate，且不产生部分写入
type UserStore interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CreateUser(ctx context.Context, in *model.UserInput) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, patch *model.UserPatch) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int, error)
}

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	UserStore
	Ping(ctx context.Context) error
	Close() error
}
