package model

import "time"

// UserRole 用户角色
type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleManager UserRole = "manager"
	UserRoleUser    UserRole = "user"
)

// Valid 判断角色是否为枚举值
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleManager, UserRoleUser:
		return true
	}
	return false
}

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// Valid 判断状态是否为枚举值
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusPending:
		return true
	}
	return false
}

// 创建时未指定的默认值
const (
	DefaultUserRole   = UserRoleUser
	DefaultUserStatus = UserStatusActive
)

// User 用户
//
// ID 与 CreatedAt 由存储层分配，之后不可变更。
type User struct {
	ID        int64      `json:"id" db:"id" bson:"_id"`
	Name      string     `json:"name" db:"name" bson:"name"`
	Email     string     `json:"email" db:"email" bson:"email"`
	Role      UserRole   `json:"role" db:"role" bson:"role"`
	Status    UserStatus `json:"status" db:"status" bson:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at" bson:"created_at"`
}

// UserInput 创建用户的字段集合（已通过校验）
type UserInput struct {
	Name   string
	Email  string
	Role   UserRole
	Status UserStatus
}

// WithDefaults 填充 role/status 默认值
func (in UserInput) WithDefaults() UserInput {
	if in.Role == "" {
		in.Role = DefaultUserRole
	}
	if in.Status == "" {
		in.Status = DefaultUserStatus
	}
	return in
}

// UserPatch 部分更新，nil 字段保持不变
type UserPatch struct {
	Name   *string
	Email  *string
	Role   *UserRole
	Status *UserStatus
}

// IsEmpty 没有任何字段需要更新
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Role == nil && p.Status == nil
}

// Apply 将补丁应用到用户副本上并返回结果
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	return u
}
