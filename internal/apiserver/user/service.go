package user

import (
	"context"

	"users-admin/internal/shared/model"
	"users-admin/internal/shared/storage"
)

// PageSize 列表分页固定大小
const PageSize = 10

// ChangeNotifier 变更事件出口（本地通知器或总线发布器）
type ChangeNotifier interface {
	Notify(ctx context.Context, event model.ChangeEvent)
}

// Page 分页结果
type Page struct {
	Users    []*model.User `json:"users"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// Service 用户业务逻辑
//
// 写操作成功提交后才发出变更事件，失败的写操作不产生事件。
// 事件投递的结果不影响写操作的返回值。
type Service struct {
	store    storage.UserStore
	notifier ChangeNotifier
}

// NewService 创建用户服务，notifier 可为 nil
func NewService(store storage.UserStore, notifier ChangeNotifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// List 列出全部用户，最新创建的在前
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	return s.store.ListUsers(ctx)
}

// ListPage 返回第 page 页（从 1 开始），超出范围时返回空列表
func (s *Service) ListPage(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	start := (page - 1) * PageSize
	end := start + PageSize
	if start > len(users) {
		start = len(users)
	}
	if end > len(users) {
		end = len(users)
	}
	return &Page{Users: users[start:end], Total: len(users), Page: page, PageSize: PageSize}, nil
}

// Get 获取单个用户
func (s *Service) Get(ctx context.Context, id int64) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// Create 创建用户并发出 created 事件
func (s *Service) Create(ctx context.Context, in *model.UserInput) (*model.User, error) {
	u, err := s.store.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, model.NewCreatedEvent(u))
	return u, nil
}

// Update 部分更新用户并发出 updated 事件
func (s *Service) Update(ctx context.Context, id int64, patch *model.UserPatch) (*model.User, error) {
	u, err := s.store.UpdateUser(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, model.NewUpdatedEvent(u))
	return u, nil
}

// Delete 删除用户并发出 deleted 事件
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, model.NewDeletedEvent(id))
	return nil
}

func (s *Service) notify(ctx context.Context, ev model.ChangeEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}
