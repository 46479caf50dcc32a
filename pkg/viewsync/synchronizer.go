// Package viewsync 客户端用户列表同步
//
// Synchronizer 缓存一份用户列表，收到变更事件、本地写操作成功或显式 Refresh 时
// 整体重新拉取，不在本地拼接事件内容。所有拉取由一个刷新循环串行执行，
// 刷新期间到达的触发合并为一次后续拉取。
package viewsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"users-admin/internal/shared/model"
	"users-admin/pkg/client"
	"users-admin/pkg/logging"
)

// 默认配置
const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultPageSize     = 10
)

// State 同步器状态
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source 用户数据来源，*client.Client 即为实现
type Source interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	CreateUser(ctx context.Context, req client.CreateUserRequest) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, req client.UpdateUserRequest) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Options 同步器配置
type Options struct {
	FetchTimeout time.Duration // 单次拉取超时，默认 10s，超时按传输错误处理
	Retry        int           // 拉取失败后的重试次数，默认 0
	RetryDelay   time.Duration // 重试间隔，默认 500ms
	PageSize     int           // Page 的每页条数，默认 10
	Logger       *logging.Logger
	Registerer   prometheus.Registerer // 非 nil 时注册刷新计数指标
}

// Snapshot 某一时刻的缓存视图
type Snapshot struct {
	State      State
	Users      []*model.User
	Err        error
	Generation uint64 // 成功应用的拉取次数
}

// Synchronizer 用户列表同步器
type Synchronizer struct {
	source Source
	feed   Feed
	opts   Options
	log    *logging.Logger
	// refreshes 按结果计数，未配置 Registerer 时为 nil
	refreshes *prometheus.CounterVec

	mu      sync.RWMutex
	state   State
	users   []*model.User
	err     error
	gen     uint64
	started bool
	closed  bool
	unsub   Unsubscribe

	dirty   chan struct{}
	changed chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New 创建同步器，Start 之前处于 Idle 状态
func New(source Source, feed Feed, opts Options) *Synchronizer {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default("viewsync")
	}

	s := &Synchronizer{
		source:  source,
		feed:    feed,
		opts:    opts,
		log:     opts.Logger,
		users:   []*model.User{},
		dirty:   make(chan struct{}, 1),
		changed: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if opts.Registerer != nil {
		s.refreshes = registerCounter(opts.Registerer)
	}
	return s
}

// Start 订阅事件来源并执行首次拉取
//
// ctx 约束拉取请求与订阅的生命周期；Close 才会停止刷新循环。
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("viewsync: already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.feed != nil {
		unsub, err := s.feed.Subscribe(ctx, s.onEvent)
		if err != nil {
			s.mu.Lock()
			s.started = false
			closed := s.closed
			s.mu.Unlock()
			if closed {
				close(s.done)
			}
			return fmt.Errorf("subscribe feed: %w", err)
		}

		// 订阅期间被 Close：Close 已看不到这次订阅，也不会再关闭 done
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			unsub()
			close(s.done)
			return ErrClosed
		}
		s.unsub = unsub
		s.mu.Unlock()
	}

	s.trigger()
	go s.loop(ctx)
	return nil
}

// Close 取消订阅并停止刷新循环，进行中的拉取结果被丢弃
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	close(s.stop)
	if unsub != nil {
		unsub()
	}
	if !started {
		close(s.done)
	}
}

// Done 刷新循环退出后关闭
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Refresh 请求一次重新拉取
func (s *Synchronizer) Refresh() {
	s.trigger()
}

// Changed 状态或数据变化时收到信号，多次变化可能合并为一次
func (s *Synchronizer) Changed() <-chan struct{} {
	return s.changed
}

// Snapshot 返回当前视图的副本
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:      s.state,
		Users:      copyUsers(s.users),
		Err:        s.err,
		Generation: s.gen,
	}
}

// Users 当前缓存的用户列表（副本）
func (s *Synchronizer) Users() []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUsers(s.users)
}

// Loading 是否正在拉取
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateLoading
}

// Err 最近一次失败（拉取或写操作），成功拉取后清除
func (s *Synchronizer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Page 返回第 n 页（从 1 开始），越界返回空切片
func (s *Synchronizer) Page(n int) []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 1 {
		return []*model.User{}
	}
	start := (n - 1) * s.opts.PageSize
	if start >= len(s.users) {
		return []*model.User{}
	}
	end := min(start+s.opts.PageSize, len(s.users))
	return copyUsers(s.users[start:end])
}

// PageCount 总页数，空列表为 0
func (s *Synchronizer) PageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (len(s.users) + s.opts.PageSize - 1) / s.opts.PageSize
}

// Create 创建用户，成功后触发刷新
func (s *Synchronizer) Create(ctx context.Context, req client.CreateUserRequest) (*model.User, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	u, err := s.source.CreateUser(ctx, req)
	if err != nil {
		return nil, s.mutationFailed(CategoryCreate, err)
	}
	s.trigger()
	return u, nil
}

// Update 部分更新用户，成功后触发刷新
func (s *Synchronizer) Update(ctx context.Context, id int64, req client.UpdateUserRequest) (*model.User, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	u, err := s.source.UpdateUser(ctx, id, req)
	if err != nil {
		return nil, s.mutationFailed(CategoryUpdate, err)
	}
	s.trigger()
	return u, nil
}

// Delete 删除用户，成功后触发刷新
func (s *Synchronizer) Delete(ctx context.Context, id int64) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.source.DeleteUser(ctx, id); err != nil {
		return s.mutationFailed(CategoryDelete, err)
	}
	s.trigger()
	return nil
}

// ============================================================================
// 内部实现
// ============================================================================

// onEvent 事件只作为失效信号，内容不使用
func (s *Synchronizer) onEvent(ev model.ChangeEvent) {
	if IsResync(ev) {
		s.log.Debug("Feed resynced, refreshing")
	} else {
		s.log.Debug("Change event received", "kind", ev.Kind, "seq", ev.Seq, "user_id", ev.ID)
	}
	s.trigger()
}

// trigger 标记需要刷新，已有待处理标记时合并
func (s *Synchronizer) trigger() {
	if s.isClosed() {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// loop 串行执行拉取，结果按开始顺序应用
func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.dirty:
		}

		if !s.setLoading() {
			return
		}
		users, err := s.fetch(ctx)
		if !s.apply(users, err) {
			return
		}
	}
}

// fetch 带超时与重试的拉取
func (s *Synchronizer) fetch(ctx context.Context) ([]*model.User, error) {
	var err error
	for attempt := 0; attempt <= s.opts.Retry; attempt++ {
		if attempt > 0 {
			select {
			case <-s.stop:
				return nil, ErrClosed
			case <-ctx.Done():
				return nil, transportError(ctx.Err())
			case <-time.After(s.opts.RetryDelay):
			}
		}

		var users []*model.User
		users, err = s.fetchOnce(ctx)
		if err == nil {
			return users, nil
		}
		if !client.KindOf(err).Retryable() {
			return nil, err
		}
	}
	return nil, err
}

func (s *Synchronizer) fetchOnce(ctx context.Context) ([]*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	users, err := s.source.ListUsers(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			var apiErr *client.Error
			if !errors.As(err, &apiErr) {
				err = transportError(err)
			}
		}
		return nil, err
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

func (s *Synchronizer) setLoading() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.notifyChanged()
	return true
}

// apply 应用拉取结果，已关闭时丢弃并返回 false
func (s *Synchronizer) apply(users []*model.User, err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if err != nil {
		s.state = StateErrored
		s.err = &SyncError{Category: CategoryLoad, Err: err}
		s.countRefresh("failed")
	} else {
		s.state = StateReady
		s.users = users
		s.err = nil
		s.gen++
		s.countRefresh("ok")
	}
	gen := s.gen
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn(CategoryLoad.Message())
	} else {
		s.log.Debug("Users refreshed", "count", len(users), "generation", gen)
	}
	s.notifyChanged()
	return true
}

// mutationFailed 记录写操作错误，缓存保持不变
func (s *Synchronizer) mutationFailed(category ErrorCategory, err error) error {
	serr := &SyncError{Category: category, Err: err}
	s.mu.Lock()
	s.err = serr
	s.mu.Unlock()
	s.log.WithError(err).Warn(category.Message())
	s.notifyChanged()
	return serr
}

func (s *Synchronizer) notifyChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Synchronizer) countRefresh(result string) {
	if s.refreshes != nil {
		s.refreshes.WithLabelValues(result).Inc()
	}
}

func transportError(err error) error {
	return &client.Error{Kind: client.KindTransport, Err: err}
}

func copyUsers(src []*model.User) []*model.User {
	out := make([]*model.User, len(src))
	for i, u := range src {
		c := *u
		out[i] = &c
	}
	return out
}

// registerCounter 注册刷新计数，已注册时复用现有指标
func registerCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "users_admin",
		Subsystem: "viewsync",
		Name:      "refreshes_total",
		Help:      "User list refreshes by result",
	}, []string{"result"})

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		return nil
	}
	return c
}
