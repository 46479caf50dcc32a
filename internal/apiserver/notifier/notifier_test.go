// Package notifier 变更通知器单元测试
//
// # 测试分组
//
// ## 投递顺序
//   - TestNotify_PerObserverOrder: 每个观察者按 Notify 顺序收到事件，序号递增
//   - TestNotify_NoFiltering: 所有观察者收到所有事件
//
// ## 故障隔离
//   - TestNotify_SlowObserverDropped: 队列满的观察者被移除，Notify 不阻塞
//   - TestNotify_FailedObserverDropped: 投递失败的观察者被移除并关闭
//
// ## 生命周期
//   - TestUnregister / TestClose / TestRegisterAfterClose
//
// ## 总线转发
//   - TestRelay / TestBusPublisher
package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"users-admin/internal/shared/eventbus"
	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// ============================================================================
// Fake 实现
// ============================================================================

// fakeSink 记录收到的事件
//
//   - err: Send 返回的错误
//   - block: 非 nil 时 Send 阻塞直到该通道关闭
type fakeSink struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	closed bool
	err    error
	block  chan struct{}
}

func (s *fakeSink) Send(ctx context.Context, ev model.ChangeEvent) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) received() []model.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChangeEvent(nil), s.events...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeRecorder 统计指标调用
type fakeRecorder struct {
	mu      sync.Mutex
	dropped map[string]int
	active  int
}

func (r *fakeRecorder) EventNotified(string) {}
func (r *fakeRecorder) Delivery(string)      {}
func (r *fakeRecorder) ObserverDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped == nil {
		r.dropped = map[string]int{}
	}
	r.dropped[reason]++
}
func (r *fakeRecorder) ObserversActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *fakeRecorder) droppedFor(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[reason]
}

func newTestNotifier(queueSize int, rec Recorder) *Notifier {
	return New(Options{QueueSize: queueSize, SendTimeout: 5 * time.Second, Logger: logging.Nop(), Recorder: rec})
}

func userEvent(id int64) model.ChangeEvent {
	return model.NewUpdatedEvent(&model.User{ID: id, Name: "u", Email: "u@x.com"})
}

func waitDone(t *testing.T, o *Observer) {
	t.Helper()
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop")
	}
}

// ============================================================================
// 投递顺序
// ============================================================================

func TestNotify_PerObserverOrder(t *testing.T) {
	n := newTestNotifier(16, nil)
	defer n.Close()

	a, b := &fakeSink{}, &fakeSink{}
	n.Register(a)
	n.Register(b)
	require.Equal(t, 2, n.ObserverCount())

	for i := int64(1); i <= 10; i++ {
		n.Notify(context.Background(), userEvent(i))
	}

	for _, s := range []*fakeSink{a, b} {
		require.Eventually(t, func() bool { return len(s.received()) == 10 }, 2*time.Second, 5*time.Millisecond)
		for i, ev := range s.received() {
			assert.Equal(t, uint64(i+1), ev.Seq)
			assert.Equal(t, int64(i+1), ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		}
	}
	assert.Equal(t, uint64(10), n.Seq())
}

func TestNotify_NoFiltering(t *testing.T) {
	n := newTestNotifier(16, nil)
	defer n.Close()

	s := &fakeSink{}
	n.Register(s)

	created := model.NewCreatedEvent(&model.User{ID: 1, Name: "a", Email: "a@x.com"})
	n.Notify(context.Background(), created)
	n.Notify(context.Background(), userEvent(2))
	n.Notify(context.Background(), model.NewDeletedEvent(3))

	require.Eventually(t, func() bool { return len(s.received()) == 3 }, 2*time.Second, 5*time.Millisecond)
	got := s.received()
	assert.Equal(t, model.ChangeCreated, got[0].Kind)
	assert.Equal(t, model.ChangeUpdated, got[1].Kind)
	assert.Equal(t, model.ChangeDeleted, got[2].Kind)
	assert.Equal(t, int64(3), got[2].ID)
}

// ============================================================================
// 故障隔离
// ============================================================================

func TestNotify_SlowObserverDropped(t *testing.T) {
	rec := &fakeRecorder{}
	n := newTestNotifier(2, rec)
	defer n.Close()

	release := make(chan struct{})
	slow := &fakeSink{block: release}
	fast := &fakeSink{}
	slowObs := n.Register(slow)
	n.Register(fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 6; i++ {
			n.Notify(context.Background(), userEvent(i))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow observer")
	}

	assert.Equal(t, 1, n.ObserverCount())
	assert.Equal(t, 1, rec.droppedFor(DropQueueFull))

	require.Eventually(t, func() bool { return len(fast.received()) == 6 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	waitDone(t, slowObs)
	assert.True(t, slow.isClosed())
	assert.Less(t, len(slow.received()), 6)
}

func TestNotify_FailedObserverDropped(t *testing.T) {
	rec := &fakeRecorder{}
	n := newTestNotifier(8, rec)
	defer n.Close()

	bad := &fakeSink{err: errors.New("broken pipe")}
	good := &fakeSink{}
	badObs := n.Register(bad)
	n.Register(good)

	n.Notify(context.Background(), userEvent(1))
	waitDone(t, badObs)
	assert.True(t, bad.isClosed())
	assert.Equal(t, 1, n.ObserverCount())
	assert.Equal(t, 1, rec.droppedFor(DropSendFailed))

	n.Notify(context.Background(), userEvent(2))
	require.Eventually(t, func() bool { return len(good.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

// ============================================================================
// 生命周期
// ============================================================================

func TestUnregister(t *testing.T) {
	rec := &fakeRecorder{}
	n := newTestNotifier(8, rec)
	defer n.Close()

	s := &fakeSink{}
	o := n.Register(s)
	assert.NotEmpty(t, o.ID())

	n.Unregister(o.ID())
	waitDone(t, o)
	assert.True(t, s.isClosed())
	assert.Equal(t, 0, n.ObserverCount())
	assert.Equal(t, 0, rec.droppedFor(DropSendFailed))

	// 重复注销无副作用
	n.Unregister(o.ID())

	n.Notify(context.Background(), userEvent(1))
	assert.Empty(t, s.received())
}

func TestClose(t *testing.T) {
	n := newTestNotifier(8, nil)
	a, b := &fakeSink{}, &fakeSink{}
	oa, ob := n.Register(a), n.Register(b)

	n.Close()
	waitDone(t, oa)
	waitDone(t, ob)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())

	// 关闭后 Notify 是空操作
	n.Notify(context.Background(), userEvent(1))
	assert.Equal(t, uint64(0), n.Seq())
	n.Close()
}

func TestRegisterAfterClose(t *testing.T) {
	n := newTestNotifier(8, nil)
	n.Close()

	s := &fakeSink{}
	o := n.Register(s)
	waitDone(t, o)
	assert.True(t, s.isClosed())
	assert.Equal(t, 0, n.ObserverCount())
}

// ============================================================================
// 总线转发
// ============================================================================

// signalBus 在订阅建立后发出信号
type signalBus struct {
	*eventbus.MemoryBus
	subscribed chan struct{}
}

func (b *signalBus) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	ch, err := b.MemoryBus.Subscribe(ctx)
	close(b.subscribed)
	return ch, err
}

func TestRelay(t *testing.T) {
	n := newTestNotifier(8, nil)
	defer n.Close()
	s := &fakeSink{}
	n.Register(s)

	bus := &signalBus{MemoryBus: eventbus.NewMemoryBus(), subscribed: make(chan struct{})}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	relayErr := make(chan error, 1)
	go func() { relayErr <- n.Relay(ctx, bus) }()
	<-bus.subscribed

	pub := NewBusPublisher(bus, logging.Nop())
	pub.Notify(ctx, model.NewCreatedEvent(&model.User{ID: 1, Name: "a", Email: "a@x.com"}))
	pub.Notify(ctx, model.NewDeletedEvent(1))

	require.Eventually(t, func() bool { return len(s.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
	got := s.received()
	assert.Equal(t, model.ChangeCreated, got[0].Kind)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, model.ChangeDeleted, got[1].Kind)
	assert.Equal(t, uint64(2), got[1].Seq)

	cancel()
	select {
	case err := <-relayErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBusPublisher_PublishErrorIsSwallowed(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	require.NoError(t, bus.Close())

	pub := NewBusPublisher(bus, logging.Nop())
	assert.NotPanics(t, func() {
		pub.Notify(context.Background(), model.NewDeletedEvent(1))
	})
}
