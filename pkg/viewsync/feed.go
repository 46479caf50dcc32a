package viewsync

import (
	"context"
	"sync"

	"users-admin/internal/shared/eventbus"
	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// Unsubscribe 取消订阅，返回后不再回调
type Unsubscribe func()

// Feed 变更事件来源
//
// 屏蔽实时总线与 WebSocket 两种传输。onEvent 可能在任意 goroutine 中调用，
// 调用方只应把它当作失效信号。Kind 为空的事件表示来源发生过中断，
// 期间的事件可能丢失（见 IsResync）。
type Feed interface {
	Subscribe(ctx context.Context, onEvent func(model.ChangeEvent)) (Unsubscribe, error)
}

// ResyncEvent 来源中断恢复后发出的信号事件
func ResyncEvent() model.ChangeEvent {
	return model.ChangeEvent{}
}

// IsResync 判断是否为中断恢复信号
func IsResync(ev model.ChangeEvent) bool {
	return ev.Kind == ""
}

// ============================================================================
// BusFeed
// ============================================================================

// BusFeed 直接订阅跨进程事件总线（Redis Pub/Sub 或 etcd Watch）
type BusFeed struct {
	bus eventbus.ChangeBus
	log *logging.Logger
}

// NewBusFeed 创建总线事件来源
func NewBusFeed(bus eventbus.ChangeBus, log *logging.Logger) *BusFeed {
	if log == nil {
		log = logging.Default("viewsync")
	}
	return &BusFeed{bus: bus, log: log}
}

// Subscribe 订阅总线，总线关闭后停止回调
func (f *BusFeed) Subscribe(ctx context.Context, onEvent func(model.ChangeEvent)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	events, err := f.bus.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					f.log.Warn("Change bus subscription closed")
					return
				}
				onEvent(ev)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// ============================================================================
// ManualFeed
// ============================================================================

// ManualFeed 手动触发的事件来源，用于测试与嵌入式场景
type ManualFeed struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(model.ChangeEvent)
}

// NewManualFeed 创建手动事件来源
func NewManualFeed() *ManualFeed {
	return &ManualFeed{handlers: make(map[int]func(model.ChangeEvent))}
}

// Subscribe 注册回调
func (f *ManualFeed) Subscribe(_ context.Context, onEvent func(model.ChangeEvent)) (Unsubscribe, error) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = onEvent
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}, nil
}

// Emit 同步地将事件交给所有订阅者
func (f *ManualFeed) Emit(ev model.ChangeEvent) {
	f.mu.Lock()
	handlers := make([]func(model.ChangeEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers 当前订阅者数量
func (f *ManualFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}
