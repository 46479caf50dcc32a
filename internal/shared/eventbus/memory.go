package eventbus

import (
	"context"
	"errors"
	"log"
	"sync"

	"users-admin/internal/shared/model"
)

// ErrClosed 总线已关闭
var ErrClosed = errors.New("eventbus: closed")

// MemoryBus 进程内总线，用于单进程部署和测试
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan model.ChangeEvent
	nextID int
	closed bool
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan model.ChangeEvent)}
}

// Publish 按发布顺序投递给所有订阅者，订阅者缓冲满时丢弃该条
func (b *MemoryBus) Publish(ctx context.Context, event *model.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for id, ch := range b.subs {
		select {
		case ch <- *event:
		default:
			log.Printf("[EventBus/Memory] Subscriber %d buffer full, dropping %s", id, event.Kind)
		}
	}
	return nil
}

// Subscribe 订阅
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan model.ChangeEvent, SubscriberBuffer)
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}()

	return ch, nil
}

// Close 关闭总线并关闭所有订阅通道
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

// 确保 MemoryBus 实现了 ChangeBus 接口
var _ ChangeBus = (*MemoryBus)(nil)
