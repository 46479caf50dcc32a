// Package notifier 用户变更通知器
//
// 每次提交成功后由业务层调用 Notify，通知器为事件分配递增序号，
// 并按调用顺序放入每个观察者各自的 FIFO 队列。每个观察者由独立
// goroutine 投递，慢观察者或投递失败的观察者被移除，不影响其他观察者，
// 也不阻塞 Notify 的调用方。
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// 观察者被移除的原因
const (
	DropQueueFull  = "queue_full"
	DropSendFailed = "send_failed"
	DropClosed     = "closed"
)

// Sink 事件投递目标（如一个 WebSocket 连接）
type Sink interface {
	// Send 投递一条事件，返回错误时该观察者被移除
	Send(ctx context.Context, event model.ChangeEvent) error
	// Close 释放底层资源，观察者移除后调用一次
	Close() error
}

// Recorder 投递指标记录
type Recorder interface {
	EventNotified(kind string)
	Delivery(result string)
	ObserverDropped(reason string)
	ObserversActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventNotified(string)   {}
func (nopRecorder) Delivery(string)        {}
func (nopRecorder) ObserverDropped(string) {}
func (nopRecorder) ObserversActive(int)    {}

// Options 通知器配置
type Options struct {
	QueueSize   int           // 每个观察者的队列长度，默认 64
	SendTimeout time.Duration // 单条投递超时，默认 10s
	Logger      *logging.Logger
	Recorder    Recorder
}

// Notifier 变更通知器
type Notifier struct {
	mu        sync.Mutex
	observers map[string]*Observer
	seq       uint64
	closed    bool

	queueSize   int
	sendTimeout time.Duration
	log         *logging.Logger
	rec         Recorder
}

// New 创建通知器
func New(opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default("notifier")
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Notifier{
		observers:   make(map[string]*Observer),
		queueSize:   opts.QueueSize,
		sendTimeout: opts.SendTimeout,
		log:         opts.Logger,
		rec:         opts.Recorder,
	}
}

// Register 注册观察者并启动其投递 goroutine
//
// 注册之后 Notify 的事件都会投递给该观察者；之前的事件不补发。
// 通知器已关闭时返回的观察者立即处于结束状态。
func (n *Notifier) Register(sink Sink) *Observer {
	o := &Observer{
		id:    uuid.NewString(),
		sink:  sink,
		queue: make(chan model.ChangeEvent, n.queueSize),
		done:  make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		o.stop()
		go o.run(n)
		return o
	}
	n.observers[o.id] = o
	count := len(n.observers)
	n.mu.Unlock()

	n.rec.ObserversActive(count)
	n.log.WithObserverID(o.id).Debug("Observer registered", "observers", count)
	go o.run(n)
	return o
}

// Unregister 移除观察者，已入队的事件仍会尝试投递
func (n *Notifier) Unregister(id string) {
	n.remove(id, "")
}

// Notify 广播一条变更事件
//
// 序号在持锁时分配，入队也在同一临界区内完成，
// 因此每个观察者看到的顺序与 Notify 的调用顺序一致。
// 入队不阻塞：队列已满的观察者被移除。
func (n *Notifier) Notify(ctx context.Context, event model.ChangeEvent) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}

	n.seq++
	event.Seq = n.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var full []string
	for id, o := range n.observers {
		select {
		case o.queue <- event:
		default:
			full = append(full, id)
		}
	}
	for _, id := range full {
		n.removeLocked(id, DropQueueFull)
	}
	count := len(n.observers)
	n.mu.Unlock()

	n.rec.EventNotified(string(event.Kind))
	n.log.WithContext(ctx).ChangeLog(string(event.Kind), event.Seq, event.ID, count)
}

// ObserverCount 当前观察者数量
func (n *Notifier) ObserverCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}

// Seq 最近一次分配的序号
func (n *Notifier) Seq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// Close 停止接收事件并移除所有观察者
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id := range n.observers {
		n.removeLocked(id, "")
	}
	n.mu.Unlock()
	n.rec.ObserversActive(0)
}

// remove 移除观察者，reason 为空表示正常注销
func (n *Notifier) remove(id, reason string) {
	n.mu.Lock()
	removed := n.removeLocked(id, reason)
	count := len(n.observers)
	n.mu.Unlock()

	if removed {
		n.rec.ObserversActive(count)
	}
}

func (n *Notifier) removeLocked(id, reason string) bool {
	o, ok := n.observers[id]
	if !ok {
		return false
	}
	delete(n.observers, id)
	o.stop()

	if reason != "" {
		n.rec.ObserverDropped(reason)
		n.log.WithObserverID(id).Warn("Observer dropped", "reason", reason)
	}
	return true
}

// Observer 已注册的观察者
type Observer struct {
	id    string
	sink  Sink
	queue chan model.ChangeEvent
	done  chan struct{}
	once  sync.Once
}

// ID 观察者标识
func (o *Observer) ID() string {
	return o.id
}

// Done 投递 goroutine 退出且 Sink 已关闭时关闭
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// stop 关闭队列，调用方须持有通知器锁
func (o *Observer) stop() {
	o.once.Do(func() { close(o.queue) })
}

// run 按 FIFO 顺序投递队列中的事件
func (o *Observer) run(n *Notifier) {
	defer close(o.done)
	defer o.sink.Close()

	for event := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		err := o.sink.Send(ctx, event)
		cancel()

		if err != nil {
			n.rec.Delivery("failed")
			n.log.WithObserverID(o.id).WithError(err).Debug("Delivery failed", "seq", event.Seq)
			n.remove(o.id, DropSendFailed)
			return
		}
		n.rec.Delivery("ok")
	}
}
