package notifier

import (
	"context"
	"fmt"

	"users-admin/internal/shared/eventbus"
	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// Relay 将总线上的事件转发给本地通知器，直到 ctx 结束或总线关闭
//
// 多副本部署时，写入方只向总线发布（见 BusPublisher），
// 每个副本通过 Relay 以总线顺序通知自己的观察者。
func (n *Notifier) Relay(ctx context.Context, bus eventbus.ChangeBus) error {
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	n.log.Info("Relaying change events from bus")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.Notify(ctx, ev)
		}
	}
}

// BusPublisher 将变更事件发布到总线而不是直接通知
type BusPublisher struct {
	bus eventbus.ChangeBus
	log *logging.Logger
}

// NewBusPublisher 创建总线发布器
func NewBusPublisher(bus eventbus.ChangeBus, log *logging.Logger) *BusPublisher {
	if log == nil {
		log = logging.Default("notifier")
	}
	return &BusPublisher{bus: bus, log: log}
}

// Notify 发布事件；失败只记录日志，不影响已提交的写操作
func (p *BusPublisher) Notify(ctx context.Context, event model.ChangeEvent) {
	if err := p.bus.Publish(context.WithoutCancel(ctx), &event); err != nil {
		p.log.WithContext(ctx).WithError(err).Error("Failed to publish change event",
			"kind", event.Kind, "user_id", event.ID)
	}
}
