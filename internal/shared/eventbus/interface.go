// Package eventbus 跨进程用户变更事件总线
//
// 多个 api-server 副本共享同一条总线：写入方在提交后 Publish，
// 每个副本通过 Subscribe 收到相同顺序的事件并转发给本地通知器。
// 当前实现：Redis Pub/Sub（redis/）、etcd Watch（etcd/）、进程内（MemoryBus）。
package eventbus

import (
	"context"

	"users-admin/internal/shared/model"
)

// ChangeBus 变更事件总线接口
type ChangeBus interface {
	// Publish 发布一条变更事件
	Publish(ctx context.Context, event *model.ChangeEvent) error

	// Subscribe 订阅变更事件，ctx 结束或总线关闭时返回的通道被关闭
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)

	Close() error
}
