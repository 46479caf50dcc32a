// Package redis 基于 Redis Pub/Sub 的变更事件总线
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"users-admin/internal/shared/eventbus"
	"users-admin/internal/shared/model"
)

// Bus Redis Pub/Sub 总线
//
// Pub/Sub 不持久化：订阅建立前发布的事件不会补发，
// 下游依靠重新拉取全量列表恢复一致。
type Bus struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewBusFromClient 使用已有客户端创建总线（Close 不关闭客户端）
func NewBusFromClient(client *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = eventbus.DefaultChannel
	}
	return &Bus{client: client, channel: channel}
}

// NewBus 从 URL 创建总线，如 redis://localhost:6379/0
func NewBus(redisURL, channel string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", opts.Addr)

	b := NewBusFromClient(client, channel)
	b.owned = true
	return b, nil
}

// Channel 返回频道名
func (b *Bus) Channel() string {
	return b.channel
}

// Publish 发布变更事件
func (b *Bus) Publish(ctx context.Context, event *model.ChangeEvent) error {
	data, err := eventbus.Encode(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe 订阅变更事件
//
// 返回前确认订阅已生效，保证之后发布的事件都能收到。
func (b *Bus) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", b.channel, err)
	}

	out := make(chan model.ChangeEvent, eventbus.SubscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := eventbus.Decode([]byte(msg.Payload))
				if err != nil {
					log.Printf("[Redis/EventBus] Skipping malformed message: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close 关闭总线
func (b *Bus) Close() error {
	if b.owned {
		return b.client.Close()
	}
	return nil
}

var _ eventbus.ChangeBus = (*Bus)(nil)
