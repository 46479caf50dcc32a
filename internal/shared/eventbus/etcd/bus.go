// Package etcd 基于 etcd Watch 的变更事件总线
//
// 所有事件写入同一个 key，每次 Put 产生一个新 revision，
// Watch 按 revision 顺序推送，多个副本看到的顺序一致。
package etcd

import (
	"context"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"users-admin/internal/shared/eventbus"
	"users-admin/internal/shared/model"
)

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Key         string
}

// Bus etcd 总线
type Bus struct {
	client *clientv3.Client
	key    string
}

// NewBus 创建 etcd 总线
func NewBus(cfg Config) (*Bus, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = eventbus.DefaultEtcdKey
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd/EventBus] Connected to %v", cfg.Endpoints)
	return &Bus{client: client, key: cfg.Key}, nil
}

// Key 返回事件 key
func (b *Bus) Key() string {
	return b.key
}

// Publish 发布变更事件
func (b *Bus) Publish(ctx context.Context, event *model.ChangeEvent) error {
	data, err := eventbus.Encode(event)
	if err != nil {
		return err
	}
	if _, err := b.client.Put(ctx, b.key, string(data)); err != nil {
		return fmt.Errorf("failed to put change event: %w", err)
	}
	return nil
}

// Subscribe 从当前 revision 之后开始监听
func (b *Bus) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	resp, err := b.client.Get(ctx, b.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get current revision: %w", err)
	}

	out := make(chan model.ChangeEvent, eventbus.SubscriberBuffer)
	watchCh := b.client.Watch(clientv3.WithRequireLeader(ctx), b.key, clientv3.WithRev(resp.Header.Revision+1))

	go func() {
		defer close(out)
		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				log.Printf("[etcd/EventBus] Watch error: %v", err)
				return
			}
			for _, ev := range watchResp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				change, err := eventbus.Decode(ev.Kv.Value)
				if err != nil {
					log.Printf("[etcd/EventBus] Skipping malformed event at rev %d: %v", ev.Kv.ModRevision, err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close 关闭连接
func (b *Bus) Close() error {
	return b.client.Close()
}

var _ eventbus.ChangeBus = (*Bus)(nil)
