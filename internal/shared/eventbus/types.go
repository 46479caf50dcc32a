// Package eventbus 事件总线类型定义
package eventbus

import (
	"encoding/json"
	"fmt"

	"users-admin/internal/shared/model"
)

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// DefaultChannel Redis Pub/Sub 频道名
	DefaultChannel = "users-admin:user_changes"

	// DefaultEtcdKey etcd 中承载变更事件的 key，每次 Put 产生一个 revision
	DefaultEtcdKey = "/users-admin/events/user_changes"

	// SubscriberBuffer 订阅通道缓冲大小
	SubscriberBuffer = 100
)

// Encode 将事件编码为总线消息（与 WebSocket 推送格式一致）
func Encode(event *model.ChangeEvent) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return b, nil
}

// Decode 解码总线消息
func Decode(data []byte) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return ev, nil
}
