package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeKind 变更类型
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// changeTypePrefix 推送消息 type 字段前缀，如 user_created
const changeTypePrefix = "user_"

// Valid 判断是否为已知变更类型
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	}
	return false
}

// MessageType 返回推送消息的 type 字段
func (k ChangeKind) MessageType() string {
	return changeTypePrefix + string(k)
}

// ChangeEvent 用户变更事件
//
// 不持久化。created/updated 携带完整 User，deleted 只携带 ID。
// Seq 由通知器按提交顺序分配。
type ChangeEvent struct {
	Seq       uint64
	Kind      ChangeKind
	User      *User
	ID        int64
	Timestamp time.Time
}

// NewCreatedEvent 构造 created 事件
func NewCreatedEvent(u *User) ChangeEvent {
	return ChangeEvent{Kind: ChangeCreated, User: u, ID: u.ID, Timestamp: time.Now().UTC()}
}

// NewUpdatedEvent 构造 updated 事件
func NewUpdatedEvent(u *User) ChangeEvent {
	return ChangeEvent{Kind: ChangeUpdated, User: u, ID: u.ID, Timestamp: time.Now().UTC()}
}

// NewDeletedEvent 构造 deleted 事件
func NewDeletedEvent(id int64) ChangeEvent {
	return ChangeEvent{Kind: ChangeDeleted, ID: id, Timestamp: time.Now().UTC()}
}

// changeMessage 推送消息线格式
//
//	{"type": "user_created", "seq": 1, "timestamp": "...", "data": {...}}
//	{"type": "user_deleted", "seq": 2, "timestamp": "...", "data": {"id": 1}}
type changeMessage struct {
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type deletedData struct {
	ID int64 `json:"id"`
}

// MarshalJSON 编码为推送消息格式
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("invalid change kind %q", e.Kind)
	}

	var data []byte
	var err error
	if e.Kind == ChangeDeleted {
		data, err = json.Marshal(deletedData{ID: e.ID})
	} else {
		if e.User == nil {
			return nil, fmt.Errorf("%s event without user payload", e.Kind)
		}
		data, err = json.Marshal(e.User)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(changeMessage{
		Type:      e.Kind.MessageType(),
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Data:      data,
	})
}

// UnmarshalJSON 从推送消息格式解码
func (e *ChangeEvent) UnmarshalJSON(b []byte) error {
	var msg changeMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return err
	}

	kind := ChangeKind(strings.TrimPrefix(msg.Type, changeTypePrefix))
	if !strings.HasPrefix(msg.Type, changeTypePrefix) || !kind.Valid() {
		return fmt.Errorf("unknown change message type %q", msg.Type)
	}

	out := ChangeEvent{Seq: msg.Seq, Kind: kind, Timestamp: msg.Timestamp}
	if kind == ChangeDeleted {
		var d deletedData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("decode deleted payload: %w", err)
		}
		out.ID = d.ID
	} else {
		var u User
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			return fmt.Errorf("decode %s payload: %w", kind, err)
		}
		out.User = &u
		out.ID = u.ID
	}

	*e = out
	return nil
}

// IsChangeMessage 判断消息 type 是否为用户变更消息（用于区分 pong 等控制消息）
func IsChangeMessage(msgType string) bool {
	return strings.HasPrefix(msgType, changeTypePrefix) &&
		ChangeKind(strings.TrimPrefix(msgType, changeTypePrefix)).Valid()
}
