package viewsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// WebSocketFeed 通过 api-server 的 /ws/users 接收变更事件
//
// 断线后按指数退避重连。每次连接建立后发出一次 ResyncEvent，
// 因为断线期间的事件不会补发。
type WebSocketFeed struct {
	URL          string
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration // 默认 500ms
	MaxBackoff   time.Duration // 默认 30s
	PingInterval time.Duration // 默认 30s

	log *logging.Logger
}

// NewWebSocketFeed 创建 WebSocket 事件来源
func NewWebSocketFeed(url string, log *logging.Logger) *WebSocketFeed {
	if log == nil {
		log = logging.Default("viewsync")
	}
	return &WebSocketFeed{
		URL:          url,
		Dialer:       websocket.DefaultDialer,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		PingInterval: 30 * time.Second,
		log:          log,
	}
}

// Subscribe 在后台连接并持续重连，直到取消订阅或 ctx 结束
func (f *WebSocketFeed) Subscribe(ctx context.Context, onEvent func(model.ChangeEvent)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.run(ctx, onEvent)
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func (f *WebSocketFeed) run(ctx context.Context, onEvent func(model.ChangeEvent)) {
	backoff := f.MinBackoff
	for {
		conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.WithError(err).Warn("WebSocket dial failed", "url", f.URL, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, f.MaxBackoff)
			continue
		}

		backoff = f.MinBackoff
		f.log.Info("WebSocket connected", "url", f.URL)
		onEvent(ResyncEvent())

		err = f.readLoop(ctx, conn, onEvent)
		if ctx.Err() != nil {
			return
		}
		f.log.WithError(err).Warn("WebSocket disconnected, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
	}
}

// readLoop 读取推送消息直到连接出错，心跳由独立 goroutine 发送
func (f *WebSocketFeed) readLoop(ctx context.Context, conn *websocket.Conn, onEvent func(model.ChangeEvent)) error {
	stop := make(chan struct{})
	defer close(stop)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(f.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &head) != nil || !model.IsChangeMessage(head.Type) {
			continue
		}
		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			f.log.WithError(err).Warn("Malformed change message")
			continue
		}
		onEvent(ev)
	}
}

// sleep 等待 d，ctx 结束时返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
