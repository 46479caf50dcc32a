package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"users-admin/internal/apiserver/notifier"
	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// 连接参数默认值
const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	readTimeout         = 60 * time.Second
	maxMessageSize      = 512
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 允许所有来源（服务不做鉴权）。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChangeGateway WebSocket 变更推送网关
//
// 每个连接注册为通知器的一个观察者，收到全部用户变更事件：
//
//	{"type": "user_created", "seq": 1, "timestamp": "...", "data": {...}}
//	{"type": "user_deleted", "seq": 2, "timestamp": "...", "data": {"id": 1}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
type ChangeGateway struct {
	notifier     *notifier.Notifier
	metrics      *Metrics
	pingInterval time.Duration
	writeTimeout time.Duration
	log          *logging.Logger
}

// NewChangeGateway 创建推送网关
func NewChangeGateway(n *notifier.Notifier, metrics *Metrics, log *logging.Logger) *ChangeGateway {
	if log == nil {
		log = logging.Default("gateway")
	}
	return &ChangeGateway{
		notifier:     n,
		metrics:      metrics,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		log:          log,
	}
}

// SetTimings 设置心跳间隔与写超时，非正值保持默认
func (g *ChangeGateway) SetTimings(pingInterval, writeTimeout time.Duration) {
	if pingInterval > 0 {
		g.pingInterval = pingInterval
	}
	if writeTimeout > 0 {
		g.writeTimeout = writeTimeout
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws, GET /ws/users
//
// 连接在以下情况结束：客户端关闭或读错误、观察者被通知器移除（队列满或写失败）。
func (g *ChangeGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	sink := &wsSink{conn: conn, writeTimeout: g.writeTimeout, metrics: g.metrics}
	obs := g.notifier.Register(sink)
	log := g.log.WithObserverID(obs.ID())
	log.Info("WebSocket client connected", "remote", r.RemoteAddr)

	if g.metrics != nil {
		g.metrics.WSConnectionOpened()
		defer g.metrics.WSConnectionClosed()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.readPump(sink, cancel)

	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	defer func() {
		g.notifier.Unregister(obs.ID())
		<-obs.Done()
		log.Info("WebSocket client disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-obs.Done():
			return
		case <-ticker.C:
			if err := sink.write(websocket.PingMessage, nil, time.Time{}); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息
//
// 处理心跳消息（ping 响应 pong），连接关闭或读错误时取消上下文。
func (g *ChangeGateway) readPump(s *wsSink, cancel context.CancelFunc) {
	defer cancel()
	conn := s.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &req) != nil {
			continue
		}
		if g.metrics != nil {
			g.metrics.RecordWSMessage("in", req.Type)
		}
		if req.Type == "ping" {
			data, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := s.write(websocket.TextMessage, data, time.Time{}); err != nil {
				return
			}
		}
	}
}

// wsSink 将变更事件写入 WebSocket 连接
//
// 事件、pong 与 ping 来自不同 goroutine，写操作由 mu 串行化。
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	metrics      *Metrics

	mu        sync.Mutex
	closeOnce sync.Once
}

var _ notifier.Sink = (*wsSink)(nil)

// Send 以 JSON 文本帧写入一条事件
func (s *wsSink) Send(ctx context.Context, event model.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := s.write(websocket.TextMessage, data, deadline); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordWSMessage("out", event.Kind.MessageType())
	}
	return nil
}

// Close 关闭底层连接
func (s *wsSink) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// write 写入一帧，写超时取 writeTimeout 与 deadline 中较早者
func (s *wsSink) write(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := time.Now().Add(s.writeTimeout)
	if !deadline.IsZero() && deadline.Before(d) {
		d = deadline
	}
	s.conn.SetWriteDeadline(d)
	return s.conn.WriteMessage(messageType, data)
}
