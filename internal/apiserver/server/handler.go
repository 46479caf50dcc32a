// Package server 路由配置与核心基础设施
//
// 本包组装 HTTP API：
//   - handler.go: Handler 定义、路由与中间件
//   - health.go: 健康检查
//   - openapi.go: OpenAPI 文档
//   - websocket.go: WebSocket 变更推送网关
//   - metrics.go: Prometheus 指标
//
// 用户 CRUD 接口由 user 包实现，本包只负责挂载。
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"users-admin/internal/apiserver/notifier"
	"users-admin/internal/apiserver/user"
	"users-admin/internal/shared/storage"
	"users-admin/pkg/logging"
)

// Handler API 处理器
//
// 依赖说明：
//   - store: 持久化存储
//   - notifier: 本进程的变更通知器（WebSocket 观察者注册在此）
//   - publisher: 写操作成功后的事件出口；单进程时即 notifier，
//     多副本时为总线发布器，由各副本的 Relay 转发回 notifier
type Handler struct {
	store     storage.PersistentStore
	notifier  *notifier.Notifier
	publisher user.ChangeNotifier

	gateway *ChangeGateway
	metrics *Metrics
	log     *logging.Logger
}

// NewHandler 创建 Handler 实例
//
// metrics 为 nil 时使用独立 Registry 创建。
func NewHandler(store storage.PersistentStore, n *notifier.Notifier, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics("users_admin", prometheus.NewRegistry())
	}
	log := logging.Default("api-server")
	return &Handler{
		store:     store,
		notifier:  n,
		publisher: n,
		gateway:   NewChangeGateway(n, metrics, log.Named("gateway")),
		metrics:   metrics,
		log:       log,
	}
}

// SetLogger 替换日志器
func (h *Handler) SetLogger(log *logging.Logger) {
	h.log = log
	h.gateway.log = log.Named("gateway")
}

// SetPublisher 设置写操作的事件出口（多副本模式下为总线发布器）
func (h *Handler) SetPublisher(p user.ChangeNotifier) {
	h.publisher = p
}

// SetWebSocketTimings 设置 WebSocket 心跳间隔与写超时
func (h *Handler) SetWebSocketTimings(pingInterval, writeTimeout time.Duration) {
	h.gateway.SetTimings(pingInterval, writeTimeout)
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// Router 返回配置好的 HTTP 路由
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 用户管理 (User)，同时挂载在 /api 与 /api/v1:
//   - GET    /api/users
//   - POST   /api/users
//   - GET    /api/users/{id}
//   - PATCH  /api/users/{id}
//   - DELETE /api/users/{id}
//
// 文档:
//   - GET /api/v1/openapi.json
//   - GET /api/docs
//
// WebSocket:
//   - GET /ws, GET /ws/users - 用户变更实时推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", h.metrics.Handler())

	// OpenAPI 文档
	mux.HandleFunc("GET /api/v1/openapi.json", h.OpenAPI)
	mux.HandleFunc("GET /api/docs", h.Docs)

	// User 接口
	userHandler := user.NewHandler(user.NewService(h.store, h.publisher))
	userHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 请求日志
	loggedHandler := h.loggingMiddleware(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(loggedHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws", h.gateway.HandleWebSocket)
	topMux.HandleFunc("GET /ws/users", h.gateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestIDHeader 请求追踪 ID 头，客户端未携带时由服务端生成
const requestIDHeader = "X-Request-ID"

// loggingMiddleware 记录请求日志，并把追踪 ID 放入上下文与响应头
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get(requestIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, traceID)
		ctx := context.WithValue(r.Context(), logging.TraceIDKey, traceID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}
		h.log.WithContext(ctx).HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP)
	})
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
