// Package server 路由与 WebSocket 推送网关测试
//
// 使用 SQLite 内存库 + 真实通知器，通过 httptest + gorilla/websocket 驱动完整路由。
//
// # 测试分组
//
// ## 基础路由
//   - TestHealth / TestHealth_StoreUnavailable: 健康检查
//   - TestCORSPreflight: OPTIONS 预检
//   - TestRequestID: 请求追踪 ID
//   - TestOpenAPI / TestDocs: 内嵌文档
//   - TestMetrics: 指标端点与路径规范化
//
// ## WebSocket 推送
//   - TestWebSocket_ReceivesChanges: created/updated/deleted 按提交顺序到达
//   - TestWebSocket_AllObserversReceive: /ws 与 /ws/users 都收到全部事件
//   - TestWebSocket_FailedMutationNoEvent: 校验失败不产生事件
//   - TestWebSocket_PingPong: 心跳消息
//   - TestWebSocket_DisconnectUnregisters: 断开后观察者被移除
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"users-admin/internal/apiserver/notifier"
	"users-admin/internal/shared/model"
	sqlitedriver "users-admin/internal/shared/storage/driver/sqlite"
	"users-admin/internal/shared/storage/repository"
	"users-admin/pkg/logging"
)

type testServer struct {
	srv      *httptest.Server
	store    *repository.Store
	notifier *notifier.Notifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect).WithLogger(logging.Nop())

	metrics := NewMetrics("test", prometheus.NewRegistry())
	n := notifier.New(notifier.Options{Logger: logging.Nop(), Recorder: metrics})

	h := NewHandler(store, n, metrics)
	h.SetLogger(logging.Nop())
	srv := httptest.NewServer(h.Router())

	t.Cleanup(func() {
		n.Close()
		srv.Close()
		store.Close()
	})
	return &testServer{srv: srv, store: store, notifier: n}
}

func (s *testServer) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// dial 建立 WebSocket 连接并等待观察者注册完成
func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	before := s.notifier.ObserverCount()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return s.notifier.ObserverCount() == before+1
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.ChangeEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev model.ChangeEvent
	require.NoError(t, json.Unmarshal(data, &ev), string(data))
	return ev
}

// ============================================================================
// 基础路由
// ============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.request(t, http.MethodPost, "/api/users", `{"name":"Ann","email":"ann@x.com"}`)

	resp := s.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Users)
	assert.Equal(t, 0, body.Observers)
}

func TestHealth_StoreUnavailable(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Close())

	resp := s.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Status)
	assert.NotEmpty(t, body.Error)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodOptions, "/api/users", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodGet, "/api/users", "")
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)

	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/users", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-abc")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "trace-abc", resp2.Header.Get("X-Request-ID"))
}

func TestOpenAPI(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodGet, "/api/v1/openapi.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/users/{id}")
}

func TestDocs(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodGet, "/api/docs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.request(t, http.MethodGet, "/api/users/42", "")
	s.request(t, http.MethodPost, "/api/users", `{"name":"Ann","email":"ann@x.com"}`)

	resp := s.request(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `test_http_requests_total{method="GET",path="/api/users/{id}",status="404"} 1`)
	assert.Contains(t, out, `test_change_events_total{kind="created"} 1`)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/users/{id}", normalizePath("/api/users/7"))
	assert.Equal(t, "/api/v1/users/{id}", normalizePath("/api/v1/users/123"))
	assert.Equal(t, "/api/users", normalizePath("/api/users"))
	assert.Equal(t, "/api/users/", normalizePath("/api/users/"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

// ============================================================================
// WebSocket 推送
// ============================================================================

func TestWebSocket_ReceivesChanges(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws")

	resp := s.request(t, http.MethodPost, "/api/users", `{"name":"Ann","email":"ann@x.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	ev := readEvent(t, conn)
	assert.Equal(t, model.ChangeCreated, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	require.NotNil(t, ev.User)
	assert.Equal(t, created.ID, ev.User.ID)
	assert.Equal(t, model.UserRoleUser, ev.User.Role)

	path := "/api/users/" + jsonID(created.ID)
	resp = s.request(t, http.MethodPatch, path, `{"status":"inactive"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev = readEvent(t, conn)
	assert.Equal(t, model.ChangeUpdated, ev.Kind)
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, model.UserStatusInactive, ev.User.Status)

	resp = s.request(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ev = readEvent(t, conn)
	assert.Equal(t, model.ChangeDeleted, ev.Kind)
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, created.ID, ev.ID)
	assert.Nil(t, ev.User)
}

func TestWebSocket_AllObserversReceive(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t, "/ws")
	b := s.dial(t, "/ws/users")

	resp := s.request(t, http.MethodPost, "/api/v1/users", `{"name":"Bob","email":"bob@x.com","role":"admin"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, model.ChangeCreated, ev.Kind)
		assert.Equal(t, "bob@x.com", ev.User.Email)
		assert.Equal(t, model.UserRoleAdmin, ev.User.Role)
	}
}

func TestWebSocket_FailedMutationNoEvent(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws")

	resp := s.request(t, http.MethodPost, "/api/users", `{"name":"","email":"bad"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.request(t, http.MethodDelete, "/api/users/99", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.request(t, http.MethodPost, "/api/users", `{"name":"Cy","email":"cy@x.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// 第一条到达的事件就是成功的那次创建
	ev := readEvent(t, conn)
	assert.Equal(t, model.ChangeCreated, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, "cy@x.com", ev.User.Email)
}

func TestWebSocket_PingPong(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["type"])
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws")
	require.Equal(t, 1, s.notifier.ObserverCount())

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool {
		return s.notifier.ObserverCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
