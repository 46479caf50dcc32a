package server

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout 健康检查访问存储的超时
const healthTimeout = 2 * time.Second

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Users     int    `json:"users"`
	Observers int    `json:"observers"`
	Error     string `json:"error,omitempty"`
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 存储可达时返回 200 {"status": "ok", ...}，并刷新用户总数指标；
// 否则返回 503 {"status": "unavailable", "error": "..."}。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Observers: h.notifier.ObserverCount()}

	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("Health check: store unreachable")
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	count, err := h.store.CountUsers(ctx)
	if err != nil {
		h.log.WithError(err).Warn("Health check: count users failed")
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Users = count
	h.metrics.SetUsersCount(count)

	writeJSON(w, http.StatusOK, resp)
}
