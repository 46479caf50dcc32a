// Package user 用户领域 - HTTP 处理
package user

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"users-admin/internal/shared/storage"
)

// 响应消息
const (
	msgNotFound    = "User not found"
	msgInvalidData = "Invalid user data"
	msgDuplicate   = "Email already in use"
	msgInternal    = "Internal server error"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// Handler 用户领域 HTTP 处理器
type Handler struct {
	svc *Service
}

// NewHandler 创建用户处理器
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册用户相关路由
//
// 同时挂载在 /api 与 /api/v1 下：
//   - GET    {prefix}/users        列出用户（?page=N 时分页）
//   - POST   {prefix}/users        创建用户
//   - GET    {prefix}/users/{id}   获取用户
//   - PATCH  {prefix}/users/{id}   部分更新
//   - DELETE {prefix}/users/{id}   删除用户
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	for _, prefix := range []string{"/api", "/api/v1"} {
		mux.HandleFunc("GET "+prefix+"/users", h.List)
		mux.HandleFunc("POST "+prefix+"/users", h.Create)
		mux.HandleFunc("GET "+prefix+"/users/{id}", h.Get)
		mux.HandleFunc("PATCH "+prefix+"/users/{id}", h.Update)
		mux.HandleFunc("DELETE "+prefix+"/users/{id}", h.Delete)
	}
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// List 列出用户
// GET /api/users
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Query().Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		result, err := h.svc.ListPage(r.Context(), page)
		if err != nil {
			h.internalError(w, "List", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	users, err := h.svc.List(r.Context())
	if err != nil {
		h.internalError(w, "List", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Get 获取用户
// GET /api/users/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "Get", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Create 创建用户
// POST /api/users
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidation(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidation(w, err)
		return
	}

	u, err := h.svc.Create(r.Context(), req.ToInput())
	if err != nil {
		h.storeError(w, "Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Update 部分更新用户
// PATCH /api/users/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req PatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidation(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidation(w, err)
		return
	}

	u, err := h.svc.Update(r.Context(), id, req.ToPatch())
	if err != nil {
		h.storeError(w, "Update", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Delete 删除用户
// DELETE /api/users/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.storeError(w, "Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// 辅助函数
// ============================================================================

// parseID 解析路径中的用户 ID，无法解析时按不存在处理
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, msgNotFound)
		return 0, false
	}
	return id, true
}

// decodeBody 严格解码 JSON：拒绝 null、未知字段和尾随数据
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &ValidationError{Errors: []FieldError{{Message: "request body too large"}}}
	}
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return &ValidationError{Errors: []FieldError{{Message: "request body must be a JSON object"}}}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Errors: []FieldError{{Message: "invalid JSON: " + err.Error()}}}
	}
	if dec.More() {
		return &ValidationError{Errors: []FieldError{{Message: "invalid JSON: trailing data"}}}
	}
	return nil
}

// storeError 将存储层错误映射为 HTTP 响应
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, msgDuplicate)
	default:
		h.internalError(w, op, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[User] %s error: %v", op, err)
	writeError(w, http.StatusInternalServerError, msgInternal)
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeValidation 写入 400 校验错误
func writeValidation(w http.ResponseWriter, err error) {
	var verr *ValidationError
	errs := []FieldError{}
	if errors.As(err, &verr) {
		errs = verr.Errors
	} else {
		errs = append(errs, FieldError{Message: err.Error()})
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"message": msgInvalidData,
		"errors":  errs,
	})
}
