package server

import (
	"context"
	"net/http"
	"sync"

	"users-admin/api"
)

var (
	specOnce sync.Once
	specJSON []byte
	specErr  error
)

// loadSpecJSON 加载内嵌文档并缓存其 JSON 形式
func loadSpecJSON() ([]byte, error) {
	specOnce.Do(func() {
		doc, err := api.LoadSpec(context.Background())
		if err != nil {
			specErr = err
			return
		}
		specJSON, specErr = doc.MarshalJSON()
	})
	return specJSON, specErr
}

// OpenAPI 返回 OpenAPI 文档
// GET /api/v1/openapi.json
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := loadSpecJSON()
	if err != nil {
		h.log.WithError(err).Error("Failed to load OpenAPI document")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Docs 返回 API 文档页面
// GET /api/docs
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	page, err := api.DocsFS.ReadFile("docs/index.html")
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}
