// Package client users-admin HTTP API 客户端
//
// 所有方法返回 *Error，按 ErrorKind 区分校验、不存在、冲突、传输与内部错误。
// 每次请求有独立超时；读请求可按 Options.Retry 重试传输错误与 5xx，写请求不重试。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"users-admin/internal/shared/model"
	"users-admin/pkg/logging"
)

// DefaultTimeout 单次请求默认超时
const DefaultTimeout = 10 * time.Second

// Options 客户端配置
type Options struct {
	Timeout    time.Duration // 单次请求超时，默认 10s
	Retry      int           // 读请求失败后的重试次数，默认 0
	RetryDelay time.Duration // 重试间隔，默认 500ms
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client API 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retry      int
	retryDelay time.Duration
	log        *logging.Logger
}

// New 创建客户端，baseURL 形如 http://localhost:8080
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default("client")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		retry:      opts.Retry,
		retryDelay: opts.RetryDelay,
		log:        opts.Logger,
	}
}

// BaseURL 服务地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateUserRequest 创建用户请求，role/status 为空时使用服务端默认值
type CreateUserRequest struct {
	Name   string           `json:"name"`
	Email  string           `json:"email"`
	Role   model.UserRole   `json:"role,omitempty"`
	Status model.UserStatus `json:"status,omitempty"`
}

// UpdateUserRequest 部分更新请求，nil 字段不发送
type UpdateUserRequest struct {
	Name   *string           `json:"name,omitempty"`
	Email  *string           `json:"email,omitempty"`
	Role   *model.UserRole   `json:"role,omitempty"`
	Status *model.UserStatus `json:"status,omitempty"`
}

// Page 分页列表
type Page struct {
	Users    []*model.User `json:"users"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// Health 健康检查结果
type Health struct {
	Status    string `json:"status"`
	Users     int    `json:"users"`
	Observers int    `json:"observers"`
	Error     string `json:"error,omitempty"`
}

// ListUsers 列出全部用户，最新创建的在前
func (c *Client) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	if err := c.get(ctx, "/api/users", &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// ListPage 获取一页用户
func (c *Client) ListPage(ctx context.Context, page int) (*Page, error) {
	var p Page
	if err := c.get(ctx, "/api/users?page="+strconv.Itoa(page), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUser 获取用户
func (c *Client) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := c.get(ctx, userPath(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser 创建用户
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser 部分更新用户
func (c *Client) UpdateUser(ctx context.Context, id int64, req UpdateUserRequest) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodPatch, userPath(id), req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser 删除用户
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, userPath(id), nil, nil)
}

// Health 检查服务与存储是否可达
//
// 503 时仍返回解析出的结果，同时返回 KindInternal 错误。
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	if err != nil && h.Status == "" {
		return nil, err
	}
	return &h, err
}

// WebSocketURL 变更推送地址（http→ws, https→wss）
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/users"
	return u.String(), nil
}

func userPath(id int64) string {
	return "/api/users/" + strconv.FormatInt(id, 10)
}

// get 带重试的读请求
func (c *Client) get(ctx context.Context, path string, out any) error {
	var err error
	for attempt := 0; attempt <= c.retry; attempt++ {
		if attempt > 0 {
			c.log.WithError(err).Debug("Retrying request", "path", path, "attempt", attempt)
			select {
			case <-ctx.Done():
				return &Error{Kind: KindTransport, Err: ctx.Err()}
			case <-time.After(c.retryDelay):
			}
		}
		err = c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil || !KindOf(err).Retryable() {
			return err
		}
	}
	return err
}

// do 发送一次请求并解析响应
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindInternal, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindInternal, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, data)
		// 健康检查 503 时仍需解析响应体
		if out != nil && len(data) > 0 && resp.StatusCode == http.StatusServiceUnavailable {
			json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindInternal, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// decodeError 解析错误响应体 {"message": "...", "errors": [...]}
func decodeError(status int, data []byte) *Error {
	var body struct {
		Message string       `json:"message"`
		Errors  []FieldError `json:"errors"`
	}
	e := &Error{Kind: kindForStatus(status), Status: status}
	if err := json.Unmarshal(data, &body); err == nil {
		e.Message = body.Message
		e.Fields = body.Errors
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsTimeout 请求超时
func IsTimeout(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindTransport {
		return false
	}
	return errors.Is(e.Err, context.DeadlineExceeded) || strings.Contains(fmt.Sprint(e.Err), "Client.Timeout")
}
