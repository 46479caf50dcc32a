// Package main users-watch 终端用户列表
//
// 用法：
//
//	users-watch [--url URL] [--feed ws|redis|etcd] [--page N]   实时列表
//	users-watch --check                                          连通性检查
//	users-watch create --name NAME --email EMAIL [--role R] [--status S]
//	users-watch update --id ID [--name NAME] [--email EMAIL] [--role R] [--status S]
//	users-watch delete --id ID
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"users-admin/internal/config"
	"users-admin/internal/shared/infra"
	"users-admin/internal/shared/model"
	"users-admin/pkg/client"
	"users-admin/pkg/logging"
	"users-admin/pkg/viewsync"
)

// 事件来源
const (
	feedWS    = "ws"
	feedRedis = "redis"
	feedEtcd  = "etcd"
)

type globalFlags struct {
	configDir string
	url       string
	feed      string
	page      int
	check     bool
	timeout   time.Duration
	retry     int
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var g globalFlags
	fs := flag.NewFlagSet("users-watch", flag.ContinueOnError)
	fs.StringVar(&g.configDir, "config", "", "配置文件目录（或 YAML 文件路径）")
	fs.StringVar(&g.url, "url", "", "API Server 地址（默认取配置 api_server.url）")
	fs.StringVar(&g.feed, "feed", feedWS, "事件来源：ws | redis | etcd")
	fs.IntVar(&g.page, "page", 1, "显示第几页")
	fs.BoolVar(&g.check, "check", false, "检查连通性后退出")
	fs.DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "单次请求超时")
	fs.IntVar(&g.retry, "retry", 0, "拉取失败重试次数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if g.configDir != "" {
		config.SetConfigDir(g.configDir)
	}
	cfg := config.Load()
	if g.url == "" {
		g.url = cfg.APIURL
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    "stderr",
		Component: "users-watch",
	})
	c := client.New(g.url, client.Options{Timeout: g.timeout, Retry: g.retry, Logger: logger.Named("client")})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := fs.Args()
	if len(rest) > 0 {
		return runCommand(ctx, c, rest[0], rest[1:], logger, out)
	}
	if g.check {
		return checkConnection(ctx, c, out)
	}
	return watch(ctx, cfg, c, g, logger, out)
}

// checkConnection 检查服务与存储是否可达
func checkConnection(ctx context.Context, c *client.Client, out io.Writer) error {
	h, err := c.Health(ctx)
	if err != nil {
		if h != nil && h.Error != "" {
			return fmt.Errorf("store unreachable: %s", h.Error)
		}
		return fmt.Errorf("connect %s: %w", c.BaseURL(), err)
	}
	users, err := c.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	fmt.Fprintf(out, "Successfully connected to %s (%d users, %d observers)\n", c.BaseURL(), len(users), h.Observers)
	return nil
}

// newFeed 按 --feed 选择事件来源，返回的 cleanup 释放总线连接
func newFeed(cfg *config.Config, c *client.Client, kind string, logger *logging.Logger) (viewsync.Feed, func(), error) {
	switch kind {
	case feedWS:
		url, err := c.WebSocketURL()
		if err != nil {
			return nil, nil, err
		}
		return viewsync.NewWebSocketFeed(url, logger.Named("feed")), func() {}, nil
	case feedRedis, feedEtcd:
		busCfg := *cfg
		busCfg.Events.Backend = kind
		bus, err := infra.NewBus(&busCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s bus: %w", kind, err)
		}
		return viewsync.NewBusFeed(bus, logger.Named("feed")), func() { bus.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed %q (want ws, redis or etcd)", kind)
	}
}

// watch 实时显示用户列表直到收到退出信号
func watch(ctx context.Context, cfg *config.Config, c *client.Client, g globalFlags, logger *logging.Logger, out io.Writer) error {
	feed, cleanup, err := newFeed(cfg, c, g.feed, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	s := viewsync.New(c, feed, viewsync.Options{
		FetchTimeout: g.timeout,
		Retry:        g.retry,
		Logger:       logger.Named("viewsync"),
	})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Changed():
			render(out, s.Snapshot(), s, g.page)
		}
	}
}

// render 以表格输出当前页
func render(out io.Writer, snap viewsync.Snapshot, s *viewsync.Synchronizer, page int) {
	fmt.Fprint(out, "\033[H\033[2J")
	fmt.Fprintf(out, "Users  [%s]  page %d/%d  total %d  gen %d\n",
		snap.State, page, max(s.PageCount(), 1), len(snap.Users), snap.Generation)

	// 原始错误由同步器写入日志，界面只显示类别
	var serr *viewsync.SyncError
	if errors.As(snap.Err, &serr) {
		fmt.Fprintf(out, "! %s (%s)\n", serr.Category.Message(), serr.Kind())
	}
	fmt.Fprintln(out)
	writeTable(out, s.Page(page))
}

func writeTable(out io.Writer, users []*model.User) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Name, u.Email, u.Role, u.Status, u.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

// runCommand 执行 create / update / delete 子命令
//
// 写操作经由同步器发出，错误带 create-failed 等类别。
func runCommand(ctx context.Context, c *client.Client, name string, args []string, logger *logging.Logger, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.Int64("id", 0, "用户 ID")
	userName := fs.String("name", "", "姓名")
	email := fs.String("email", "", "邮箱")
	role := fs.String("role", "", "角色：admin | manager | user")
	status := fs.String("status", "", "状态：active | inactive | pending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	s := viewsync.New(c, nil, viewsync.Options{Logger: logger.Named("viewsync")})
	defer s.Close()

	switch name {
	case "create":
		u, err := s.Create(ctx, client.CreateUserRequest{
			Name:   *userName,
			Email:  *email,
			Role:   model.UserRole(*role),
			Status: model.UserStatus(*status),
		})
		if err != nil {
			return describe(err)
		}
		writeTable(out, []*model.User{u})
	case "update":
		if *id <= 0 {
			return errors.New("update requires --id")
		}
		var req client.UpdateUserRequest
		if set["name"] {
			req.Name = userName
		}
		if set["email"] {
			req.Email = email
		}
		if set["role"] {
			r := model.UserRole(*role)
			req.Role = &r
		}
		if set["status"] {
			st := model.UserStatus(*status)
			req.Status = &st
		}
		u, err := s.Update(ctx, *id, req)
		if err != nil {
			return describe(err)
		}
		writeTable(out, []*model.User{u})
	case "delete":
		if *id <= 0 {
			return errors.New("delete requires --id")
		}
		if err := s.Delete(ctx, *id); err != nil {
			return describe(err)
		}
		fmt.Fprintf(out, "Deleted user %d\n", *id)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

// describe 将同步器错误转为命令行提示，校验失败时附带字段错误
func describe(err error) error {
	var serr *viewsync.SyncError
	if !errors.As(err, &serr) {
		return err
	}
	var apiErr *client.Error
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		msg := apiErr.Message
		for _, f := range apiErr.Fields {
			msg += fmt.Sprintf("; %s: %s", f.Field, f.Message)
		}
		return fmt.Errorf("%s: %s", serr.Category.Message(), msg)
	}
	return fmt.Errorf("%s: %w", serr.Category.Message(), serr.Err)
}
