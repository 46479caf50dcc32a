// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"users-admin/internal/apiserver/notifier"
	"users-admin/internal/apiserver/server"
	"users-admin/internal/config"
	"users-admin/internal/shared/infra"
	"users-admin/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录（或 YAML 文件路径）")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（.env + {env}.yaml + 环境变量）
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "api-server",
	})
	logger.Info("Starting API Server", "env", cfg.Env)
	logger.Info("Config loaded", "config", cfg.String())

	// 初始化存储与事件总线
	inf, err := infra.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer inf.Close()

	metrics := server.NewMetrics("users_admin", nil)
	n := notifier.New(notifier.Options{
		QueueSize:   cfg.Notifier.QueueSize,
		SendTimeout: cfg.Notifier.WriteTimeout,
		Logger:      logger.Named("notifier"),
		Recorder:    metrics,
	})
	defer n.Close()

	h := server.NewHandler(inf.Storage, n, metrics)
	h.SetLogger(logger)
	h.SetWebSocketTimings(cfg.Notifier.PingInterval, cfg.Notifier.WriteTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 多副本模式：写入只发布到总线，各副本通过 Relay 通知本地观察者
	if inf.Bus != nil {
		h.SetPublisher(notifier.NewBusPublisher(inf.Bus, logger.Named("publisher")))
		go func() {
			if err := n.Relay(ctx, inf.Bus); err != nil {
				logger.WithError(err).Error("Change relay stopped")
			}
		}()
		logger.Info("Change events routed through bus", "backend", cfg.Events.Backend)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")
		cancel()
		// 先断开 WebSocket 观察者，Shutdown 不跟踪被劫持的连接
		n.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown error")
		}
	}()

	logger.Info("API Server listening", "port", cfg.APIPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
