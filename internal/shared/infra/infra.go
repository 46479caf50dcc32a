// Package infra 基础设施聚合层
//
// 根据配置统一初始化并注入：
//   - Storage：持久化存储（SQLite / PostgreSQL / MongoDB）
//   - Bus：跨进程变更事件总线（Redis Pub/Sub / etcd Watch），local 模式下为 nil
package infra

import (
	"fmt"
	"log"

	"users-admin/internal/config"
	"users-admin/internal/shared/eventbus"
	etcdbus "users-admin/internal/shared/eventbus/etcd"
	redisbus "users-admin/internal/shared/eventbus/redis"
	"users-admin/internal/shared/storage"
	"users-admin/internal/shared/storage/dbutil"
	pgdriver "users-admin/internal/shared/storage/driver/postgres"
	sqlitedriver "users-admin/internal/shared/storage/driver/sqlite"
	"users-admin/internal/shared/storage/mongostore"
	"users-admin/internal/shared/storage/repository"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Bus 变更事件总线，local 模式下为 nil
	Bus eventbus.ChangeBus
}

// New 根据配置初始化全部基础设施，任一组件失败时关闭已打开的连接
func New(cfg *config.Config) (*Infrastructure, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}

	bus, err := NewBus(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Infrastructure{Storage: store, Bus: bus}, nil
}

// NewStore 根据 DatabaseDriver 创建持久化存储
func NewStore(cfg *config.Config) (storage.PersistentStore, error) {
	driver, err := dbutil.ParseDriverType(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	switch driver {
	case dbutil.DriverMongoDB:
		s, err := mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseName)
		if err != nil {
			return nil, err
		}
		log.Printf("[infra] Storage: mongodb (%s)", cfg.DatabaseName)
		return s, nil
	case dbutil.DriverPostgres:
		db, err := pgdriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrate(db, pgdriver.NewDialect())
	default:
		db, err := sqlitedriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrate(db, sqlitedriver.NewDialect())
	}
}

// NewSQLiteStore 创建 SQLite 存储（含自动建表）
func NewSQLiteStore(dsn string) (*repository.Store, error) {
	db, err := sqlitedriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	return migrate(db, sqlitedriver.NewDialect())
}

// NewBus 根据 Events.Backend 创建事件总线
func NewBus(cfg *config.Config) (eventbus.ChangeBus, error) {
	switch cfg.Events.Backend {
	case config.EventsBackendRedis:
		b, err := redisbus.NewBus(cfg.RedisURL, cfg.Events.Channel)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.EventsBackendEtcd:
		b, err := etcdbus.NewBus(etcdbus.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: cfg.EtcdTimeout,
			Key:         cfg.Events.EtcdKey,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.EventsBackendLocal, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported events backend: %s", cfg.Events.Backend)
	}
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Bus != nil {
		if err := i.Bus.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
