// Package repository 数据库无关的业务逻辑存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"context"
	"database/sql"
	"time"

	"users-admin/internal/shared/storage"
	"users-admin/internal/shared/storage/dbutil"
	"users-admin/pkg/logging"
)

// Store 通用存储实现
// 实现了 storage.PersistentStore 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
	log     *logging.Logger
}

var _ storage.PersistentStore = (*Store)(nil)

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect, log: logging.Default("repository")}
}

// WithLogger 替换日志器
func (s *Store) WithLogger(l *logging.Logger) *Store {
	s.log = l
	return s
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// translate 将驱动错误转换为领域错误
func (s *Store) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case err == sql.ErrNoRows:
		return storage.ErrNotFound
	case s.dialect.IsUniqueViolation(err):
		return storage.ErrDuplicate
	default:
		return err
	}
}

// observe 记录查询耗时，返回转换后的错误
func (s *Store) observe(op string, start time.Time, err error) error {
	err = s.translate(err)
	// 未找到和唯一冲突属于业务结果，不按失败记录
	if err == storage.ErrNotFound || err == storage.ErrDuplicate {
		s.log.DBQueryLog(op, "users", time.Since(start), nil)
		return err
	}
	s.log.DBQueryLog(op, "users", time.Since(start), err)
	return err
}

// now 返回写入用的时间戳（统一为 UTC 微秒精度，与 PostgreSQL 对齐）
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
