package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"users-admin/internal/shared/model"
	"users-admin/internal/shared/storage"
	"users-admin/internal/shared/storage/dbutil"
)

const userColumns = `id, name, email, role, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// ListUsers 列出所有用户，最新创建的在前
func (s *Store) ListUsers(ctx context.Context) (users []*model.User, err error) {
	start := time.Now()
	defer func() { err = s.observe("list", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users = []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser 通过 ID 查找用户
func (s *Store) GetUser(ctx context.Context, id int64) (u *model.User, err error) {
	start := time.Now()
	defer func() { err = s.observe("get", start, err) }()

	return s.getUser(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getUser(ctx context.Context, q queryer, id int64) (*model.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE id = $1`), id))
}

// CreateUser 创建用户
//
// id 由数据库分配（单调递增，不复用），created_at 在写入时确定。
func (s *Store) CreateUser(ctx context.Context, in *model.UserInput) (u *model.User, err error) {
	start := time.Now()
	defer func() { err = s.observe("insert", start, err) }()

	v := in.WithDefaults()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO users (name, email, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`),
		v.Name, v.Email, v.Role, v.Status, now(),
	).Scan(&id)
	if err != nil {
		return nil, err
	}

	u, err = s.getUser(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return u, tx.Commit()
}

// UpdateUser 部分更新用户，未提供的字段保持不变
func (s *Store) UpdateUser(ctx context.Context, id int64, patch *model.UserPatch) (u *model.User, err error) {
	start := time.Now()
	defer func() { err = s.observe("update", start, err) }()

	var cols []string
	var args []any
	if patch.Name != nil {
		cols, args = append(cols, "name"), append(args, *patch.Name)
	}
	if patch.Email != nil {
		cols, args = append(cols, "email"), append(args, *patch.Email)
	}
	if patch.Role != nil {
		cols, args = append(cols, "role"), append(args, *patch.Role)
	}
	if patch.Status != nil {
		cols, args = append(cols, "status"), append(args, *patch.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if len(cols) > 0 {
		query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`,
			dbutil.SetClause(cols, 1), len(cols)+1)
		res, err := tx.ExecContext(ctx, s.rebind(query), append(args, id)...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, storage.ErrNotFound
		}
	}

	u, err = s.getUser(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return u, tx.Commit()
}

// DeleteUser 删除用户
func (s *Store) DeleteUser(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { err = s.observe("delete", start, err) }()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = $1`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountUsers 统计用户数
func (s *Store) CountUsers(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() { err = s.observe("count", start, err) }()

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
