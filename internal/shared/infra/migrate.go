package infra

import (
	"database/sql"
	"fmt"
	"log"

	"users-admin/internal/shared/storage/dbutil"
	"users-admin/internal/shared/storage/repository"
)

// migrate 执行建表并返回 repository.Store
func migrate(db *sql.DB, dialect dbutil.Dialect) (*repository.Store, error) {
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s auto-migrate failed: %w", dialect.DriverType(), err)
	}
	log.Printf("[infra] Storage: %s", dialect.DriverType())
	return repository.NewStore(db, dialect), nil
}
