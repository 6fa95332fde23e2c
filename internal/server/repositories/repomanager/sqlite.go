package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophdeobf/internal/dbx"
	"github.com/dmitrijs2005/gophdeobf/internal/server/migrations"
	"github.com/dmitrijs2005/gophdeobf/internal/server/repositories/accounts"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends repositories for a single-file SQLite ledger.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, db, "sqlite3", migrations.SQLiteDir)
}

func NewSQLiteRepositoryManager() RepositoryManager {
	return &SQLiteRepositoryManager{}
}
