package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophdeobf/internal/dbx"
	"github.com/dmitrijs2005/gophdeobf/internal/server/repositories/accounts"
)

// RepositoryManager vends SQL-backed repositories for one dialect and
// knows how to bring that dialect's schema up to date.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
}
