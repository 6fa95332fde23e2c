// Package storage opens the ledger backend named in the configuration and
// hands back a ready, migrated accounts.Repository.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophdeobf/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/gophdeobf/internal/server/repositories/repomanager"
)

const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindMemory   = "memory"
)

// Store owns the connection behind Accounts, if there is one.
type Store struct {
	Kind     string
	Accounts accounts.Repository
	db       *sql.DB
}

// Close releases the underlying connection pool. It is a no-op for memory.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open connects to the backend of the given kind and runs its migrations.
func Open(ctx context.Context, kind, dsn string) (*Store, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))

	var (
		driver string
		rm     repomanager.RepositoryManager
	)

	switch kind {
	case KindMemory:
		return &Store{Kind: kind, Accounts: accounts.NewMemoryRepository()}, nil
	case KindPostgres:
		driver, rm = "pgx", repomanager.NewPostgresRepositoryManager()
	case KindSQLite:
		driver, rm = "sqlite", repomanager.NewSQLiteRepositoryManager()
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}

	if dsn == "" {
		return nil, fmt.Errorf("%s storage requires a dsn", kind)
	}

	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if kind == KindSQLite {
		// one writer; concurrent callers queue on the pool instead of
		// failing with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Store{Kind: kind, Accounts: rm.Accounts(db), db: db}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
