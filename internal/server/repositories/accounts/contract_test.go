package accounts

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/gophdeobf/internal/server/migrations"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const day = int64(24 * 60 * 60 * 1000)

func newSQLite(t *testing.T) Repository {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/ledger.db?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, migrations.SQLiteDir))

	return NewSQLiteRepository(db)
}

func backends() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory": func(*testing.T) Repository { return NewMemoryRepository() },
		"sqlite": newSQLite,
	}
}

func TestRepository_Contract(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("fresh account", func(t *testing.T) {
				r := mk(t)
				acc, err := r.Get(ctx, "alice", 1000)
				require.NoError(t, err)
				assert.Equal(t, "alice", acc.UserID)
				assert.EqualValues(t, models.DefaultBalance, acc.Balance)
				assert.EqualValues(t, 1000, acc.LastClaimAt)

				// second read does not reset anything
				acc, err = r.Get(ctx, "alice", 9000)
				require.NoError(t, err)
				assert.EqualValues(t, 1000, acc.LastClaimAt)
			})

			t.Run("credit creates then adds", func(t *testing.T) {
				r := mk(t)
				b, err := r.Credit(ctx, "bob", 5, 1000)
				require.NoError(t, err)
				assert.EqualValues(t, 8, b)

				b, err = r.Credit(ctx, "bob", 2, 2000)
				require.NoError(t, err)
				assert.EqualValues(t, 10, b)
			})

			t.Run("credit never wraps", func(t *testing.T) {
				r := mk(t)
				_, err := r.Credit(ctx, "gina", models.MaxBalance, 1000)
				require.ErrorIs(t, err, ErrBalanceOverflow)

				acc, err := r.Get(ctx, "gina", 1000)
				require.NoError(t, err)
				assert.EqualValues(t, models.DefaultBalance, acc.Balance)

				b, err := r.Credit(ctx, "gina", models.MaxBalance-models.DefaultBalance, 2000)
				require.NoError(t, err)
				assert.EqualValues(t, int64(models.MaxBalance), b)

				_, err = r.Credit(ctx, "gina", 1, 3000)
				require.ErrorIs(t, err, ErrBalanceOverflow)

				ok, err := r.ClaimDaily(ctx, "gina", 3*day, 2*day, 2)
				require.NoError(t, err)
				assert.False(t, ok)

				acc, err = r.Get(ctx, "gina", 3000)
				require.NoError(t, err)
				assert.EqualValues(t, int64(models.MaxBalance), acc.Balance)
			})

			t.Run("claim window", func(t *testing.T) {
				r := mk(t)
				_, err := r.Get(ctx, "carol", 0)
				require.NoError(t, err)

				now := day
				ok, err := r.ClaimDaily(ctx, "carol", now, now-day, 2)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = r.ClaimDaily(ctx, "carol", now+1, now+1-day, 2)
				require.NoError(t, err)
				assert.False(t, ok)

				acc, err := r.Get(ctx, "carol", now+1)
				require.NoError(t, err)
				assert.EqualValues(t, 5, acc.Balance)
				assert.EqualValues(t, now, acc.LastClaimAt)
			})

			t.Run("fresh account cannot claim", func(t *testing.T) {
				r := mk(t)
				ok, err := r.ClaimDaily(ctx, "dave", 5000, 5000-day, 2)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("debit stops at zero", func(t *testing.T) {
				r := mk(t)
				for i := 0; i < 3; i++ {
					ok, err := r.TryDebit(ctx, "erin", 1000)
					require.NoError(t, err)
					assert.True(t, ok)
				}
				ok, err := r.TryDebit(ctx, "erin", 1000)
				require.NoError(t, err)
				assert.False(t, ok)

				acc, err := r.Get(ctx, "erin", 1000)
				require.NoError(t, err)
				assert.EqualValues(t, 0, acc.Balance)
			})

			t.Run("concurrent debits never overspend", func(t *testing.T) {
				r := mk(t)
				_, err := r.Credit(ctx, "frank", 2, 1000) // balance 5
				require.NoError(t, err)

				const workers = 20
				var wins atomic.Int64
				var wg sync.WaitGroup
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := r.TryDebit(ctx, "frank", 2000)
						assert.NoError(t, err)
						if ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()

				assert.EqualValues(t, 5, wins.Load())
				acc, err := r.Get(ctx, "frank", 3000)
				require.NoError(t, err)
				assert.EqualValues(t, 0, acc.Balance)
			})

			t.Run("concurrent claims apply once", func(t *testing.T) {
				r := mk(t)
				_, err := r.Get(ctx, "gina", 0)
				require.NoError(t, err)

				var wins atomic.Int64
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := r.ClaimDaily(ctx, "gina", day, 0, 2)
						assert.NoError(t, err)
						if ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()

				assert.EqualValues(t, 1, wins.Load())
			})
		})
	}
}
