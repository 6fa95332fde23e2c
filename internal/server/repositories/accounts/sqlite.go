package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/dbx"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
)

// SQLiteRepository implements Repository for a local SQLite file. SQLite
// takes a database-wide write lock per statement, so each conditional
// UPDATE below is atomic on its own.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) ensure(ctx context.Context, userID string, now int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, tokens, last_daily_claim, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, models.DefaultBalance, now, now)
	if err != nil {
		return fmt.Errorf("failed to create account[%s]: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string, now int64) (*models.Account, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return nil, err
	}

	acc := &models.Account{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, tokens, last_daily_claim, updated_at FROM user_tokens WHERE user_id = ?
	`, userID).Scan(&acc.UserID, &acc.Balance, &acc.LastClaimAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account[%s]: %w", userID, err)
	}
	return acc, nil
}

func (r *SQLiteRepository) Credit(ctx context.Context, userID string, amount int64, now int64) (int64, error) {
	if amount > models.MaxBalance-models.DefaultBalance {
		return 0, ErrBalanceOverflow
	}

	// the guarded update returns no row instead of wrapping past MaxBalance
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_tokens (user_id, tokens, last_daily_claim, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tokens = tokens + ?, updated_at = excluded.updated_at
		WHERE tokens <= ?
		RETURNING tokens
	`, userID, models.DefaultBalance+amount, now, now, amount, models.MaxBalance-amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBalanceOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit account[%s]: %w", userID, err)
	}
	return balance, nil
}

func (r *SQLiteRepository) ClaimDaily(ctx context.Context, userID string, now, cutoff, amount int64) (bool, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return false, err
	}

	n, err := dbx.ExecAffected(ctx, r.db, `
		UPDATE user_tokens SET tokens = tokens + ?, last_daily_claim = ?, updated_at = ?
		WHERE user_id = ? AND last_daily_claim <= ? AND tokens <= ?
	`, amount, now, now, userID, cutoff, models.MaxBalance-amount)
	if err != nil {
		return false, fmt.Errorf("failed to claim for account[%s]: %w", userID, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) TryDebit(ctx context.Context, userID string, now int64) (bool, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return false, err
	}

	n, err := dbx.ExecAffected(ctx, r.db, `
		UPDATE user_tokens SET tokens = tokens - 1, updated_at = ?
		WHERE user_id = ? AND tokens >= 1
	`, now, userID)
	if err != nil {
		return false, fmt.Errorf("failed to debit account[%s]: %w", userID, err)
	}
	return n == 1, nil
}
