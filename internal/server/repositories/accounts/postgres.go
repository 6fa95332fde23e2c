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

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). Conditional updates rely on row locks taken by
// UPDATE, so concurrent debits for one user are serialised by Postgres.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ensure(ctx context.Context, userID string, now int64) error {
	query :=
		`INSERT INTO user_tokens (user_id, tokens, last_daily_claim, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, models.DefaultBalance, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string, now int64) (*models.Account, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return nil, err
	}

	query :=
		`SELECT user_id, tokens, last_daily_claim, updated_at FROM user_tokens
		 WHERE user_id = $1
		 `

	acc := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&acc.UserID, &acc.Balance, &acc.LastClaimAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return acc, nil
}

func (r *PostgresRepository) Credit(ctx context.Context, userID string, amount int64, now int64) (int64, error) {
	if amount > models.MaxBalance-models.DefaultBalance {
		return 0, ErrBalanceOverflow
	}

	query :=
		`INSERT INTO user_tokens (user_id, tokens, last_daily_claim, updated_at)
		 VALUES ($1, $2, $4, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET tokens = user_tokens.tokens + $3, updated_at = $4
		 WHERE user_tokens.tokens <= $5
		 RETURNING tokens
		 `

	var balance int64
	err := r.db.QueryRowContext(ctx, query, userID, models.DefaultBalance+amount, amount, now, models.MaxBalance-amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrBalanceOverflow
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return balance, nil
}

func (r *PostgresRepository) ClaimDaily(ctx context.Context, userID string, now, cutoff, amount int64) (bool, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return false, err
	}

	query :=
		`UPDATE user_tokens SET tokens = tokens + $2, last_daily_claim = $3, updated_at = $3
		 WHERE user_id = $1 AND last_daily_claim <= $4 AND tokens <= $5
		 `

	n, err := dbx.ExecAffected(ctx, r.db, query, userID, amount, now, cutoff, models.MaxBalance-amount)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}

func (r *PostgresRepository) TryDebit(ctx context.Context, userID string, now int64) (bool, error) {
	if err := r.ensure(ctx, userID, now); err != nil {
		return false, err
	}

	query :=
		`UPDATE user_tokens SET tokens = tokens - 1, updated_at = $2
		 WHERE user_id = $1 AND tokens >= 1
		 `

	n, err := dbx.ExecAffected(ctx, r.db, query, userID, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}
