// Package accounts stores per-user token balances. Every implementation
// must apply each mutation atomically per user id: a balance check and the
// write that depends on it are never split across two round trips.
package accounts

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
)

// ErrBalanceOverflow is returned by Credit when the new balance would not
// fit in models.MaxBalance. The account is left unchanged.
var ErrBalanceOverflow = errors.New("balance overflow")

// Repository is the ledger storage contract. Timestamps are epoch
// milliseconds supplied by the caller. Accounts are created lazily with
// models.DefaultBalance tokens and LastClaimAt = now.
type Repository interface {
	// Get returns the account, creating it when absent.
	Get(ctx context.Context, userID string, now int64) (*models.Account, error)

	// Credit adds amount to the balance, creating the account first when
	// absent, and returns the new balance. amount must be positive.
	Credit(ctx context.Context, userID string, amount int64, now int64) (int64, error)

	// ClaimDaily adds amount and sets LastClaimAt = now if and only if
	// LastClaimAt <= cutoff and the new balance fits in models.MaxBalance.
	// It reports whether the claim was applied.
	ClaimDaily(ctx context.Context, userID string, now, cutoff, amount int64) (bool, error)

	// TryDebit takes one token if the balance is at least one. It reports
	// whether a token was taken; a false result leaves the account untouched.
	TryDebit(ctx context.Context, userID string, now int64) (bool, error)
}
