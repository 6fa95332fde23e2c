// Package services contains server-side business logic. This file
// implements LedgerService, the token bookkeeping every job is metered by.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/dmitrijs2005/gophdeobf/internal/server/metrics"
	"github.com/dmitrijs2005/gophdeobf/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/gophdeobf/internal/timex"
)

// LedgerService wraps an accounts.Repository with the ledger rules:
// lazy account creation, the daily claim window and single-token debits.
// All atomicity comes from the repository.
type LedgerService struct {
	repo        accounts.Repository
	logger      logging.Logger
	claimAmount int64
	claimWindow time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewLedgerService constructs a LedgerService using the claim settings
// from cfg.
func NewLedgerService(repo accounts.Repository, logger logging.Logger, cfg *config.Config) *LedgerService {
	return &LedgerService{
		repo:        repo,
		logger:      logger,
		claimAmount: cfg.DailyClaimAmount,
		claimWindow: cfg.DailyClaimWindow,
		Now:         time.Now,
	}
}

func (s *LedgerService) now() int64 {
	return timex.EpochMillis(s.Now())
}

func validUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", common.ErrorValidation)
	}
	return nil
}

// GetBalance returns the user's balance, creating the account if needed.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if err := validUserID(userID); err != nil {
		return 0, err
	}

	acc, err := s.repo.Get(ctx, userID, s.now())
	if err != nil {
		metrics.LedgerOps.WithLabelValues("get", "error").Inc()
		s.logger.Error(ctx, "ledger get failed", "user_id", userID, "error", err)
		return 0, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	metrics.LedgerOps.WithLabelValues("get", "ok").Inc()
	return acc.Balance, nil
}

// Grant adds amount tokens and returns the new balance. amount must be
// positive.
func (s *LedgerService) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	if err := validUserID(userID); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: grant amount must be positive, got %d", common.ErrorValidation, amount)
	}

	balance, err := s.repo.Credit(ctx, userID, amount, s.now())
	if errors.Is(err, accounts.ErrBalanceOverflow) {
		metrics.LedgerOps.WithLabelValues("grant", "rejected").Inc()
		s.logger.Warn(ctx, "grant would overflow balance", "user_id", userID, "amount", amount)
		return 0, fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	if err != nil {
		metrics.LedgerOps.WithLabelValues("grant", "error").Inc()
		s.logger.Error(ctx, "ledger grant failed", "user_id", userID, "amount", amount, "error", err)
		return 0, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	metrics.LedgerOps.WithLabelValues("grant", "ok").Inc()
	metrics.TokensGranted.Add(float64(amount))
	s.logger.Info(ctx, "tokens granted", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// ClaimDaily adds the daily amount if the last claim is at least one
// window old. Repeated calls inside the window are no-ops returning false.
func (s *LedgerService) ClaimDaily(ctx context.Context, userID string) (bool, error) {
	if err := validUserID(userID); err != nil {
		return false, err
	}

	now := s.now()
	cutoff := now - s.claimWindow.Milliseconds()

	ok, err := s.repo.ClaimDaily(ctx, userID, now, cutoff, s.claimAmount)
	if err != nil {
		metrics.LedgerOps.WithLabelValues("claim", "error").Inc()
		s.logger.Error(ctx, "ledger claim failed", "user_id", userID, "error", err)
		return false, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	if ok {
		metrics.LedgerOps.WithLabelValues("claim", "ok").Inc()
		s.logger.Info(ctx, "daily tokens claimed", "user_id", userID, "amount", s.claimAmount)
	} else {
		metrics.LedgerOps.WithLabelValues("claim", "too_early").Inc()
	}
	return ok, nil
}

// TryDebit takes one token if the balance allows it. Concurrent calls for
// one user with balance B and N callers yield exactly min(N, B) successes.
func (s *LedgerService) TryDebit(ctx context.Context, userID string) (bool, error) {
	if err := validUserID(userID); err != nil {
		return false, err
	}

	ok, err := s.repo.TryDebit(ctx, userID, s.now())
	if err != nil {
		metrics.LedgerOps.WithLabelValues("debit", "error").Inc()
		s.logger.Error(ctx, "ledger debit failed", "user_id", userID, "error", err)
		return false, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	if ok {
		metrics.LedgerOps.WithLabelValues("debit", "ok").Inc()
	} else {
		metrics.LedgerOps.WithLabelValues("debit", "insufficient").Inc()
	}
	return ok, nil
}
