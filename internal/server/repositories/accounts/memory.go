package accounts

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
)

type memoryAccount struct {
	mu  sync.Mutex
	acc models.Account
}

// MemoryRepository keeps accounts in process memory. The map lock only
// guards lookup and creation; each account carries its own mutex so
// different users never contend with each other.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*memoryAccount)}
}

func (r *MemoryRepository) account(userID string, now int64) *memoryAccount {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[userID]
	if !ok {
		a = &memoryAccount{acc: models.Account{
			UserID:      userID,
			Balance:     models.DefaultBalance,
			LastClaimAt: now,
			UpdatedAt:   now,
		}}
		r.accounts[userID] = a
	}
	return a
}

func (r *MemoryRepository) Get(_ context.Context, userID string, now int64) (*models.Account, error) {
	a := r.account(userID, now)
	a.mu.Lock()
	defer a.mu.Unlock()

	acc := a.acc
	return &acc, nil
}

func (r *MemoryRepository) Credit(_ context.Context, userID string, amount int64, now int64) (int64, error) {
	a := r.account(userID, now)
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount > models.MaxBalance-a.acc.Balance {
		return a.acc.Balance, ErrBalanceOverflow
	}
	a.acc.Balance += amount
	a.acc.UpdatedAt = now
	return a.acc.Balance, nil
}

func (r *MemoryRepository) ClaimDaily(_ context.Context, userID string, now, cutoff, amount int64) (bool, error) {
	a := r.account(userID, now)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.acc.LastClaimAt > cutoff || amount > models.MaxBalance-a.acc.Balance {
		return false, nil
	}
	a.acc.Balance += amount
	a.acc.LastClaimAt = now
	a.acc.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepository) TryDebit(_ context.Context, userID string, now int64) (bool, error) {
	a := r.account(userID, now)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.acc.Balance < 1 {
		return false, nil
	}
	a.acc.Balance--
	a.acc.UpdatedAt = now
	return true, nil
}
