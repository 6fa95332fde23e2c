// Package models defines server-side data models shared by the ledger,
// the pipeline and the gateway.
package models

import "math"

// Account is the per-user token balance. Timestamps are epoch milliseconds.
type Account struct {
	UserID string
	// Balance is never negative.
	Balance int64
	// LastClaimAt is the time of the last daily claim, or creation time for a
	// fresh account. 0 means the user never claimed.
	LastClaimAt int64
	UpdatedAt   int64
}

// DefaultBalance is what a freshly created account starts with.
const DefaultBalance = 3

// MaxBalance is the largest balance an account can hold.
const MaxBalance = math.MaxInt64
