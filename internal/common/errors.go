// Package common defines shared constants and sentinel errors used across
// the gateway, the pipeline and the ledger. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Job errors. A job failing with any of these is never charged.
	ErrorValidation        = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrorDownload          = errors.New("download failed")
	ErrorExternalTool      = errors.New("external tool failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
