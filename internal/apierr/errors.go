// Package apierr holds the error taxonomy shared by the auth core and maps
// it onto HTTP responses.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateAccount   = errors.New("duplicate account")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrExpired            = errors.New("token expired")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
)

// Kind is the machine-readable error discriminator sent to callers.
type Kind string

const (
	KindValidation         Kind = "validation_failed"
	KindDuplicateAccount   Kind = "duplicate_account"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAuthRequired       Kind = "authentication_required"
	KindForbidden          Kind = "forbidden"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal_error"
)

// RateLimitError is returned when a tier's quota for the current window is spent.
type RateLimitError struct {
	Tier       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on tier %s, retry after %s", e.Tier, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsAuthFailure reports whether err should be surfaced as "authentication required".
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrExpired)
}
