package domain

import "errors"

// Sentinel errors for the core state machines. Every rejected transition
// wraps exactly one of these so callers can classify failures with
// errors.Is instead of matching message strings.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("invalid input")
	ErrInsufficient  = errors.New("insufficient value")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock held")
)
