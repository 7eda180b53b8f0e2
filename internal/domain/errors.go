package domain

import "errors"

var (
	// Validation
	ErrInvalidTerms = errors.New("invalid option terms")
	ErrZeroAmount   = errors.New("zero amount")

	// Asset ledger pulls
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// Pool capacity
	ErrInsufficientUnderlying = errors.New("insufficient underlying")
	ErrInsufficientShares     = errors.New("insufficient shares")

	// Registry authorization / timing
	ErrNotOwner    = errors.New("not token owner")
	ErrNotEntitled = errors.New("no redeem claim")
	ErrExpired     = errors.New("option expired")
	ErrNotExpired  = errors.New("option not yet expired")

	// Stale references
	ErrNotFound      = errors.New("not found")
	ErrTokenInactive = errors.New("token inactive")

	// External collaborators
	ErrExternalCall = errors.New("external call failed")

	// Coordination
	ErrLockHeld = errors.New("lock already held")
)
