package credit

import "errors"

// Domain errors for the credit ledger.
var (
	// Caller errors
	ErrNotAuthorized = errors.New("not authorized for this account")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidTier   = errors.New("invalid tier")

	// Account errors
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrInsufficientCredits = errors.New("no credits remaining")

	// Infrastructure errors
	ErrStorageFailure   = errors.New("credit storage failure")
	ErrTierChangeFailed = errors.New("tier change failed")
)
