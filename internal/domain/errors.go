package domain

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrAccountClosed        = errors.New("account is closed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAmountOutOfRange     = errors.New("amount out of range")
	ErrLockTimeout          = errors.New("lock wait timeout")
	ErrStoreUnavailable     = errors.New("account store unavailable")
)

// IsRetryable reports whether err is a transient failure the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStoreUnavailable)
}

// IsRejection reports whether err is an expected business-rule outcome.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountClosed) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAmountOutOfRange)
}
