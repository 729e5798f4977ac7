package ledger

import "errors"

var (
	// ErrInvalidAmount rejects non-positive or malformed amounts before any mutation.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds occurs when an account lacks available balance to
	// cover a requested debit or freeze. Terminal: callers must not retry.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientReserved occurs when a settlement consumes more than the
	// account currently holds in reserve.
	ErrInsufficientReserved = errors.New("insufficient reserved balance")

	// ErrConcurrencyExhausted indicates the optimistic retry budget ran out.
	// Transient: the caller may re-issue the whole operation.
	ErrConcurrencyExhausted = errors.New("optimistic retry budget exhausted")

	// ErrReferenceNotFound indicates a settlement referenced a freeze entry
	// that does not exist, an upstream ordering anomaly.
	ErrReferenceNotFound = errors.New("referenced journal entry not found")

	// ErrBalanceNotFound indicates a balance row expected to exist is missing.
	ErrBalanceNotFound = errors.New("balance not found")
)
