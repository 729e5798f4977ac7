package ledger

import (
	"context"
	"time"
)

// DefaultMaxRetries bounds the optimistic update loop per balance row.
const DefaultMaxRetries = 3

// Mutation transforms a balance snapshot in place. It must be a pure
// function of the snapshot it receives: on a version conflict the retrier
// re-reads the row and reapplies the mutation to the fresh copy.
type Mutation func(*Balance) error

// applyWithRetry performs one read-modify-conditional-write cycle against a
// balance row, retrying on version conflicts up to maxRetries attempts.
// Each attempt issues exactly one conditional update. Business rejections
// from the mutation propagate immediately; only lost version races retry.
func applyWithRetry(ctx context.Context, store BalanceStore, key BalanceKey, maxRetries int, mutate Mutation) (Balance, error) {
	current, err := store.GetOrCreate(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		next := current
		if err := mutate(&next); err != nil {
			return Balance{}, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		ok, err := store.UpdateVersioned(ctx, next, current.Version)
		if err != nil {
			return Balance{}, err
		}
		if ok {
			return next, nil
		}
		current, err = store.Get(ctx, key)
		if err != nil {
			return Balance{}, err
		}
	}
	return Balance{}, ErrConcurrencyExhausted
}
