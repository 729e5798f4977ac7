package ledger

import "context"

// BalanceStore persists balance rows keyed by (owner, account code,
// instrument scope, asset). Implementations must resolve the creation race
// on first reference and support conditional version updates.
type BalanceStore interface {
	// GetOrCreate returns the existing row or inserts a zeroed one.
	GetOrCreate(ctx context.Context, key BalanceKey) (Balance, error)
	// Get returns the current row or ErrBalanceNotFound.
	Get(ctx context.Context, key BalanceKey) (Balance, error)
	// UpdateVersioned writes b only if the stored version still equals
	// expectedVersion, reporting whether the write happened.
	UpdateVersioned(ctx context.Context, b Balance, expectedVersion int64) (bool, error)
	// ListByOwner returns every balance row belonging to an owner.
	ListByOwner(ctx context.Context, ownerID int64) ([]Balance, error)
}

// JournalStore is the append-only journal. Entries are written atomically
// with the balance updates that produced them.
type JournalStore interface {
	// FindByReference is the idempotency probe, run before any mutation.
	FindByReference(ctx context.Context, ownerID int64, asset string, refType ReferenceType, refID string) (JournalEntry, bool, error)
	// Append persists the given legs.
	Append(ctx context.Context, entries ...JournalEntry) error
	// ListByOwner returns the most recent legs for an owner and asset.
	// A limit of zero or less returns everything.
	ListByOwner(ctx context.Context, ownerID int64, asset string, limit int) ([]JournalEntry, error)
}

// Outbox records events inside the enclosing unit of work for asynchronous
// relay after commit.
type Outbox interface {
	Append(ctx context.Context, topic, key string, payload any) error
}

// UnitOfWork exposes the stores bound to one local transaction.
type UnitOfWork interface {
	Balances() BalanceStore
	Journal() JournalStore
	Outbox() Outbox
}

// TxRunner runs fn inside a single ACID local transaction. If fn returns an
// error the transaction rolls back and nothing fn wrote is visible.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
