package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// OutboxRecord is one event captured by the outbox, payload already
// serialized for the relay.
type OutboxRecord struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// InMemory is a concurrency-safe in-memory backend useful for unit tests.
// Transactions copy the whole state, so a failed callback rolls back by
// discarding the copy.
type InMemory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	nextBalanceID int64
	nextOutboxID  int64
	balances      map[BalanceKey]Balance
	journal       []JournalEntry
	outbox        []OutboxRecord
}

// NewInMemory creates an empty in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{state: memState{
		balances: make(map[BalanceKey]Balance),
	}}
}

// WithinTx serializes transactions behind a single lock. The callback works
// on a copy of the state; the copy replaces the live state only when the
// callback returns nil.
func (m *InMemory) WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memUow{s: work}); err != nil {
		return err
	}
	m.state = *work
	return nil
}

// Events returns a copy of everything the outbox captured, oldest first.
func (m *InMemory) Events() []OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboxRecord, len(m.state.outbox))
	copy(out, m.state.outbox)
	return out
}

// Balance returns the current row for key without creating it.
func (m *InMemory) Balance(key BalanceKey) (Balance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.balances[key]
	return b, ok
}

func (s memState) clone() *memState {
	next := memState{
		nextBalanceID: s.nextBalanceID,
		nextOutboxID:  s.nextOutboxID,
		balances:      make(map[BalanceKey]Balance, len(s.balances)),
		journal:       make([]JournalEntry, len(s.journal)),
		outbox:        make([]OutboxRecord, len(s.outbox)),
	}
	for k, v := range s.balances {
		next.balances[k] = v
	}
	copy(next.journal, s.journal)
	copy(next.outbox, s.outbox)
	return &next
}

// memUow exposes the copied state through the store interfaces. All methods
// run under the transaction lock held by WithinTx.
type memUow struct {
	s *memState
}

func (u *memUow) Balances() BalanceStore { return (*memBalances)(u) }
func (u *memUow) Journal() JournalStore  { return (*memJournal)(u) }
func (u *memUow) Outbox() Outbox         { return (*memOutbox)(u) }

type memBalances memUow

func (m *memBalances) GetOrCreate(_ context.Context, key BalanceKey) (Balance, error) {
	if b, ok := m.s.balances[key]; ok {
		return b, nil
	}
	m.s.nextBalanceID++
	now := time.Now().UTC()
	b := Balance{
		ID:           m.s.nextBalanceID,
		OwnerID:      key.OwnerID,
		Code:         key.Code,
		InstrumentID: key.InstrumentID,
		Asset:        key.Asset,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.s.balances[key] = b
	return b, nil
}

func (m *memBalances) Get(_ context.Context, key BalanceKey) (Balance, error) {
	b, ok := m.s.balances[key]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (m *memBalances) UpdateVersioned(_ context.Context, b Balance, expectedVersion int64) (bool, error) {
	current, ok := m.s.balances[b.Key()]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	m.s.balances[b.Key()] = b
	return true, nil
}

func (m *memBalances) ListByOwner(_ context.Context, ownerID int64) ([]Balance, error) {
	var out []Balance
	for _, b := range m.s.balances {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

type memJournal memUow

func (m *memJournal) FindByReference(_ context.Context, ownerID int64, asset string, refType ReferenceType, refID string) (JournalEntry, bool, error) {
	for _, e := range m.s.journal {
		if e.OwnerID == ownerID && e.Asset == asset && e.ReferenceType == refType && e.ReferenceID == refID {
			return e, true, nil
		}
	}
	return JournalEntry{}, false, nil
}

func (m *memJournal) Append(_ context.Context, entries ...JournalEntry) error {
	m.s.journal = append(m.s.journal, entries...)
	return nil
}

func (m *memJournal) ListByOwner(_ context.Context, ownerID int64, asset string, limit int) ([]JournalEntry, error) {
	var out []JournalEntry
	for i := len(m.s.journal) - 1; i >= 0; i-- {
		e := m.s.journal[i]
		if e.OwnerID != ownerID || e.Asset != asset {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memOutbox memUow

func (m *memOutbox) Append(_ context.Context, topic, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.s.nextOutboxID++
	m.s.outbox = append(m.s.outbox, OutboxRecord{
		ID:        m.s.nextOutboxID,
		Topic:     topic,
		Key:       key,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}
