package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresBackend persists balances, journal legs and outbox events in
// PostgreSQL. All writes of one operation share a single transaction.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed ledger store set.
func NewPostgres(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS balances (
            id BIGSERIAL PRIMARY KEY,
            owner_id BIGINT NOT NULL,
            account_code TEXT NOT NULL,
            instrument_id BIGINT NOT NULL DEFAULT 0,
            asset TEXT NOT NULL,
            balance NUMERIC(38, 18) NOT NULL DEFAULT 0,
            available NUMERIC(38, 18) NOT NULL DEFAULT 0,
            reserved NUMERIC(38, 18) NOT NULL DEFAULT 0,
            total_deposited NUMERIC(38, 18) NOT NULL DEFAULT 0,
            total_withdrawn NUMERIC(38, 18) NOT NULL DEFAULT 0,
            total_pnl NUMERIC(38, 18) NOT NULL DEFAULT 0,
            version BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (owner_id, account_code, instrument_id, asset)
        );
        CREATE TABLE IF NOT EXISTS journal_entries (
            seq BIGSERIAL PRIMARY KEY,
            entry_id UUID NOT NULL UNIQUE,
            owner_id BIGINT NOT NULL,
            account_code TEXT NOT NULL,
            instrument_id BIGINT NOT NULL DEFAULT 0,
            asset TEXT NOT NULL,
            amount NUMERIC(38, 18) NOT NULL,
            direction TEXT NOT NULL,
            balance_after NUMERIC(38, 18) NOT NULL,
            reference_type TEXT NOT NULL,
            reference_id TEXT NOT NULL,
            counterparty_id TEXT NOT NULL DEFAULT '',
            entry_type TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            event_time TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS journal_entries_reference_idx
            ON journal_entries (owner_id, asset, reference_type, reference_id);
        CREATE TABLE IF NOT EXISTS outbox_events (
            id BIGSERIAL PRIMARY KEY,
            topic TEXT NOT NULL,
            key TEXT NOT NULL,
            payload JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            published_at TIMESTAMPTZ
        );
        CREATE INDEX IF NOT EXISTS outbox_events_pending_idx
            ON outbox_events (id) WHERE published_at IS NULL;`
	_, err := p.db.Exec(ctx, ddl)
	return err
}

// WithinTx runs fn against stores bound to one database transaction.
func (p *PostgresBackend) WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgUow{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgUow struct {
	tx pgx.Tx
}

func (u *pgUow) Balances() BalanceStore { return (*pgBalances)(u) }
func (u *pgUow) Journal() JournalStore  { return (*pgJournal)(u) }
func (u *pgUow) Outbox() Outbox         { return (*pgOutbox)(u) }

const balanceColumns = `id, owner_id, account_code, instrument_id, asset,
        balance, available, reserved, total_deposited, total_withdrawn, total_pnl,
        version, created_at, updated_at`

type pgBalances pgUow

func (s *pgBalances) GetOrCreate(ctx context.Context, key BalanceKey) (Balance, error) {
	_, err := s.tx.Exec(ctx, `INSERT INTO balances (owner_id, account_code, instrument_id, asset)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (owner_id, account_code, instrument_id, asset) DO NOTHING`,
		key.OwnerID, string(key.Code), key.InstrumentID, key.Asset)
	if err != nil {
		return Balance{}, err
	}
	return s.Get(ctx, key)
}

func (s *pgBalances) Get(ctx context.Context, key BalanceKey) (Balance, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM balances
        WHERE owner_id = $1 AND account_code = $2 AND instrument_id = $3 AND asset = $4`,
		key.OwnerID, string(key.Code), key.InstrumentID, key.Asset)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	return b, err
}

func (s *pgBalances) UpdateVersioned(ctx context.Context, b Balance, expectedVersion int64) (bool, error) {
	tag, err := s.tx.Exec(ctx, `UPDATE balances SET
            balance = $1, available = $2, reserved = $3,
            total_deposited = $4, total_withdrawn = $5, total_pnl = $6,
            version = $7, updated_at = $8
        WHERE owner_id = $9 AND account_code = $10 AND instrument_id = $11 AND asset = $12
            AND version = $13`,
		b.Balance.String(), b.Available.String(), b.Reserved.String(),
		b.TotalDeposited.String(), b.TotalWithdrawn.String(), b.TotalPnl.String(),
		b.Version, b.UpdatedAt,
		b.OwnerID, string(b.Code), b.InstrumentID, b.Asset, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgBalances) ListByOwner(ctx context.Context, ownerID int64) ([]Balance, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+balanceColumns+` FROM balances
        WHERE owner_id = $1 ORDER BY account_code, asset, instrument_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var code string
	var amounts [6]string
	if err := row.Scan(&b.ID, &b.OwnerID, &code, &b.InstrumentID, &b.Asset,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
		&b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	b.Code = AccountCode(code)
	fields := []*decimal.Decimal{
		&b.Balance, &b.Available, &b.Reserved,
		&b.TotalDeposited, &b.TotalWithdrawn, &b.TotalPnl,
	}
	for i, dst := range fields {
		d, err := decimal.NewFromString(amounts[i])
		if err != nil {
			return Balance{}, fmt.Errorf("decode balance amount: %w", err)
		}
		*dst = d
	}
	return b, nil
}

const entryColumns = `entry_id, owner_id, account_code, instrument_id, asset,
        amount, direction, balance_after, reference_type, reference_id,
        counterparty_id, entry_type, description, event_time, created_at`

type pgJournal pgUow

func (s *pgJournal) FindByReference(ctx context.Context, ownerID int64, asset string, refType ReferenceType, refID string) (JournalEntry, bool, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
        WHERE owner_id = $1 AND asset = $2 AND reference_type = $3 AND reference_id = $4
        ORDER BY seq LIMIT 1`, ownerID, asset, string(refType), refID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, false, nil
	}
	if err != nil {
		return JournalEntry{}, false, err
	}
	return e, true, nil
}

func (s *pgJournal) Append(ctx context.Context, entries ...JournalEntry) error {
	for _, e := range entries {
		if _, err := s.tx.Exec(ctx, `INSERT INTO journal_entries
            (entry_id, owner_id, account_code, instrument_id, asset,
             amount, direction, balance_after, reference_type, reference_id,
             counterparty_id, entry_type, description, event_time, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			e.EntryID, e.OwnerID, string(e.Code), e.InstrumentID, e.Asset,
			e.Amount.String(), string(e.Direction), e.BalanceAfter.String(),
			string(e.ReferenceType), e.ReferenceID,
			e.CounterpartyID, string(e.EntryType), e.Description, e.EventTime, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgJournal) ListByOwner(ctx context.Context, ownerID int64, asset string, limit int) ([]JournalEntry, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
        WHERE owner_id = $1 AND asset = $2 ORDER BY seq DESC LIMIT NULLIF($3, 0)`, ownerID, asset, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var code, direction, refType, entryType string
	var amount, balanceAfter string
	if err := row.Scan(&e.EntryID, &e.OwnerID, &code, &e.InstrumentID, &e.Asset,
		&amount, &direction, &balanceAfter, &refType, &e.ReferenceID,
		&e.CounterpartyID, &entryType, &e.Description, &e.EventTime, &e.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	e.Code = AccountCode(code)
	e.Direction = Direction(direction)
	e.ReferenceType = ReferenceType(refType)
	e.EntryType = EntryType(entryType)
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return JournalEntry{}, fmt.Errorf("decode entry amount: %w", err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return JournalEntry{}, fmt.Errorf("decode entry balance: %w", err)
	}
	return e, nil
}

type pgOutbox pgUow

func (s *pgOutbox) Append(ctx context.Context, topic, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.tx.Exec(ctx, `INSERT INTO outbox_events (topic, key, payload)
        VALUES ($1, $2, $3)`, topic, key, raw)
	return err
}
