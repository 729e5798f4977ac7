package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/margex/ledger/internal/ledger"
)

// PostgresSource reads pending events from the outbox_events table. Rows
// are claimed with FOR UPDATE SKIP LOCKED so concurrent relays never
// publish the same event twice.
type PostgresSource struct {
	db *pgxpool.Pool
}

// NewPostgresSource constructs a source over the ledger's outbox table.
func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Drain(ctx context.Context, limit int, publish func(ledger.OutboxRecord) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT id, topic, key, payload, created_at
        FROM outbox_events
        WHERE published_at IS NULL
        ORDER BY id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, err
	}

	var pending []ledger.OutboxRecord
	for rows.Next() {
		var rec ledger.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published, pubErr := publishInOrder(pending, publish)
	if len(published) == 0 {
		return 0, pubErr
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now()
        WHERE id = ANY($1)`, published); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(published), pubErr
}

// publishInOrder delivers records oldest first, stopping at the first
// failure so later events on the same stream are never reordered. It
// returns the delivered ids together with the failure, if any, so a
// stalled transport is visible to the relay.
func publishInOrder(pending []ledger.OutboxRecord, publish func(ledger.OutboxRecord) error) ([]int64, error) {
	published := make([]int64, 0, len(pending))
	for _, rec := range pending {
		if err := publish(rec); err != nil {
			return published, fmt.Errorf("publish event %d to %s: %w", rec.ID, rec.Topic, err)
		}
		published = append(published, rec.ID)
	}
	return published, nil
}
