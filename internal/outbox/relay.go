package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/margex/ledger/internal/ledger"
)

// Source hands pending outbox events to the relay. Drain must deliver each
// record through publish and mark it published atomically with respect to
// competing relay instances.
type Source interface {
	Drain(ctx context.Context, limit int, publish func(ledger.OutboxRecord) error) (int, error)
}

// Relay moves committed outbox events onto the message transport. Running
// several relays against the same source is safe; the source guarantees
// each event is claimed by at most one of them.
type Relay struct {
	source    Source
	publisher Publisher
	log       *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewRelay constructs an outbox relay polling at the given interval.
func NewRelay(source Source, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{source: source, publisher: publisher, log: logger, interval: interval, batchSize: batchSize}
}

// Run polls the source until the context is cancelled. A full batch is
// followed by an immediate next cycle so a backlog drains without waiting
// out the interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Error("outbox relay cycle failed", "error", err)
		}
		if n >= r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch and reports how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.source.Drain(ctx, r.batchSize, func(rec ledger.OutboxRecord) error {
		return r.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload)
	})
	if n > 0 {
		r.log.Debug("outbox events published", "count", n)
	}
	return n, err
}
