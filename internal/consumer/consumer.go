package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/margex/ledger/internal/ledger"
	"github.com/margex/ledger/internal/outbox"
)

// Inbound streams the ledger worker subscribes to.
const (
	StreamMarginCheckPassed = "risk.margin-check-passed"
	StreamTradeExecuted     = "trading.trade-executed"
	StreamMarginReleased    = "position.margin-released"
)

// MarginCheckPassed asks the ledger to reserve margin plus estimated fees
// for an order that passed the risk check.
type MarginCheckPassed struct {
	OrderID int64           `json:"order_id"`
	UserID  int64           `json:"user_id"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// TradeSide carries the per-party settlement instruction of one fill.
type TradeSide struct {
	UserID      int64           `json:"user_id"`
	OrderID     int64           `json:"order_id"`
	Action      string          `json:"action"`
	MarginUsed  decimal.Decimal `json:"margin_used"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	RealizedPnl decimal.Decimal `json:"realized_pnl"`
	Fee         decimal.Decimal `json:"fee"`
}

// Side actions.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// TradeExecuted reports one fill with both parties' settlement instructions.
type TradeExecuted struct {
	TradeID      int64     `json:"trade_id"`
	InstrumentID int64     `json:"instrument_id"`
	Asset        string    `json:"asset"`
	ExecutedAt   time.Time `json:"executed_at"`
	Maker        TradeSide `json:"maker"`
	Taker        TradeSide `json:"taker"`
}

// MarginReleased asks the ledger to return margin from a closed position.
type MarginReleased struct {
	ReleaseID      string          `json:"release_id"`
	UserID         int64           `json:"user_id"`
	InstrumentID   int64           `json:"instrument_id"`
	Asset          string          `json:"asset"`
	MarginReleased decimal.Decimal `json:"margin_released"`
	RealizedPnl    decimal.Decimal `json:"realized_pnl"`
}

// Consumer reads upstream events off Redis streams and applies them to the
// ledger. Every ledger operation is idempotent under its reference key, so
// redelivered messages are harmless.
type Consumer struct {
	client    *redis.Client
	svc       *ledger.Service
	publisher outbox.Publisher
	log       *slog.Logger
	lastIDs   map[string]string
}

// New constructs a consumer starting from the beginning of each stream.
func New(client *redis.Client, svc *ledger.Service, publisher outbox.Publisher, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:    client,
		svc:       svc,
		publisher: publisher,
		log:       logger,
		lastIDs: map[string]string{
			StreamMarginCheckPassed: "0",
			StreamTradeExecuted:     "0",
			StreamMarginReleased:    "0",
		},
	}
}

// Run blocks on the inbound streams until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Poll(ctx, 2*time.Second); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error("consumer poll failed", "error", err)
		}
	}
}

// Poll reads one batch across all streams and handles every message,
// reporting how many were processed. A message that fails with a transient
// error is not advanced past, so it is redelivered next poll; terminal
// ledger rejections are logged and skipped. A negative block reads without
// waiting.
func (c *Consumer) Poll(ctx context.Context, block time.Duration) (int, error) {
	names := []string{StreamMarginCheckPassed, StreamTradeExecuted, StreamMarginReleased}
	streams := make([]string, 0, 2*len(names))
	streams = append(streams, names...)
	for _, name := range names {
		streams = append(streams, c.lastIDs[name])
	}

	res, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   100,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, stream := range res {
		for _, msg := range stream.Messages {
			if err := c.handle(ctx, stream.Stream, msg); err != nil {
				return handled, err
			}
			c.lastIDs[stream.Stream] = msg.ID
			handled++
		}
	}
	return handled, nil
}

func (c *Consumer) handle(ctx context.Context, stream string, msg redis.XMessage) error {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		c.log.Warn("message without payload dropped", "stream", stream, "id", msg.ID)
		return nil
	}

	switch stream {
	case StreamMarginCheckPassed:
		return c.handleMarginCheck(ctx, []byte(raw))
	case StreamTradeExecuted:
		return c.handleTrade(ctx, []byte(raw))
	case StreamMarginReleased:
		return c.handleRelease(ctx, []byte(raw))
	}
	return nil
}

func (c *Consumer) handleMarginCheck(ctx context.Context, raw []byte) error {
	var ev MarginCheckPassed
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("malformed margin check event dropped", "error", err)
		return nil
	}

	_, err := c.svc.FreezeForOrder(ctx, ledger.FreezeInput{
		UserID:  ev.UserID,
		OrderID: ev.OrderID,
		Asset:   ev.Asset,
		Amount:  ev.Amount,
	})
	if err == nil {
		return nil
	}
	// A rejected freeze rolls the transaction back, so the failure event
	// cannot travel through the outbox and is published directly.
	if terminal(err) {
		c.log.Info("freeze rejected", "order_id", ev.OrderID, "user_id", ev.UserID, "reason", err)
		return c.publishFreezeFailed(ctx, ev, err)
	}
	return fmt.Errorf("freeze for order %d: %w", ev.OrderID, err)
}

func (c *Consumer) publishFreezeFailed(ctx context.Context, ev MarginCheckPassed, cause error) error {
	payload, err := json.Marshal(ledger.FundsFreezeFailed{
		OrderID:  ev.OrderID,
		UserID:   ev.UserID,
		Reason:   cause.Error(),
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, ledger.TopicFundsFreezeFailed, strconv.FormatInt(ev.OrderID, 10), payload)
}

func (c *Consumer) handleTrade(ctx context.Context, raw []byte) error {
	var ev TradeExecuted
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("malformed trade event dropped", "error", err)
		return nil
	}

	if err := c.settleSide(ctx, ev, ev.Maker, true); err != nil {
		return err
	}
	return c.settleSide(ctx, ev, ev.Taker, false)
}

func (c *Consumer) settleSide(ctx context.Context, ev TradeExecuted, side TradeSide, isMaker bool) error {
	var err error
	switch side.Action {
	case ActionOpen:
		_, err = c.svc.SettleTradeOpen(ctx, ledger.SettleOpenInput{
			UserID:       side.UserID,
			OrderID:      side.OrderID,
			TradeID:      ev.TradeID,
			InstrumentID: ev.InstrumentID,
			Asset:        ev.Asset,
			MarginUsed:   side.MarginUsed,
			ActualFee:    side.Fee,
			IsMaker:      isMaker,
			ExecutedAt:   ev.ExecutedAt,
		})
	case ActionClose:
		_, err = c.svc.SettleTradeClose(ctx, ledger.SettleCloseInput{
			UserID:       side.UserID,
			OrderID:      side.OrderID,
			TradeID:      ev.TradeID,
			InstrumentID: ev.InstrumentID,
			Asset:        ev.Asset,
			CostBasis:    side.CostBasis,
			RealizedPnl:  side.RealizedPnl,
			Fee:          side.Fee,
			IsMaker:      isMaker,
			ExecutedAt:   ev.ExecutedAt,
		})
	default:
		c.log.Warn("trade side with unknown action dropped",
			"trade_id", ev.TradeID, "user_id", side.UserID, "action", side.Action)
		return nil
	}
	if err == nil {
		return nil
	}
	if terminal(err) {
		c.log.Error("trade settlement rejected, dropping side",
			"trade_id", ev.TradeID, "user_id", side.UserID, "action", side.Action, "error", err)
		return nil
	}
	return fmt.Errorf("settle %s trade %d user %d: %w", side.Action, ev.TradeID, side.UserID, err)
}

func (c *Consumer) handleRelease(ctx context.Context, raw []byte) error {
	var ev MarginReleased
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("malformed margin release event dropped", "error", err)
		return nil
	}

	_, err := c.svc.ReleaseMargin(ctx, ledger.ReleaseMarginInput{
		ReleaseID:      ev.ReleaseID,
		UserID:         ev.UserID,
		InstrumentID:   ev.InstrumentID,
		Asset:          ev.Asset,
		MarginReleased: ev.MarginReleased,
		RealizedPnl:    ev.RealizedPnl,
	})
	if err != nil {
		if terminal(err) {
			c.log.Error("margin release rejected, dropping message",
				"release_id", ev.ReleaseID, "user_id", ev.UserID, "error", err)
			return nil
		}
		return fmt.Errorf("release margin %s: %w", ev.ReleaseID, err)
	}
	return nil
}

// terminal reports whether a ledger error can never succeed on redelivery.
// Such messages are dropped so one bad event does not hold up the stream;
// transient failures keep the cursor in place and are retried.
func terminal(err error) bool {
	return errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrInsufficientReserved)
}
