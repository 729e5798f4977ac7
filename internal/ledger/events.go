package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbound topics. The outbox relay publishes each event onto the Redis
// stream named after its topic.
const (
	TopicFundsFrozen        = "ledger.funds-frozen"
	TopicFundsFreezeFailed  = "ledger.funds-freeze-failed"
	TopicLedgerEntryCreated = "ledger.entry-created"
	TopicTradeMarginSettled = "ledger.trade-margin-settled"
)

// FundsFrozen announces a successful margin/fee pre-authorization.
type FundsFrozen struct {
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	FrozenAt time.Time       `json:"frozen_at"`
}

// FundsFreezeFailed announces a rejected pre-authorization.
type FundsFreezeFailed struct {
	OrderID  int64     `json:"order_id"`
	UserID   int64     `json:"user_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// LedgerEntryCreated is emitted once per journal leg so downstream domains
// can track balance movement without querying the ledger.
type LedgerEntryCreated struct {
	EntryID       string          `json:"entry_id"`
	UserID        int64           `json:"user_id"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceType ReferenceType   `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	EntryType     EntryType       `json:"entry_type"`
	InstrumentID  int64           `json:"instrument_id,omitempty"`
	EventTime     time.Time       `json:"event_time"`
}

// TradeMarginSettled reports the outcome of an opening-trade settlement.
type TradeMarginSettled struct {
	TradeID      int64           `json:"trade_id"`
	OrderID      int64           `json:"order_id"`
	UserID       int64           `json:"user_id"`
	InstrumentID int64           `json:"instrument_id"`
	Asset        string          `json:"asset"`
	Side         string          `json:"side"`
	MarginUsed   decimal.Decimal `json:"margin_used"`
	FeeCharged   decimal.Decimal `json:"fee_charged"`
	FeeRefund    decimal.Decimal `json:"fee_refund"`
	ExecutedAt   time.Time       `json:"executed_at"`
	SettledAt    time.Time       `json:"settled_at"`
}

func entryCreated(e JournalEntry) LedgerEntryCreated {
	return LedgerEntryCreated{
		EntryID:       e.EntryID,
		UserID:        e.OwnerID,
		Asset:         e.Asset,
		Amount:        e.Signed(),
		BalanceAfter:  e.BalanceAfter,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		EntryType:     e.EntryType,
		InstrumentID:  e.InstrumentID,
		EventTime:     e.EventTime,
	}
}
