package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction tells which side of the books a journal leg sits on.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// EntryType classifies journal legs by the business movement that produced them.
type EntryType string

const (
	EntryDeposit        EntryType = "DEPOSIT"
	EntryWithdrawal     EntryType = "WITHDRAWAL"
	EntryFreeze         EntryType = "FREEZE"
	EntryFreezeReserve  EntryType = "FREEZE_RESERVE"
	EntryTradeOpenSpot  EntryType = "TRADE_OPEN_SPOT"
	EntryTradeOpenMargn EntryType = "TRADE_OPEN_MARGIN"
	EntryTradeCloseSpot EntryType = "TRADE_CLOSE_SPOT"
	EntryTradeCloseMrgn EntryType = "TRADE_CLOSE_MARGIN"
	EntryFee            EntryType = "FEE"
	EntryMarginRelease  EntryType = "MARGIN_RELEASE"
	EntryPlatform       EntryType = "PLATFORM"
)

// ReferenceType plus ReferenceID form the idempotency key of an operation.
type ReferenceType string

const (
	ReferenceDeposit    ReferenceType = "DEPOSIT"
	ReferenceWithdrawal ReferenceType = "WITHDRAWAL"
	ReferenceOrder      ReferenceType = "ORDER"
	ReferenceTrade      ReferenceType = "TRADE"
	ReferencePosition   ReferenceType = "POSITION"
)

// JournalEntry is one immutable signed leg of a business operation.
// The legs of a single operation always sum to zero under Signed.
type JournalEntry struct {
	EntryID        string
	OwnerID        int64
	Code           AccountCode
	InstrumentID   int64
	Asset          string
	Amount         decimal.Decimal
	Direction      Direction
	BalanceAfter   decimal.Decimal
	ReferenceType  ReferenceType
	ReferenceID    string
	CounterpartyID string
	EntryType      EntryType
	Description    string
	EventTime      time.Time
	CreatedAt      time.Time
}

// Signed returns the amount as it enters the trial balance: positive for
// debits, negative for credits.
func (e JournalEntry) Signed() decimal.Decimal {
	if e.Direction == Credit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// entryBuilder assembles the leg set of one operation, linking counterparty
// pairs and stamping shared reference metadata.
type entryBuilder struct {
	refType   ReferenceType
	refID     string
	eventTime time.Time
	createdAt time.Time
	entries   []JournalEntry
}

func newEntryBuilder(refType ReferenceType, refID string, eventTime time.Time) *entryBuilder {
	now := time.Now().UTC()
	if eventTime.IsZero() {
		eventTime = now
	}
	return &entryBuilder{refType: refType, refID: refID, eventTime: eventTime, createdAt: now}
}

// add appends one leg and returns its index. Legs are read back through
// leg after all pair calls so counterparty links are never missed.
func (eb *entryBuilder) add(b Balance, amount decimal.Decimal, dir Direction, entryType EntryType, description string) int {
	eb.entries = append(eb.entries, JournalEntry{
		EntryID:       uuid.NewString(),
		OwnerID:       b.OwnerID,
		Code:          b.Code,
		InstrumentID:  b.InstrumentID,
		Asset:         b.Asset,
		Amount:        amount,
		Direction:     dir,
		BalanceAfter:  b.Balance,
		ReferenceType: eb.refType,
		ReferenceID:   eb.refID,
		EntryType:     entryType,
		Description:   description,
		EventTime:     eb.eventTime,
		CreatedAt:     eb.createdAt,
	})
	return len(eb.entries) - 1
}

// leg returns a copy of the leg at index i.
func (eb *entryBuilder) leg(i int) JournalEntry {
	return eb.entries[i]
}

// pair links the two most recently added legs as counterparties.
func (eb *entryBuilder) pair() {
	n := len(eb.entries)
	if n < 2 {
		return
	}
	eb.entries[n-2].CounterpartyID = eb.entries[n-1].EntryID
	eb.entries[n-1].CounterpartyID = eb.entries[n-2].EntryID
}

func (eb *entryBuilder) all() []JournalEntry {
	return eb.entries
}
