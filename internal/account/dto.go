package account

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/margex/ledger/internal/ledger"
)

// DepositRequest credits external funds into a user's spot wallet.
type DepositRequest struct {
	UserID     int64           `json:"user_id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	TxID       string          `json:"tx_id"`
	CreditedAt time.Time       `json:"credited_at"`
}

// WithdrawRequest debits a user's spot wallet towards an external address.
type WithdrawRequest struct {
	UserID      int64           `json:"user_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Destination string          `json:"destination"`
	ExternalRef string          `json:"external_ref"`
}

// MutationResponse reports the outcome of a deposit or withdrawal.
type MutationResponse struct {
	EntryID   string          `json:"entry_id"`
	Duplicate bool            `json:"duplicate"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// BalanceResponse is one balance row of a user.
type BalanceResponse struct {
	Code           string          `json:"code"`
	InstrumentID   int64           `json:"instrument_id,omitempty"`
	Asset          string          `json:"asset"`
	Balance        decimal.Decimal `json:"balance"`
	Available      decimal.Decimal `json:"available"`
	Reserved       decimal.Decimal `json:"reserved"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalPnl       decimal.Decimal `json:"total_pnl"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EntryResponse is one journal leg of a user's history.
type EntryResponse struct {
	EntryID       string          `json:"entry_id"`
	Code          string          `json:"code"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"`
	EntryType     string          `json:"entry_type"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Description   string          `json:"description"`
	EventTime     time.Time       `json:"event_time"`
}

func toBalanceResponse(b ledger.Balance) BalanceResponse {
	return BalanceResponse{
		Code:           string(b.Code),
		InstrumentID:   b.InstrumentID,
		Asset:          b.Asset,
		Balance:        b.Balance,
		Available:      b.Available,
		Reserved:       b.Reserved,
		TotalDeposited: b.TotalDeposited,
		TotalWithdrawn: b.TotalWithdrawn,
		TotalPnl:       b.TotalPnl,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toEntryResponse(e ledger.JournalEntry) EntryResponse {
	return EntryResponse{
		EntryID:       e.EntryID,
		Code:          string(e.Code),
		Asset:         e.Asset,
		Amount:        e.Amount,
		Direction:     string(e.Direction),
		EntryType:     string(e.EntryType),
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		EventTime:     e.EventTime,
	}
}
