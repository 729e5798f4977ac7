package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountCode identifies a sub-account within an owner's book.
type AccountCode string

const (
	// CodeSpot is the user's main spot wallet.
	CodeSpot AccountCode = "SPOT"
	// CodeMargin is the user's isolated margin account, scoped to an instrument.
	CodeMargin AccountCode = "MARGIN"
	// CodeFeeExpense accumulates fees a user has paid.
	CodeFeeExpense AccountCode = "FEE_EXPENSE"
	// CodeHotWallet is the platform custody account for on-chain funds.
	CodeHotWallet AccountCode = "HOT_WALLET"
	// CodeUserLiability tracks what the platform owes its users in aggregate.
	CodeUserLiability AccountCode = "USER_LIABILITY"
	// CodeFeeRevenue accumulates trading and withdrawal fees earned by the platform.
	CodeFeeRevenue AccountCode = "FEE_REVENUE"
	// CodeExternalSuspense mirrors value entering or leaving the platform.
	CodeExternalSuspense AccountCode = "EXTERNAL_SUSPENSE"
	// CodePnlClearing absorbs the counterparty side of realized PnL transfers.
	// A house account only: its row floats negative whenever users' realized
	// losses outweigh their gains.
	CodePnlClearing AccountCode = "PNL_CLEARING"
)

// PlatformOwnerID is the owner id reserved for platform-level accounts.
const PlatformOwnerID int64 = 0

// creditNormal reports whether an account grows on the credit side.
// Debit-normal accounts (wallets, margin, expenses) grow on the debit side.
func (c AccountCode) creditNormal() bool {
	switch c {
	case CodeUserLiability, CodeFeeRevenue, CodeExternalSuspense, CodePnlClearing:
		return true
	}
	return false
}

// BalanceKey identifies a single balance row. InstrumentID is zero for
// accounts that are not instrument-scoped.
type BalanceKey struct {
	OwnerID      int64
	Code         AccountCode
	InstrumentID int64
	Asset        string
}

func spotKey(userID int64, asset string) BalanceKey {
	return BalanceKey{OwnerID: userID, Code: CodeSpot, Asset: asset}
}

func marginKey(userID, instrumentID int64, asset string) BalanceKey {
	return BalanceKey{OwnerID: userID, Code: CodeMargin, InstrumentID: instrumentID, Asset: asset}
}

func feeExpenseKey(userID int64, asset string) BalanceKey {
	return BalanceKey{OwnerID: userID, Code: CodeFeeExpense, Asset: asset}
}

func platformKey(code AccountCode, asset string) BalanceKey {
	return BalanceKey{OwnerID: PlatformOwnerID, Code: code, Asset: asset}
}

// Balance is one keyed balance row. Invariant at rest: Balance == Available + Reserved.
// Rows are created lazily, mutated only through versioned updates and never deleted.
type Balance struct {
	ID             int64
	OwnerID        int64
	Code           AccountCode
	InstrumentID   int64
	Asset          string
	Balance        decimal.Decimal
	Available      decimal.Decimal
	Reserved       decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalPnl       decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the lookup key for the row.
func (b Balance) Key() BalanceKey {
	return BalanceKey{OwnerID: b.OwnerID, Code: b.Code, InstrumentID: b.InstrumentID, Asset: b.Asset}
}

// The mutation helpers below operate on a snapshot copy held by the
// optimistic retrier. They must depend only on the receiver's current
// state so that reapplying them after a version conflict is safe.

func (b *Balance) deposit(amount decimal.Decimal) error {
	b.Balance = b.Balance.Add(amount)
	b.Available = b.Available.Add(amount)
	b.TotalDeposited = b.TotalDeposited.Add(amount)
	return nil
}

func (b *Balance) withdraw(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	b.Balance = b.Balance.Sub(amount)
	b.Available = b.Available.Sub(amount)
	b.TotalWithdrawn = b.TotalWithdrawn.Add(amount)
	return nil
}

// freeze moves amount from available to reserved; the total is unchanged.
func (b *Balance) freeze(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	return nil
}

// settleFreeze consumes a reservation: the frozen amount leaves reserved,
// refund returns to available and cost (= frozen - refund) leaves the account.
func (b *Balance) settleFreeze(frozen, refund decimal.Decimal) error {
	if b.Reserved.LessThan(frozen) {
		return ErrInsufficientReserved
	}
	cost := frozen.Sub(refund)
	b.Reserved = b.Reserved.Sub(frozen)
	b.Available = b.Available.Add(refund)
	b.Balance = b.Balance.Sub(cost)
	return nil
}

func (b *Balance) creditWithPnl(amount, realizedPnl decimal.Decimal) error {
	b.Balance = b.Balance.Add(amount)
	b.Available = b.Available.Add(amount)
	b.TotalPnl = b.TotalPnl.Add(realizedPnl)
	return nil
}

// debit removes amount from available funds without touching the lifetime
// counters. Used for settlement outflows.
func (b *Balance) debit(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	b.Balance = b.Balance.Sub(amount)
	b.Available = b.Available.Sub(amount)
	return nil
}

// increase grows a platform account regardless of its normal side.
// Platform rows keep Available == Balance and never reserve.
func (b *Balance) increase(amount decimal.Decimal) error {
	b.Balance = b.Balance.Add(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

func (b *Balance) decrease(amount decimal.Decimal) error {
	b.Balance = b.Balance.Sub(amount)
	b.Available = b.Available.Sub(amount)
	return nil
}
