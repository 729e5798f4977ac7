package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Service orchestrates multi-account ledger mutations. Every operation runs
// inside one local transaction provided by the TxRunner, checks the journal
// for a prior entry under the same reference before mutating anything, and
// records its outbound events through the transactional outbox.
type Service struct {
	runner     TxRunner
	log        *slog.Logger
	maxRetries int
}

// NewService builds the ledger transaction service.
func NewService(runner TxRunner, logger *slog.Logger) *Service {
	return &Service{runner: runner, log: logger, maxRetries: DefaultMaxRetries}
}

// DepositInput credits external funds into a user's spot wallet.
type DepositInput struct {
	UserID     int64
	Asset      string
	Amount     decimal.Decimal
	TxID       string
	CreditedAt time.Time
}

// DepositResult reports the user-facing outcome of a deposit.
type DepositResult struct {
	Duplicate   bool
	UserEntry   JournalEntry
	SpotBalance Balance
}

// Deposit credits the user's spot wallet and mirrors the movement on the
// platform hot wallet and user-liability accounts. Keyed by the external
// transaction id: replaying the same deposit is a no-op.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (DepositResult, error) {
	if in.Amount.Sign() <= 0 {
		return DepositResult{}, ErrInvalidAmount
	}
	var res DepositResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if prior, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceDeposit, in.TxID); err != nil {
			return err
		} else if found {
			res = DepositResult{Duplicate: true, UserEntry: prior}
			res.SpotBalance, err = uow.Balances().GetOrCreate(ctx, spotKey(in.UserID, in.Asset))
			return err
		}

		spot, err := s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
			return b.deposit(in.Amount)
		})
		if err != nil {
			return err
		}
		liability, err := s.apply(ctx, uow, platformKey(CodeUserLiability, in.Asset), func(b *Balance) error {
			return b.increase(in.Amount)
		})
		if err != nil {
			return err
		}
		hot, err := s.apply(ctx, uow, platformKey(CodeHotWallet, in.Asset), func(b *Balance) error {
			return b.increase(in.Amount)
		})
		if err != nil {
			return err
		}
		suspense, err := s.apply(ctx, uow, platformKey(CodeExternalSuspense, in.Asset), func(b *Balance) error {
			return b.increase(in.Amount)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferenceDeposit, in.TxID, in.CreditedAt)
		userLeg := eb.add(spot, in.Amount, Debit, EntryDeposit, fmt.Sprintf("deposit %s", in.TxID))
		eb.add(liability, in.Amount, Credit, EntryPlatform, "user liability for deposit")
		eb.pair()
		eb.add(hot, in.Amount, Debit, EntryPlatform, "hot wallet inflow")
		eb.add(suspense, in.Amount, Credit, EntryPlatform, "external inflow")
		eb.pair()
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := s.publishEntries(ctx, uow, eb.all()); err != nil {
			return err
		}

		res = DepositResult{UserEntry: eb.leg(userLeg), SpotBalance: spot}
		return nil
	})
	return res, err
}

// WithdrawInput debits a user's spot wallet towards an external destination.
type WithdrawInput struct {
	UserID      int64
	Asset       string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Destination string
	ExternalRef string
}

// WithdrawResult reports the user-facing outcome of a withdrawal.
type WithdrawResult struct {
	Duplicate   bool
	UserEntry   JournalEntry
	SpotBalance Balance
}

// Withdraw debits amount plus fee from the user's available spot funds and
// mirrors the platform legs in the opposite direction of a deposit. Fails
// with ErrInsufficientFunds before any row is touched when the available
// balance cannot cover the total.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (WithdrawResult, error) {
	if in.Amount.Sign() <= 0 || in.Fee.Sign() < 0 {
		return WithdrawResult{}, ErrInvalidAmount
	}
	total := in.Amount.Add(in.Fee)
	var res WithdrawResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if prior, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceWithdrawal, in.ExternalRef); err != nil {
			return err
		} else if found {
			res = WithdrawResult{Duplicate: true, UserEntry: prior}
			res.SpotBalance, err = uow.Balances().GetOrCreate(ctx, spotKey(in.UserID, in.Asset))
			return err
		}

		spot, err := s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
			return b.withdraw(total)
		})
		if err != nil {
			return err
		}
		liability, err := s.apply(ctx, uow, platformKey(CodeUserLiability, in.Asset), func(b *Balance) error {
			return b.decrease(in.Amount)
		})
		if err != nil {
			return err
		}
		hot, err := s.apply(ctx, uow, platformKey(CodeHotWallet, in.Asset), func(b *Balance) error {
			return b.decrease(in.Amount)
		})
		if err != nil {
			return err
		}
		suspense, err := s.apply(ctx, uow, platformKey(CodeExternalSuspense, in.Asset), func(b *Balance) error {
			return b.decrease(in.Amount)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferenceWithdrawal, in.ExternalRef, time.Time{})
		userLeg := eb.add(spot, total, Credit, EntryWithdrawal, fmt.Sprintf("withdrawal to %s", in.Destination))
		eb.add(liability, in.Amount, Debit, EntryPlatform, "user liability released")
		eb.pair()
		eb.add(suspense, in.Amount, Debit, EntryPlatform, "external outflow")
		eb.add(hot, in.Amount, Credit, EntryPlatform, "hot wallet outflow")
		eb.pair()
		if in.Fee.Sign() > 0 {
			if err := s.appendFeeLegs(ctx, uow, eb, in.Asset, in.Fee, eb.leg(userLeg).EntryID); err != nil {
				return err
			}
		}
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := s.publishEntries(ctx, uow, eb.all()); err != nil {
			return err
		}

		res = WithdrawResult{UserEntry: eb.leg(userLeg), SpotBalance: spot}
		return nil
	})
	return res, err
}

// FreezeInput pre-authorizes margin plus estimated fees for a pending order.
type FreezeInput struct {
	UserID  int64
	OrderID int64
	Asset   string
	Amount  decimal.Decimal
}

// FreezeResult reports the reservation outcome.
type FreezeResult struct {
	Duplicate   bool
	FreezeEntry JournalEntry
	SpotBalance Balance
}

// FreezeForOrder moves funds from available to reserved ahead of matching.
// Keyed by order id: a redelivered freeze request returns the original
// entry without touching the balance.
func (s *Service) FreezeForOrder(ctx context.Context, in FreezeInput) (FreezeResult, error) {
	if in.Amount.Sign() <= 0 {
		return FreezeResult{}, ErrInvalidAmount
	}
	refID := strconv.FormatInt(in.OrderID, 10)
	var res FreezeResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if prior, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceOrder, refID); err != nil {
			return err
		} else if found {
			res = FreezeResult{Duplicate: true, FreezeEntry: prior}
			res.SpotBalance, err = uow.Balances().GetOrCreate(ctx, spotKey(in.UserID, in.Asset))
			return err
		}

		spot, err := s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
			return b.freeze(in.Amount)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferenceOrder, refID, time.Time{})
		frozenLeg := eb.add(spot, in.Amount, Credit, EntryFreeze, fmt.Sprintf("freeze for order %d", in.OrderID))
		eb.add(spot, in.Amount, Debit, EntryFreezeReserve, fmt.Sprintf("reserve for order %d", in.OrderID))
		eb.pair()
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := uow.Outbox().Append(ctx, TopicFundsFrozen, refID, FundsFrozen{
			OrderID:  in.OrderID,
			UserID:   in.UserID,
			Asset:    in.Asset,
			Amount:   in.Amount,
			FrozenAt: time.Now().UTC(),
		}); err != nil {
			return err
		}

		res = FreezeResult{FreezeEntry: eb.leg(frozenLeg), SpotBalance: spot}
		return nil
	})
	return res, err
}

// SettleOpenInput settles the side of a trade that increases a position.
// MarginUsed and ActualFee are computed upstream; the ledger only records them.
type SettleOpenInput struct {
	UserID       int64
	OrderID      int64
	TradeID      int64
	InstrumentID int64
	Asset        string
	MarginUsed   decimal.Decimal
	ActualFee    decimal.Decimal
	IsMaker      bool
	ExecutedAt   time.Time
}

// SettleOpenResult reports the settlement outcome including any fee refund.
type SettleOpenResult struct {
	Duplicate     bool
	FeeRefund     decimal.Decimal
	SpotBalance   Balance
	MarginBalance Balance
}

// SettleTradeOpen converts the order's reservation into a final debit. The
// freeze may have used a conservative taker-fee estimate, so the surplus
// over margin plus actual fee is refunded to available funds; the refund is
// floored at zero and never claws back when fees rose after freezing.
//
// A missing freeze entry is an upstream ordering anomaly: settlement then
// proceeds from available funds with a zero refund rather than blocking.
func (s *Service) SettleTradeOpen(ctx context.Context, in SettleOpenInput) (SettleOpenResult, error) {
	if in.MarginUsed.Sign() <= 0 || in.ActualFee.Sign() < 0 {
		return SettleOpenResult{}, ErrInvalidAmount
	}
	refID := tradeRef(in.TradeID, in.IsMaker)
	charge := in.MarginUsed.Add(in.ActualFee)
	var res SettleOpenResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if _, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceTrade, refID); err != nil {
			return err
		} else if found {
			res = SettleOpenResult{Duplicate: true}
			return nil
		}

		freezeEntry, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceOrder, strconv.FormatInt(in.OrderID, 10))
		if err != nil {
			return err
		}

		refund := decimal.Zero
		cost := charge
		var spot Balance
		if found {
			frozen := freezeEntry.Amount
			refund = frozen.Sub(charge)
			if refund.Sign() < 0 {
				refund = decimal.Zero
			}
			cost = frozen.Sub(refund)
			spot, err = s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
				return b.settleFreeze(frozen, refund)
			})
		} else {
			s.log.Warn("freeze entry missing, settling without refund",
				"user_id", in.UserID, "order_id", in.OrderID, "trade_id", in.TradeID,
				"error", ErrReferenceNotFound)
			spot, err = s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
				return b.debit(charge)
			})
		}
		if err != nil {
			return err
		}

		// When fees rose past the frozen amount the cost is capped at the
		// reservation; the shortfall comes out of the margin leg.
		feeLeg := decimal.Min(in.ActualFee, cost)
		marginLeg := cost.Sub(feeLeg)

		margin, err := s.apply(ctx, uow, marginKey(in.UserID, in.InstrumentID, in.Asset), func(b *Balance) error {
			return b.increase(marginLeg)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferenceTrade, refID, in.ExecutedAt)
		spotLeg := eb.add(spot, cost, Credit, EntryTradeOpenSpot, fmt.Sprintf("open settlement trade %d", in.TradeID))
		eb.add(margin, marginLeg, Debit, EntryTradeOpenMargn, fmt.Sprintf("margin for trade %d", in.TradeID))
		eb.pair()
		if feeLeg.Sign() > 0 {
			if err := s.appendFeeLegs(ctx, uow, eb, in.Asset, feeLeg, eb.leg(spotLeg).EntryID); err != nil {
				return err
			}
		}
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := s.publishEntries(ctx, uow, eb.all()); err != nil {
			return err
		}
		if err := uow.Outbox().Append(ctx, TopicTradeMarginSettled, refID, TradeMarginSettled{
			TradeID:      in.TradeID,
			OrderID:      in.OrderID,
			UserID:       in.UserID,
			InstrumentID: in.InstrumentID,
			Asset:        in.Asset,
			Side:         sideName(in.IsMaker),
			MarginUsed:   marginLeg,
			FeeCharged:   feeLeg,
			FeeRefund:    refund,
			ExecutedAt:   in.ExecutedAt,
			SettledAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}

		res = SettleOpenResult{FeeRefund: refund, SpotBalance: spot, MarginBalance: margin}
		return nil
	})
	return res, err
}

// SettleCloseInput settles the side of a trade that reduces or closes a
// position. CostBasis and RealizedPnl are computed by the position domain.
type SettleCloseInput struct {
	UserID       int64
	OrderID      int64
	TradeID      int64
	InstrumentID int64
	Asset        string
	CostBasis    decimal.Decimal
	RealizedPnl  decimal.Decimal
	Fee          decimal.Decimal
	IsMaker      bool
	ExecutedAt   time.Time
}

// SettleCloseResult reports the close settlement outcome.
type SettleCloseResult struct {
	Duplicate     bool
	SpotBalance   Balance
	MarginBalance Balance
}

// SettleTradeClose releases the position's cost basis from isolated margin
// back to the spot wallet together with realized PnL, net of fees. The PnL
// itself settles against the platform clearing account since the margin row
// only ever holds the cost basis. Losses beyond the cost basis clamp the
// proceeds at zero.
func (s *Service) SettleTradeClose(ctx context.Context, in SettleCloseInput) (SettleCloseResult, error) {
	if in.CostBasis.Sign() <= 0 || in.Fee.Sign() < 0 {
		return SettleCloseResult{}, ErrInvalidAmount
	}
	proceeds := in.CostBasis.Add(in.RealizedPnl)
	if proceeds.Sign() < 0 {
		proceeds = decimal.Zero
	}
	feeLeg := decimal.Min(in.Fee, proceeds)
	spotAmount := proceeds.Sub(feeLeg)
	refID := tradeRef(in.TradeID, in.IsMaker)
	var res SettleCloseResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if _, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferenceTrade, refID); err != nil {
			return err
		} else if found {
			res = SettleCloseResult{Duplicate: true}
			return nil
		}

		margin, err := s.apply(ctx, uow, marginKey(in.UserID, in.InstrumentID, in.Asset), func(b *Balance) error {
			return b.debit(in.CostBasis)
		})
		if err != nil {
			return err
		}
		spot, err := s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
			return b.creditWithPnl(spotAmount, in.RealizedPnl)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferenceTrade, refID, in.ExecutedAt)
		basisLeg := eb.add(margin, in.CostBasis, Credit, EntryTradeCloseMrgn, fmt.Sprintf("close settlement trade %d", in.TradeID))
		eb.add(spot, spotAmount, Debit, EntryTradeCloseSpot, fmt.Sprintf("close proceeds trade %d", in.TradeID))
		eb.pair()
		if feeLeg.Sign() > 0 {
			if err := s.appendFeeLegs(ctx, uow, eb, in.Asset, feeLeg, eb.leg(basisLeg).EntryID); err != nil {
				return err
			}
		}
		// clearing = cost basis - proceeds, i.e. the counterparty side of PnL.
		if err := s.appendClearingLeg(ctx, uow, eb, in.Asset, in.CostBasis.Sub(proceeds)); err != nil {
			return err
		}
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := s.publishEntries(ctx, uow, eb.all()); err != nil {
			return err
		}

		res = SettleCloseResult{SpotBalance: spot, MarginBalance: margin}
		return nil
	})
	return res, err
}

// ReleaseMarginInput returns margin from an isolated position to the spot
// wallet, settling realized PnL against the clearing account.
type ReleaseMarginInput struct {
	ReleaseID      string
	UserID         int64
	InstrumentID   int64
	Asset          string
	MarginReleased decimal.Decimal
	RealizedPnl    decimal.Decimal
}

// ReleaseMarginResult reports the release outcome.
type ReleaseMarginResult struct {
	Duplicate     bool
	SpotBalance   Balance
	MarginBalance Balance
}

// ReleaseMargin moves released margin plus realized PnL back to the spot
// wallet. The PnL imbalance against the counterparty settles through the
// platform clearing account. Losses beyond the released margin reduce the
// spot credit to zero rather than driving it negative.
func (s *Service) ReleaseMargin(ctx context.Context, in ReleaseMarginInput) (ReleaseMarginResult, error) {
	if in.MarginReleased.Sign() <= 0 {
		return ReleaseMarginResult{}, ErrInvalidAmount
	}
	spotAmount := in.MarginReleased.Add(in.RealizedPnl)
	if spotAmount.Sign() < 0 {
		spotAmount = decimal.Zero
	}
	// Signed clearing leg keeps the operation zero-sum.
	clearing := in.MarginReleased.Sub(spotAmount)
	var res ReleaseMarginResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if _, found, err := uow.Journal().FindByReference(ctx, in.UserID, in.Asset, ReferencePosition, in.ReleaseID); err != nil {
			return err
		} else if found {
			res = ReleaseMarginResult{Duplicate: true}
			return nil
		}

		margin, err := s.apply(ctx, uow, marginKey(in.UserID, in.InstrumentID, in.Asset), func(b *Balance) error {
			return b.debit(in.MarginReleased)
		})
		if err != nil {
			return err
		}
		spot, err := s.apply(ctx, uow, spotKey(in.UserID, in.Asset), func(b *Balance) error {
			return b.creditWithPnl(spotAmount, in.RealizedPnl)
		})
		if err != nil {
			return err
		}

		eb := newEntryBuilder(ReferencePosition, in.ReleaseID, time.Time{})
		eb.add(margin, in.MarginReleased, Credit, EntryMarginRelease, fmt.Sprintf("margin release %s", in.ReleaseID))
		eb.add(spot, spotAmount, Debit, EntryMarginRelease, fmt.Sprintf("released margin and pnl %s", in.ReleaseID))
		eb.pair()
		if err := s.appendClearingLeg(ctx, uow, eb, in.Asset, clearing); err != nil {
			return err
		}
		if err := uow.Journal().Append(ctx, eb.all()...); err != nil {
			return err
		}
		if err := s.publishEntries(ctx, uow, eb.all()); err != nil {
			return err
		}

		res = ReleaseMarginResult{SpotBalance: spot, MarginBalance: margin}
		return nil
	})
	return res, err
}

// Balances reads all balance rows for an owner. Query path, no mutation.
func (s *Service) Balances(ctx context.Context, ownerID int64) ([]Balance, error) {
	var out []Balance
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.Balances().ListByOwner(ctx, ownerID)
		return err
	})
	return out, err
}

// Entries reads the most recent journal legs for an owner and asset.
func (s *Service) Entries(ctx context.Context, ownerID int64, asset string, limit int) ([]JournalEntry, error) {
	var out []JournalEntry
	err := s.runner.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.Journal().ListByOwner(ctx, ownerID, asset, limit)
		return err
	})
	return out, err
}

func (s *Service) apply(ctx context.Context, uow UnitOfWork, key BalanceKey, mutate Mutation) (Balance, error) {
	return applyWithRetry(ctx, uow.Balances(), key, s.maxRetries, mutate)
}

// appendFeeLegs records a fee paid by the user: the user's fee-expense
// account grows, the platform owes the user less and recognizes revenue.
func (s *Service) appendFeeLegs(ctx context.Context, uow UnitOfWork, eb *entryBuilder, asset string, fee decimal.Decimal, counterpartyID string) error {
	feeExpense, err := s.apply(ctx, uow, feeExpenseKey(eb.entries[0].OwnerID, asset), func(b *Balance) error {
		return b.increase(fee)
	})
	if err != nil {
		return err
	}
	liability, err := s.apply(ctx, uow, platformKey(CodeUserLiability, asset), func(b *Balance) error {
		return b.decrease(fee)
	})
	if err != nil {
		return err
	}
	revenue, err := s.apply(ctx, uow, platformKey(CodeFeeRevenue, asset), func(b *Balance) error {
		return b.increase(fee)
	})
	if err != nil {
		return err
	}
	expense := eb.add(feeExpense, fee, Debit, EntryFee, "fee charged")
	eb.entries[expense].CounterpartyID = counterpartyID
	eb.add(liability, fee, Debit, EntryPlatform, "liability reduced by fee")
	eb.add(revenue, fee, Credit, EntryFee, "fee revenue")
	eb.pair()
	return nil
}

// appendClearingLeg adds a signed leg against the platform clearing account
// so that an operation transferring realized PnL still sums to zero. A
// positive signed amount posts a debit, a negative one a credit, zero posts
// nothing.
func (s *Service) appendClearingLeg(ctx context.Context, uow UnitOfWork, eb *entryBuilder, asset string, signed decimal.Decimal) error {
	if signed.Sign() == 0 {
		return nil
	}
	dir := Debit
	amount := signed
	mutate := (*Balance).decrease
	if signed.Sign() < 0 {
		dir = Credit
		amount = signed.Neg()
		mutate = (*Balance).increase
	}
	clearing, err := s.apply(ctx, uow, platformKey(CodePnlClearing, asset), func(b *Balance) error {
		return mutate(b, amount)
	})
	if err != nil {
		return err
	}
	eb.add(clearing, amount, dir, EntryPlatform, "pnl clearing")
	return nil
}

func (s *Service) publishEntries(ctx context.Context, uow UnitOfWork, entries []JournalEntry) error {
	for _, e := range entries {
		if err := uow.Outbox().Append(ctx, TopicLedgerEntryCreated, e.EntryID, entryCreated(e)); err != nil {
			return err
		}
	}
	return nil
}

func tradeRef(tradeID int64, isMaker bool) string {
	return strconv.FormatInt(tradeID, 10) + ":" + sideName(isMaker)
}

func sideName(isMaker bool) string {
	if isMaker {
		return "maker"
	}
	return "taker"
}
