package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/margex/ledger/internal/logging"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	backend := NewInMemory()
	return NewService(backend, logging.Discard()), backend
}

func depositFunds(t *testing.T, svc *Service, userID int64, asset, amount, txID string) {
	t.Helper()
	_, err := svc.Deposit(context.Background(), DepositInput{
		UserID: userID,
		Asset:  asset,
		Amount: dec(amount),
		TxID:   txID,
	})
	require.NoError(t, err)
}

// requireBalance asserts the core amounts of one balance row.
func requireBalance(t *testing.T, backend *InMemory, key BalanceKey, balance, available, reserved string) Balance {
	t.Helper()
	b, ok := backend.Balance(key)
	require.True(t, ok, "balance row %v should exist", key)
	assert.True(t, b.Balance.Equal(dec(balance)), "balance: want %s, got %s", balance, b.Balance)
	assert.True(t, b.Available.Equal(dec(available)), "available: want %s, got %s", available, b.Available)
	assert.True(t, b.Reserved.Equal(dec(reserved)), "reserved: want %s, got %s", reserved, b.Reserved)
	assert.True(t, b.Balance.Equal(b.Available.Add(b.Reserved)), "balance must equal available plus reserved")
	return b
}

// requireZeroSum groups all journal legs by reference and asserts each
// operation's signed legs cancel out.
func requireZeroSum(t *testing.T, svc *Service, userIDs []int64, asset string) {
	t.Helper()
	sums := make(map[string]decimal.Decimal)
	seen := make(map[string]bool)
	owners := append([]int64{PlatformOwnerID}, userIDs...)
	for _, owner := range owners {
		entries, err := svc.Entries(context.Background(), owner, asset, 0)
		require.NoError(t, err)
		for _, e := range entries {
			if seen[e.EntryID] {
				continue
			}
			seen[e.EntryID] = true
			key := string(e.ReferenceType) + "/" + e.ReferenceID
			sums[key] = sums[key].Add(e.Signed())
		}
	}
	require.NotEmpty(t, sums)
	for ref, sum := range sums {
		assert.True(t, sum.IsZero(), "legs of %s must sum to zero, got %s", ref, sum)
	}
}

func TestDepositCreditsSpotWallet(t *testing.T) {
	svc, backend := newTestService(t)

	res, err := svc.Deposit(context.Background(), DepositInput{
		UserID: 1, Asset: "USDT", Amount: dec("100"), TxID: "tx-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, Debit, res.UserEntry.Direction)
	assert.True(t, res.UserEntry.Amount.Equal(dec("100")))

	spot := requireBalance(t, backend, spotKey(1, "USDT"), "100", "100", "0")
	assert.True(t, spot.TotalDeposited.Equal(dec("100")))
	assert.EqualValues(t, 1, spot.Version)

	requireBalance(t, backend, platformKey(CodeHotWallet, "USDT"), "100", "100", "0")
	requireBalance(t, backend, platformKey(CodeUserLiability, "USDT"), "100", "100", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestDepositIsIdempotentPerExternalTx(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	res, err := svc.Deposit(context.Background(), DepositInput{
		UserID: 1, Asset: "USDT", Amount: dec("100"), TxID: "tx-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.UserEntry.Amount.Equal(dec("100")))

	spot := requireBalance(t, backend, spotKey(1, "USDT"), "100", "100", "0")
	assert.EqualValues(t, 1, spot.Version, "replay must not bump the version")
}

func TestIdempotentReplayReturnsFirstResult(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.Deposit(context.Background(), DepositInput{
		UserID: 1, Asset: "USDT", Amount: dec("100"), TxID: "tx-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.UserEntry.CounterpartyID, "deposit leg must link its liability counterparty")

	replay, err := svc.Deposit(context.Background(), DepositInput{
		UserID: 1, Asset: "USDT", Amount: dec("100"), TxID: "tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.UserEntry, replay.UserEntry)

	frozen, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, frozen.FreezeEntry.CounterpartyID, "freeze leg must link its reserve counterparty")

	frozenReplay, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)
	assert.Equal(t, frozen.FreezeEntry, frozenReplay.FreezeEntry)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Deposit(context.Background(), DepositInput{
			UserID: 1, Asset: "USDT", Amount: dec(amount), TxID: "tx-bad",
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestWithdrawDebitsAmountPlusFee(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	res, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: 1, Asset: "USDT", Amount: dec("40"), Fee: dec("1"),
		Destination: "0xabc", ExternalRef: "wd-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	spot := requireBalance(t, backend, spotKey(1, "USDT"), "59", "59", "0")
	assert.True(t, spot.TotalWithdrawn.Equal(dec("41")))
	requireBalance(t, backend, platformKey(CodeFeeRevenue, "USDT"), "1", "1", "0")
	requireBalance(t, backend, platformKey(CodeHotWallet, "USDT"), "60", "60", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestWithdrawIsIdempotentPerReference(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	first, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: 1, Asset: "USDT", Amount: dec("40"), Fee: dec("1"),
		Destination: "0xabc", ExternalRef: "wd-1",
	})
	require.NoError(t, err)

	second, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: 1, Asset: "USDT", Amount: dec("40"), Fee: dec("1"),
		Destination: "0xabc", ExternalRef: "wd-1",
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.UserEntry.EntryID, second.UserEntry.EntryID)
	requireBalance(t, backend, spotKey(1, "USDT"), "59", "59", "0")
}

func TestWithdrawInsufficientFundsRollsBack(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	_, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: 1, Asset: "USDT", Amount: dec("99.5"), Fee: dec("1"),
		Destination: "0xabc", ExternalRef: "wd-1",
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	spot := requireBalance(t, backend, spotKey(1, "USDT"), "100", "100", "0")
	assert.EqualValues(t, 1, spot.Version, "failed withdrawal must not bump the version")
	_, ok := backend.Balance(platformKey(CodeFeeRevenue, "USDT"))
	assert.False(t, ok, "failed withdrawal must not create platform rows")
}

func TestWithdrawAtExactBoundary(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	_, err := svc.Withdraw(context.Background(), WithdrawInput{
		UserID: 1, Asset: "USDT", Amount: dec("99"), Fee: dec("1"),
		Destination: "0xabc", ExternalRef: "wd-1",
	})
	require.NoError(t, err)
	requireBalance(t, backend, spotKey(1, "USDT"), "0", "0", "0")
}

func TestFreezeForOrderReservesFunds(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	res, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	requireBalance(t, backend, spotKey(1, "USDT"), "100", "70", "30")

	var frozen *OutboxRecord
	events := backend.Events()
	for i := range events {
		if events[i].Topic == TopicFundsFrozen {
			frozen = &events[i]
		}
	}
	require.NotNil(t, frozen, "freeze must emit a funds-frozen event")
	var payload FundsFrozen
	require.NoError(t, json.Unmarshal(frozen.Payload, &payload))
	assert.EqualValues(t, 7, payload.OrderID)
	assert.True(t, payload.Amount.Equal(dec("30")))
}

func TestFreezeForOrderIsIdempotentPerOrder(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	first, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	second, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.FreezeEntry.EntryID, second.FreezeEntry.EntryID)
	requireBalance(t, backend, spotKey(1, "USDT"), "100", "70", "30")
}

func TestFreezeForOrderInsufficientAvailable(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("100.01"),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireBalance(t, backend, spotKey(1, "USDT"), "100", "100", "0")
}

func TestSettleTradeOpenRefundsFeeSurplus(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")
	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	res, err := svc.SettleTradeOpen(context.Background(), SettleOpenInput{
		UserID: 1, OrderID: 7, TradeID: 11, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("25"), ActualFee: dec("0.5"), IsMaker: true,
		ExecutedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.FeeRefund.Equal(dec("4.5")), "surplus over margin plus fee is refunded, got %s", res.FeeRefund)

	requireBalance(t, backend, spotKey(1, "USDT"), "74.5", "74.5", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "25", "25", "0")
	requireBalance(t, backend, platformKey(CodeFeeRevenue, "USDT"), "0.5", "0.5", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestSettleTradeOpenIsIdempotentPerTradeSide(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")
	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	in := SettleOpenInput{
		UserID: 1, OrderID: 7, TradeID: 11, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("25"), ActualFee: dec("0.5"), IsMaker: true,
	}
	_, err = svc.SettleTradeOpen(context.Background(), in)
	require.NoError(t, err)

	replay, err := svc.SettleTradeOpen(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	requireBalance(t, backend, spotKey(1, "USDT"), "74.5", "74.5", "0")
}

func TestSettleTradeOpenMakerAndTakerSettleSeparately(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")
	for _, orderID := range []int64{7, 8} {
		_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
			UserID: 1, OrderID: orderID, Asset: "USDT", Amount: dec("30"),
		})
		require.NoError(t, err)
	}

	// Same trade id on both sides of a self-match still settles twice.
	maker := SettleOpenInput{
		UserID: 1, OrderID: 7, TradeID: 11, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("25"), ActualFee: dec("0.5"), IsMaker: true,
	}
	taker := maker
	taker.OrderID = 8
	taker.IsMaker = false

	makerRes, err := svc.SettleTradeOpen(context.Background(), maker)
	require.NoError(t, err)
	assert.False(t, makerRes.Duplicate)

	takerRes, err := svc.SettleTradeOpen(context.Background(), taker)
	require.NoError(t, err)
	assert.False(t, takerRes.Duplicate, "taker side carries its own idempotency key")

	requireBalance(t, backend, marginKey(1, 2, "USDT"), "50", "50", "0")
}

func TestSettleTradeOpenFeeAboveFrozenCapsAtReservation(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")
	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	res, err := svc.SettleTradeOpen(context.Background(), SettleOpenInput{
		UserID: 1, OrderID: 7, TradeID: 11, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("29"), ActualFee: dec("2"), IsMaker: false,
	})
	require.NoError(t, err)
	assert.True(t, res.FeeRefund.IsZero(), "refund never goes negative")

	// Cost is capped at the frozen 30: fee takes 2, margin absorbs the rest.
	requireBalance(t, backend, spotKey(1, "USDT"), "70", "70", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "28", "28", "0")
	requireBalance(t, backend, platformKey(CodeFeeRevenue, "USDT"), "2", "2", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestSettleTradeOpenWithoutFreezeSettlesFromAvailable(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	res, err := svc.SettleTradeOpen(context.Background(), SettleOpenInput{
		UserID: 1, OrderID: 99, TradeID: 12, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("20"), ActualFee: dec("1"), IsMaker: true,
	})
	require.NoError(t, err)
	assert.True(t, res.FeeRefund.IsZero())

	requireBalance(t, backend, spotKey(1, "USDT"), "79", "79", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "20", "20", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func openPosition(t *testing.T, svc *Service, userID int64) {
	t.Helper()
	depositFunds(t, svc, userID, "USDT", "100", "tx-1")
	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: userID, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)
	_, err = svc.SettleTradeOpen(context.Background(), SettleOpenInput{
		UserID: userID, OrderID: 7, TradeID: 11, InstrumentID: 2, Asset: "USDT",
		MarginUsed: dec("25"), ActualFee: dec("0.5"), IsMaker: true,
	})
	require.NoError(t, err)
}

func TestSettleTradeCloseWithProfit(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	res, err := svc.SettleTradeClose(context.Background(), SettleCloseInput{
		UserID: 1, OrderID: 8, TradeID: 21, InstrumentID: 2, Asset: "USDT",
		CostBasis: dec("25"), RealizedPnl: dec("5"), Fee: dec("0.5"), IsMaker: false,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	spot := requireBalance(t, backend, spotKey(1, "USDT"), "104", "104", "0")
	assert.True(t, spot.TotalPnl.Equal(dec("5")))
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "0", "0", "0")
	requireBalance(t, backend, platformKey(CodeFeeRevenue, "USDT"), "1", "1", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestSettleTradeCloseWithLoss(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	_, err := svc.SettleTradeClose(context.Background(), SettleCloseInput{
		UserID: 1, OrderID: 8, TradeID: 21, InstrumentID: 2, Asset: "USDT",
		CostBasis: dec("25"), RealizedPnl: dec("-10"), Fee: dec("0.5"), IsMaker: false,
	})
	require.NoError(t, err)

	// 74.5 + (25 - 10 - 0.5) = 89
	spot := requireBalance(t, backend, spotKey(1, "USDT"), "89", "89", "0")
	assert.True(t, spot.TotalPnl.Equal(dec("-10")))
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "0", "0", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestSettleTradeCloseLossBeyondCostBasis(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	_, err := svc.SettleTradeClose(context.Background(), SettleCloseInput{
		UserID: 1, OrderID: 8, TradeID: 21, InstrumentID: 2, Asset: "USDT",
		CostBasis: dec("25"), RealizedPnl: dec("-30"), Fee: dec("0.5"), IsMaker: false,
	})
	require.NoError(t, err)

	// Proceeds clamp at zero, nothing returns to spot and no fee is taken.
	requireBalance(t, backend, spotKey(1, "USDT"), "74.5", "74.5", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "0", "0", "0")
	requireBalance(t, backend, platformKey(CodeFeeRevenue, "USDT"), "0.5", "0.5", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestSettleTradeCloseIsIdempotent(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	in := SettleCloseInput{
		UserID: 1, OrderID: 8, TradeID: 21, InstrumentID: 2, Asset: "USDT",
		CostBasis: dec("25"), RealizedPnl: dec("5"), Fee: dec("0.5"), IsMaker: false,
	}
	_, err := svc.SettleTradeClose(context.Background(), in)
	require.NoError(t, err)

	replay, err := svc.SettleTradeClose(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	requireBalance(t, backend, spotKey(1, "USDT"), "104", "104", "0")
}

func TestReleaseMarginReturnsFundsToSpot(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	res, err := svc.ReleaseMargin(context.Background(), ReleaseMarginInput{
		ReleaseID: "rel-1", UserID: 1, InstrumentID: 2, Asset: "USDT",
		MarginReleased: dec("25"), RealizedPnl: dec("-2"),
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	requireBalance(t, backend, spotKey(1, "USDT"), "97.5", "97.5", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "0", "0", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestReleaseMarginLossBeyondMarginClampsAtZero(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	_, err := svc.ReleaseMargin(context.Background(), ReleaseMarginInput{
		ReleaseID: "rel-1", UserID: 1, InstrumentID: 2, Asset: "USDT",
		MarginReleased: dec("25"), RealizedPnl: dec("-40"),
	})
	require.NoError(t, err)

	requireBalance(t, backend, spotKey(1, "USDT"), "74.5", "74.5", "0")
	requireBalance(t, backend, marginKey(1, 2, "USDT"), "0", "0", "0")
	requireZeroSum(t, svc, []int64{1}, "USDT")
}

func TestReleaseMarginIsIdempotent(t *testing.T) {
	svc, backend := newTestService(t)
	openPosition(t, svc, 1)

	in := ReleaseMarginInput{
		ReleaseID: "rel-1", UserID: 1, InstrumentID: 2, Asset: "USDT",
		MarginReleased: dec("25"), RealizedPnl: dec("2"),
	}
	_, err := svc.ReleaseMargin(context.Background(), in)
	require.NoError(t, err)

	replay, err := svc.ReleaseMargin(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	requireBalance(t, backend, spotKey(1, "USDT"), "101.5", "101.5", "0")
}

func TestBalancesListsAllRowsForOwner(t *testing.T) {
	svc, _ := newTestService(t)
	openPosition(t, svc, 1)

	balances, err := svc.Balances(context.Background(), 1)
	require.NoError(t, err)

	codes := make(map[AccountCode]bool)
	for _, b := range balances {
		assert.EqualValues(t, 1, b.OwnerID)
		codes[b.Code] = true
	}
	assert.True(t, codes[CodeSpot])
	assert.True(t, codes[CodeMargin])
	assert.True(t, codes[CodeFeeExpense])
}

func TestEntriesReturnsMostRecentFirst(t *testing.T) {
	svc, _ := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")
	_, err := svc.FreezeForOrder(context.Background(), FreezeInput{
		UserID: 1, OrderID: 7, Asset: "USDT", Amount: dec("30"),
	})
	require.NoError(t, err)

	entries, err := svc.Entries(context.Background(), 1, "USDT", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ReferenceOrder, entries[0].ReferenceType)
	assert.Equal(t, ReferenceOrder, entries[1].ReferenceType)
}

func TestJournalLegsCarryCounterpartyLinks(t *testing.T) {
	svc, _ := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	entries, err := svc.Entries(context.Background(), 1, "USDT", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	userLeg := entries[0]
	assert.NotEmpty(t, userLeg.CounterpartyID)
	assert.NotEqual(t, userLeg.EntryID, userLeg.CounterpartyID)
}

func TestOutboxCapturesEntryCreatedEvents(t *testing.T) {
	svc, backend := newTestService(t)
	depositFunds(t, svc, 1, "USDT", "100", "tx-1")

	var created int
	for _, rec := range backend.Events() {
		if rec.Topic == TopicLedgerEntryCreated {
			created++
			var payload LedgerEntryCreated
			require.NoError(t, json.Unmarshal(rec.Payload, &payload))
			assert.Equal(t, ReferenceDeposit, payload.ReferenceType)
		}
	}
	assert.Equal(t, 4, created, "one event per journal leg")
}
