package engine_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huginn/internal/common"
	"huginn/internal/engine"
	"huginn/internal/huginnerr"
	"huginn/internal/ledger"
	"huginn/internal/money"
	"huginn/internal/settlement"
)

// --- Setup & Helpers --------------------------------------------------------
//
// Each scenario wires a full Engine against a real ledger and
// settlement coordinator so assertions can check balances, not just
// order status.

var btcUSDT = common.Pair{Base: "BTC", Quote: "USDT"}

func newTestEngine(t *testing.T, algo engine.MatchAlgorithm) (*engine.Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	feeRate := money.MustParse("0.001")
	settler := settlement.New(l, nil, feeRate)
	cfg := engine.Config{
		SupportedPairs: []common.Pair{btcUSDT},
		Algorithm:      algo,
		SnapshotDepth:  20,
	}
	eng := engine.New(cfg, l, nil, nil, settler, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return eng, l
}

func submit(t *testing.T, eng *engine.Engine, req engine.SubmitRequest) *common.Order {
	t.Helper()
	order, err := eng.SubmitOrder(context.Background(), req)
	require.NotNil(t, order, "order must be returned even on a business-rule error (e.g. no_liquidity)")
	if err != nil {
		t.Logf("submit returned error (may be expected): %v", err)
	}
	return order
}

func fund(t *testing.T, l *ledger.Ledger, userID, asset string, amount string) {
	t.Helper()
	require.NoError(t, l.Credit(userID, asset, money.MustParse(amount)))
}

// --- Scenario 1: exact match, FIFO -------------------------------------------

func TestExactMatchFIFO(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "1.0")
	// B pays the 25000 notional from the admission lock plus the 25
	// taker fee from available funds, so 25025 must be on hand.
	fund(t, l, "B", "USDT", "25025")

	sell := submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})
	assert.Equal(t, common.Open, sell.Status)

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})

	assert.Equal(t, common.Filled, buy.Status)

	aUSDT := l.Snapshot("A", "USDT")
	assert.Equal(t, "24975.00000000", aUSDT.Total.String())

	bBTC := l.Snapshot("B", "BTC")
	assert.Equal(t, "0.50000000", bBTC.Total.String())

	bUSDT := l.Snapshot("B", "USDT")
	assert.Equal(t, "0.00000000", bUSDT.Total.String(), "25000 notional + 25 taker fee spent")
	assert.Equal(t, "0.00000000", bUSDT.Locked.String())

	fees := l.Snapshot(ledger.FeeAccountUserID, "USDT")
	assert.Equal(t, "50.00000000", fees.Total.String(), "maker fee 25 + taker fee 25 accrue to the house account")

	_, err := eng.CancelOrder(context.Background(), "B", buy.OrderID)
	assert.ErrorIs(t, err, huginnerr.ErrNotCancellable, "a filled order is known but terminal")
}

// A taker whose fill cannot settle (here: nothing available to cover the
// taker fee) is never rested — it is rejected outright and its lock
// refunded, leaving the maker untouched and the book uncrossed.
func TestFeeShortfallRejectsTakerInsteadOfResting(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "1.0")
	fund(t, l, "B", "USDT", "25000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})

	buy, err := eng.SubmitOrder(context.Background(), engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})
	require.Error(t, err)
	require.NotNil(t, buy)
	assert.Equal(t, common.Rejected, buy.Status)

	bUSDT := l.Snapshot("B", "USDT")
	assert.Equal(t, "25000.00000000", bUSDT.Total.String())
	assert.Equal(t, "0.00000000", bUSDT.Locked.String(), "the admission lock is refunded on rejection")

	bids, asks, err := eng.Snapshot(context.Background(), btcUSDT, 10)
	require.NoError(t, err)
	assert.Empty(t, bids, "the failed taker must not rest and cross the book")
	require.Len(t, asks, 1)
	assert.Equal(t, "0.50000000", asks[0].AggregateRemaining.String(), "the maker is untouched")
}

// --- Scenario 2: partial fill then rest --------------------------------------

func TestPartialFillThenRest(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "2.0")
	fund(t, l, "B", "USDT", "15015")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("2.0"), LimitPrice: money.MustParse("50000"),
	})

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.3"), LimitPrice: money.MustParse("50000"),
	})
	assert.Equal(t, common.Filled, buy.Status)

	bids, asks, err := eng.Snapshot(context.Background(), btcUSDT, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.Equal(t, "1.70000000", asks[0].AggregateRemaining.String())
}

// --- Scenario 3: price priority ----------------------------------------------

func TestPricePriority(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "0.1")
	fund(t, l, "B", "BTC", "0.1")
	fund(t, l, "C", "USDT", "20000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.1"), LimitPrice: money.MustParse("49000"),
	})
	submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.1"), LimitPrice: money.MustParse("50000"),
	})

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "C", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.2"), LimitPrice: money.MustParse("51000"),
	})

	assert.Equal(t, common.Filled, buy.Status)
	cBTC := l.Snapshot("C", "BTC")
	assert.Equal(t, "0.20000000", cBTC.Total.String())

	// C locked 0.2*51000 = 10200 but filled for 9900 notional + 9.90 in
	// fees; the surplus lock is released the moment the order terminates.
	cUSDT := l.Snapshot("C", "USDT")
	assert.Equal(t, "0.00000000", cUSDT.Locked.String())
	assert.Equal(t, "10090.10000000", cUSDT.Total.String())
}

// --- Scenario 4: pro-rata allocation ------------------------------------------

func TestProRataAllocation(t *testing.T) {
	eng, l := newTestEngine(t, engine.ProRata)
	fund(t, l, "S1", "BTC", "0.5")
	fund(t, l, "S2", "BTC", "1.0")
	fund(t, l, "S3", "BTC", "0.5")
	fund(t, l, "B", "USDT", "50050")

	submit(t, eng, engine.SubmitRequest{
		UserID: "S1", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})
	submit(t, eng, engine.SubmitRequest{
		UserID: "S2", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("50000"),
	})
	submit(t, eng, engine.SubmitRequest{
		UserID: "S3", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("50000"),
	})
	assert.Equal(t, common.Filled, buy.Status)

	_, asks, err := eng.Snapshot(context.Background(), btcUSDT, 10)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.Equal(t, "1.00000000", asks[0].AggregateRemaining.String(), "0.25+0.50+0.25 remaining across S1/S2/S3")
	assert.Equal(t, 3, asks[0].OrderCount)
}

// --- Scenario 5: cancellation releases funds ----------------------------------

func TestCancellationReleasesFunds(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "B", "USDT", "25000")

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})
	assert.Equal(t, common.Open, buy.Status)

	before := l.Snapshot("B", "USDT")
	assert.Equal(t, "25000.00000000", before.Locked.String())

	cancelled, err := eng.CancelOrder(context.Background(), "B", buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)

	after := l.Snapshot("B", "USDT")
	assert.Equal(t, "0.00000000", after.Locked.String())
	assert.Equal(t, "25000.00000000", after.Total.String())
}

// A partial fill consumes part of the admission lock at the maker's
// price; cancelling afterwards must release exactly the remaining locked
// amount, not a recomputation of remaining*limit_price.
func TestCancelAfterPartialFillReleasesExactRemainder(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "0.3")
	fund(t, l, "B", "USDT", "50000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.3"), LimitPrice: money.MustParse("49000"),
	})

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("50000"),
	})
	assert.Equal(t, common.PartiallyFilled, buy.Status)

	// 0.3 filled at 49000: 14700 notional + 14.70 taker fee, all drawn
	// from the 50000 lock.
	mid := l.Snapshot("B", "USDT")
	assert.Equal(t, "35285.30000000", mid.Locked.String())

	cancelled, err := eng.CancelOrder(context.Background(), "B", buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)

	after := l.Snapshot("B", "USDT")
	assert.Equal(t, "0.00000000", after.Locked.String())
	assert.Equal(t, "35285.30000000", after.Total.String())
}

func TestCancelByAnotherUserIsNotFound(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "B", "USDT", "25000")

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})

	_, err := eng.CancelOrder(context.Background(), "mallory", buy.OrderID)
	require.Error(t, err)
	assert.ErrorIs(t, err, huginnerr.ErrNotFound)

	still := l.Snapshot("B", "USDT")
	assert.Equal(t, "25000.00000000", still.Locked.String(), "the order and its lock are untouched")
}

func TestCancelOfCancelledOrderIsNotCancellable(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "B", "USDT", "25000")

	buy := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("0.5"), LimitPrice: money.MustParse("50000"),
	})
	_, err := eng.CancelOrder(context.Background(), "B", buy.OrderID)
	require.NoError(t, err)

	_, err = eng.CancelOrder(context.Background(), "B", buy.OrderID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, huginnerr.ErrNotCancellable)
}

// --- Scenario 6: market order against a thin book -----------------------------

func TestMarketOrderThinBook(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "0.1")
	fund(t, l, "B", "USDT", "20000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("0.1"), LimitPrice: money.MustParse("49000"),
	})

	taker := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Market,
		Quantity: money.MustParse("0.3"), QuoteBudget: money.MustParse("20000"),
	})

	// This engine's documented choice (DESIGN.md) is Filled once any
	// quantity was consumed, rather than PartiallyFilled.
	assert.Equal(t, common.Filled, taker.Status)
	assert.Equal(t, "0.10000000", taker.FilledQuantity.String())

	bBTC := l.Snapshot("B", "BTC")
	assert.Equal(t, "0.10000000", bBTC.Total.String())
}

func TestMarketBuyNeverSpendsBeyondBudget(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "1.0")
	fund(t, l, "B", "USDT", "30000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("50000"),
	})

	taker := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Market,
		Quantity: money.MustParse("1.0"), QuoteBudget: money.MustParse("10000"),
	})

	// 10000 of budget buys exactly 0.2 at 50000; the walk stops there
	// even though liquidity and the requested quantity both remain.
	assert.Equal(t, common.Filled, taker.Status)
	assert.Equal(t, "0.20000000", taker.FilledQuantity.String())

	bUSDT := l.Snapshot("B", "USDT")
	assert.Equal(t, "19990.00000000", bUSDT.Total.String(), "10000 notional + 10 taker fee spent")
	assert.Equal(t, "0.00000000", bUSDT.Locked.String())

	_, asks, err := eng.Snapshot(context.Background(), btcUSDT, 10)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.Equal(t, "0.80000000", asks[0].AggregateRemaining.String())
}

func TestMarketOrderEmptyBookIsRejected(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "B", "USDT", "20000")

	taker := submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Market,
		Quantity: money.MustParse("0.3"), QuoteBudget: money.MustParse("20000"),
	})
	assert.Equal(t, common.Rejected, taker.Status)

	after := l.Snapshot("B", "USDT")
	assert.Equal(t, "0.00000000", after.Locked.String(), "a rejected market order releases its entire quote-budget lock")
}

// --- Invariant spot-checks ----------------------------------------------------

func TestBookNeverCrossed(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "BTC", "1.0")
	fund(t, l, "B", "USDT", "60000")

	submit(t, eng, engine.SubmitRequest{
		UserID: "A", Pair: btcUSDT, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("50000"),
	})
	submit(t, eng, engine.SubmitRequest{
		UserID: "B", Pair: btcUSDT, Side: common.Buy, Type: common.Limit,
		Quantity: money.MustParse("1.0"), LimitPrice: money.MustParse("60000"),
	})

	bids, asks, err := eng.Snapshot(context.Background(), btcUSDT, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestRejectsUnsupportedPair(t *testing.T) {
	eng, l := newTestEngine(t, engine.FIFO)
	fund(t, l, "A", "ETH", "10")

	_, err := eng.SubmitOrder(context.Background(), engine.SubmitRequest{
		UserID: "A", Pair: common.Pair{Base: "ETH", Quote: "BTC"}, Side: common.Sell, Type: common.Limit,
		Quantity: money.MustParse("1"), LimitPrice: money.MustParse("1"),
	})
	assert.Error(t, err)
}
