package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/ledger"
	"huginn/internal/money"
)

var btcUSDT = common.Pair{Base: "BTC", Quote: "USDT"}

func newOrder(id, userID string, side common.Side, qty, limitPrice, locked string) *common.Order {
	return &common.Order{
		OrderID:          id,
		UserID:           userID,
		Pair:             btcUSDT,
		Side:             side,
		Type:             common.Limit,
		LimitPrice:       money.MustParse(limitPrice),
		OriginalQuantity: money.MustParse(qty),
		FilledQuantity:   money.Zero(),
		Status:           common.Open,
		LockedRemaining:  money.MustParse(locked),
	}
}

func TestExecuteTransfersNotionalAndFee(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Credit("seller", "BTC", money.MustParse("1.0")))
	require.NoError(t, l.Lock("seller", "BTC", money.MustParse("0.5")))
	// The buyer's lock covers the notional only; the 25 taker fee is the
	// shortfall settled from available funds, so 25025 must be on hand.
	require.NoError(t, l.Credit("buyer", "USDT", money.MustParse("25025")))
	require.NoError(t, l.Lock("buyer", "USDT", money.MustParse("25000")))

	c := New(l, nil, money.MustParse("0.001"))

	maker := newOrder("sell-1", "seller", common.Sell, "0.5", "50000", "0.5")
	taker := newOrder("buy-1", "buyer", common.Buy, "0.5", "50000", "25000")

	trade, err := c.Execute(context.Background(), btcUSDT, taker, maker, money.MustParse("0.5"), money.MustParse("50000"))
	require.NoError(t, err)
	assert.Equal(t, "50000.00000000", trade.Price.String())
	assert.Equal(t, "0.50000000", trade.Quantity.String())

	sellerUSDT := l.Snapshot("seller", "USDT")
	assert.Equal(t, "24975.00000000", sellerUSDT.Total.String())

	buyerBTC := l.Snapshot("buyer", "BTC")
	assert.Equal(t, "0.50000000", buyerBTC.Total.String())

	buyerUSDT := l.Snapshot("buyer", "USDT")
	assert.True(t, buyerUSDT.Total.IsZero(), "25000 notional + 25 taker fee spent")
	assert.True(t, buyerUSDT.Locked.IsZero())

	fees := l.Snapshot(ledger.FeeAccountUserID, "USDT")
	assert.Equal(t, "50.00000000", fees.Total.String(), "maker fee 25 + taker fee 25")

	assert.Equal(t, "0.50000000", maker.FilledQuantity.String())
	assert.Equal(t, "0.50000000", taker.FilledQuantity.String())
}

func TestExecuteRollsBackOnSellerLockShortage(t *testing.T) {
	l := ledger.New()
	// Seller's lock is understated relative to qty, forcing SettleLocked
	// to fail partway through Execute after the buyer leg already ran.
	require.NoError(t, l.Credit("seller", "BTC", money.MustParse("1.0")))
	require.NoError(t, l.Lock("seller", "BTC", money.MustParse("0.1")))
	require.NoError(t, l.Credit("buyer", "USDT", money.MustParse("25025")))
	require.NoError(t, l.Lock("buyer", "USDT", money.MustParse("25000")))

	c := New(l, nil, money.MustParse("0.001"))

	maker := newOrder("sell-1", "seller", common.Sell, "0.5", "50000", "0.1")
	taker := newOrder("buy-1", "buyer", common.Buy, "0.5", "50000", "25000")

	before := l.Snapshot("buyer", "USDT")

	_, err := c.Execute(context.Background(), btcUSDT, taker, maker, money.MustParse("0.5"), money.MustParse("50000"))
	require.Error(t, err)

	after := l.Snapshot("buyer", "USDT")
	assert.Equal(t, before.Total.String(), after.Total.String(), "buyer leg must be undone when the seller leg fails")
	assert.Equal(t, before.Locked.String(), after.Locked.String())
}

func TestExecuteFailsWhenFeeShortfallUnfunded(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Credit("seller", "BTC", money.MustParse("1.0")))
	require.NoError(t, l.Lock("seller", "BTC", money.MustParse("0.5")))
	// Exactly the notional is funded and locked; nothing is available to
	// cover the taker fee.
	require.NoError(t, l.Credit("buyer", "USDT", money.MustParse("25000")))
	require.NoError(t, l.Lock("buyer", "USDT", money.MustParse("25000")))

	c := New(l, nil, money.MustParse("0.001"))

	maker := newOrder("sell-1", "seller", common.Sell, "0.5", "50000", "0.5")
	taker := newOrder("buy-1", "buyer", common.Buy, "0.5", "50000", "25000")

	_, err := c.Execute(context.Background(), btcUSDT, taker, maker, money.MustParse("0.5"), money.MustParse("50000"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrInsufficientBalance))

	assert.True(t, taker.FilledQuantity.IsZero())
	assert.True(t, maker.FilledQuantity.IsZero())
	buyerUSDT := l.Snapshot("buyer", "USDT")
	assert.Equal(t, "25000.00000000", buyerUSDT.Total.String())
	assert.Equal(t, "25000.00000000", buyerUSDT.Locked.String())
}
