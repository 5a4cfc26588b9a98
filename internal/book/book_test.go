package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huginn/internal/money"
)

func resting(id string, qty string, seq uint64) *RestingOrder {
	return &RestingOrder{OrderID: id, Remaining: money.MustParse(qty), Seq: seq}
}

func TestInsertOrdersBidsDescendingAsksAscending(t *testing.T) {
	b := New()
	b.Bids.Insert(money.MustParse("99"), resting("bid-99", "1", 1))
	b.Bids.Insert(money.MustParse("100"), resting("bid-100", "1", 2))
	b.Asks.Insert(money.MustParse("101"), resting("ask-101", "1", 3))
	b.Asks.Insert(money.MustParse("100"), resting("ask-100", "1", 4))

	assert.Equal(t, "100.00000000", b.Bids.Best().Price.String())
	assert.Equal(t, "100.00000000", b.Asks.Best().Price.String())
}

func TestLevelFIFOOrderWithinPrice(t *testing.T) {
	b := New()
	b.Bids.Insert(money.MustParse("100"), resting("first", "1", 1))
	b.Bids.Insert(money.MustParse("100"), resting("second", "1", 2))

	lvl := b.Bids.Best()
	require.Len(t, lvl.Orders, 2)
	assert.Equal(t, "first", lvl.Head().OrderID)
	assert.Equal(t, "2.00000000", lvl.Aggregate.String())
}

func TestReduceOrderRemovesAtZero(t *testing.T) {
	b := New()
	b.Asks.Insert(money.MustParse("100"), resting("o1", "1", 1))
	lvl := b.Asks.Best()

	require.NoError(t, lvl.ReduceOrder("o1", money.MustParse("0.4")))
	assert.Equal(t, "0.60000000", lvl.Aggregate.String())

	require.NoError(t, lvl.ReduceOrder("o1", money.MustParse("0.6")))
	assert.True(t, lvl.isEmpty())
}

func TestRemoveDeletesEmptyLevel(t *testing.T) {
	b := New()
	price := money.MustParse("100")
	b.Asks.Insert(price, resting("o1", "1", 1))

	assert.True(t, b.Asks.Remove(price, "o1"))
	assert.Nil(t, b.Asks.Best())
}

func TestCrossedDetectsBidAtOrAboveAsk(t *testing.T) {
	b := New()
	b.Bids.Insert(money.MustParse("100"), resting("bid", "1", 1))
	assert.False(t, b.Crossed())

	b.Asks.Insert(money.MustParse("100"), resting("ask", "1", 2))
	assert.True(t, b.Crossed(), "bid price equal to ask price is a crossed book")
}

func TestSnapshotRespectsDepth(t *testing.T) {
	b := New()
	for i, p := range []string{"103", "102", "101", "100"} {
		b.Bids.Insert(money.MustParse(p), resting("b", "1", uint64(i)))
	}

	bids, _ := b.Snapshot(2)
	require.Len(t, bids, 2)
	assert.Equal(t, "103.00000000", bids[0].Price.String())
	assert.Equal(t, "102.00000000", bids[1].Price.String())
}
