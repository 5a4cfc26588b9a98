// Package book implements the per-pair, per-side price-level order
// book: each side is a btree.BTreeG[*PriceLevel] ordered best-first,
// and each price level holds a FIFO queue of resting orders.
//
// The book holds only a compact representation — price, and per price a
// FIFO queue of {order_id, remaining} — never a pointer into the durable
// order record: order status and fee accrual live in the durable store
// (or, in this in-memory engine, in each pair worker's map of resting
// orders), not here.
package book

import (
	"github.com/tidwall/btree"

	"huginn/internal/common"
	"huginn/internal/money"
)

// RestingOrder is the book's compact view of an order resting at a price
// level: just enough to drive matching and FIFO arrival order.
type RestingOrder struct {
	OrderID   string
	Remaining money.Decimal
	Seq       uint64
}

// PriceLevel is one side's FIFO queue of resting orders at a single
// price, plus the aggregate remaining quantity.
type PriceLevel struct {
	Price     money.Decimal
	Orders    []*RestingOrder
	Aggregate money.Decimal
}

func newLevel(price money.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, Aggregate: money.Zero()}
}

func (lvl *PriceLevel) append(o *RestingOrder) {
	lvl.Orders = append(lvl.Orders, o)
	agg, err := lvl.Aggregate.Add(o.Remaining)
	if err == nil {
		lvl.Aggregate = agg
	}
}

// removeAt drops the order at index i and rebuilds the aggregate. Levels
// are typically short (resting orders at one price), so a linear rebuild
// is simpler and fast enough versus tracking a running subtraction that
// could drift under truncation.
func (lvl *PriceLevel) removeAt(i int) {
	lvl.Orders = append(lvl.Orders[:i], lvl.Orders[i+1:]...)
	lvl.recomputeAggregate()
}

func (lvl *PriceLevel) recomputeAggregate() {
	agg := money.Zero()
	for _, o := range lvl.Orders {
		if sum, err := agg.Add(o.Remaining); err == nil {
			agg = sum
		}
	}
	lvl.Aggregate = agg
}

func (lvl *PriceLevel) isEmpty() bool { return len(lvl.Orders) == 0 }

// Head returns the level's first (earliest-arrival) resting order, or
// nil if the level is empty.
func (lvl *PriceLevel) Head() *RestingOrder {
	if len(lvl.Orders) == 0 {
		return nil
	}
	return lvl.Orders[0]
}

// ReduceOrder consumes qty from orderID's remaining quantity, removing
// the order from the level if it reaches zero. qty must not exceed the
// order's current remaining quantity — callers (the matching walk and
// the pro-rata allocator) are responsible for clamping.
func (lvl *PriceLevel) ReduceOrder(orderID string, qty money.Decimal) error {
	for i, o := range lvl.Orders {
		if o.OrderID != orderID {
			continue
		}
		remaining, err := o.Remaining.Sub(qty)
		if err != nil {
			return err
		}
		o.Remaining = remaining
		if o.Remaining.IsZero() {
			lvl.removeAt(i)
		} else {
			lvl.recomputeAggregate()
		}
		return nil
	}
	return nil
}

type levels = btree.BTreeG[*PriceLevel]

// Side is one side (bids or asks) of one pair's book.
type Side struct {
	tree *levels
	side common.Side
}

func newSide(side common.Side) *Side {
	var less func(a, b *PriceLevel) bool
	if side == common.Buy {
		// Bids sorted descending: highest price first.
		less = func(a, b *PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	} else {
		// Asks sorted ascending: lowest price first.
		less = func(a, b *PriceLevel) bool { return a.Price.LessThan(b.Price) }
	}
	return &Side{tree: btree.NewBTreeG(less), side: side}
}

// Best returns the best (first, per the side's ordering) price level, or
// nil if the side is empty.
func (s *Side) Best() *PriceLevel {
	lvl, ok := s.tree.Min()
	if !ok {
		return nil
	}
	return lvl
}

// Insert places order at its price level, at the tail for FIFO arrival
// order within the level.
func (s *Side) Insert(price money.Decimal, o *RestingOrder) {
	lvl, ok := s.tree.Get(&PriceLevel{Price: price})
	if !ok {
		lvl = newLevel(price)
		lvl.append(o)
		s.tree.Set(lvl)
		return
	}
	lvl.append(o)
}

// Remove drops orderID from the book, wherever it rests, by scanning the
// level the caller names. Callers track an order's current price so this
// stays O(level size) rather than a full-book scan.
func (s *Side) Remove(price money.Decimal, orderID string) bool {
	lvl, ok := s.tree.Get(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	for i, o := range lvl.Orders {
		if o.OrderID == orderID {
			lvl.removeAt(i)
			if lvl.isEmpty() {
				s.tree.Delete(lvl)
			}
			return true
		}
	}
	return false
}

// DeleteIfEmpty removes a price level once it has no resting orders left
// (e.g. after a matching sweep has consumed every order at that level).
func (s *Side) DeleteIfEmpty(lvl *PriceLevel) {
	if lvl.isEmpty() {
		s.tree.Delete(lvl)
	}
}

// Levels returns up to depth levels in best-first order, for book
// snapshots.
func (s *Side) Levels(depth int) []*PriceLevel {
	if depth <= 0 {
		return nil
	}
	out := make([]*PriceLevel, 0, depth)
	s.tree.Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return len(out) < depth
	})
	return out
}

// Book holds both sides of one trading pair's order book.
type Book struct {
	Bids *Side
	Asks *Side
}

// New creates an empty book for one pair.
func New() *Book {
	return &Book{
		Bids: newSide(common.Buy),
		Asks: newSide(common.Sell),
	}
}

// SideFor returns the resting side for a resting order of the given
// side: buys rest on Bids, sells rest on Asks.
func (b *Book) SideFor(side common.Side) *Side {
	if side == common.Buy {
		return b.Bids
	}
	return b.Asks
}

// OppositeSideFor returns the side an incoming order of the given side
// matches against.
func (b *Book) OppositeSideFor(side common.Side) *Side {
	if side == common.Buy {
		return b.Asks
	}
	return b.Bids
}

// Crossed reports whether the book is crossed: best bid >= best ask.
// After every committed step this must be false.
func (b *Book) Crossed() bool {
	bid := b.Bids.Best()
	ask := b.Asks.Best()
	if bid == nil || ask == nil {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// LevelView is the read-only, depth-limited view of a price level
// returned by a book snapshot.
type LevelView struct {
	Price              money.Decimal `json:"price"`
	AggregateRemaining money.Decimal `json:"aggregate_remaining_quantity"`
	OrderCount         int           `json:"order_count"`
}

// Snapshot returns up to depth levels per side.
func (b *Book) Snapshot(depth int) (bids, asks []LevelView) {
	for _, lvl := range b.Bids.Levels(depth) {
		bids = append(bids, LevelView{Price: lvl.Price, AggregateRemaining: lvl.Aggregate, OrderCount: len(lvl.Orders)})
	}
	for _, lvl := range b.Asks.Levels(depth) {
		asks = append(asks, LevelView{Price: lvl.Price, AggregateRemaining: lvl.Aggregate, OrderCount: len(lvl.Orders)})
	}
	return bids, asks
}
