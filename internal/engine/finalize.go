package engine

import (
	"context"
	"time"

	"huginn/internal/book"
	"huginn/internal/common"
	"huginn/internal/money"
	"huginn/internal/publish"
)

// finalizeIncoming determines the incoming order's terminal or resting
// status after its matching walk (spec.md §4.4's closing paragraph and
// §4.10's state machine), releases any leftover lock on a terminal
// outcome, and rests the remainder in the book otherwise. A non-nil
// settleErr means a fill could not be applied: the taker is never
// rested in that case — it is rejected outright when nothing filled, or
// cancelled with the remainder refunded when earlier fills stand.
func (e *Engine) finalizeIncoming(w *pairWorker, incoming *common.Order, settleErr error) {
	remaining := incoming.RemainingQuantity()

	switch {
	case settleErr != nil && incoming.FilledQuantity.IsPositive():
		incoming.Status = common.Cancelled
		now := time.Now()
		incoming.CancelledAt = &now
	case settleErr != nil:
		incoming.Status = common.Rejected
	case remaining.IsZero():
		incoming.Status = common.Filled
	case incoming.Type == common.Market:
		if incoming.FilledQuantity.IsPositive() {
			incoming.Status = common.Filled
		} else {
			incoming.Status = common.Rejected
		}
	case incoming.FilledQuantity.IsPositive():
		incoming.Status = common.PartiallyFilled
	default:
		incoming.Status = common.Open
	}

	if incoming.Status.IsTerminal() {
		e.releaseResidualLock(w, incoming)
		return
	}

	// Only limit orders ever reach here (market orders are never rested,
	// per spec.md §4.4).
	w.book.SideFor(incoming.Side).Insert(incoming.LimitPrice, &book.RestingOrder{
		OrderID:   incoming.OrderID,
		Remaining: remaining,
		Seq:       incoming.Seq,
	})
	w.resting[incoming.OrderID] = incoming
}

// releaseResidualLock unlocks whatever is left of an order's
// LockedRemaining once it reaches a terminal state. A buy's lock is
// taken at its limit price (or, for a market buy, its quote budget);
// fills may consume it at a better price, leaving a surplus that must
// be returned the moment no further fill can occur, per spec.md §9's
// design note on residual locked amounts.
func (e *Engine) releaseResidualLock(w *pairWorker, o *common.Order) {
	if o.LockedRemaining.IsZero() {
		return
	}
	asset := w.pair.Base
	if o.Side == common.Buy {
		asset = w.pair.Quote
	}
	if err := e.ledger.Unlock(o.UserID, asset, o.LockedRemaining); err != nil {
		e.log.Error().Err(err).Str("order_id", o.OrderID).Msg("failed to release residual lock")
		return
	}
	o.LockedRemaining = money.Zero()
}

// persistAndPublish writes the incoming order's final state and emits
// the per-trade and book-update events spec.md §4.9 requires, in
// execution order.
func (e *Engine) persistAndPublish(ctx context.Context, w *pairWorker, incoming *common.Order, trades []*common.Trade) {
	if incoming.Status == common.Filled && incoming.FilledAt == nil {
		now := time.Now()
		incoming.FilledAt = &now
	}

	if e.store != nil {
		if err := e.store.SaveOrder(ctx, incoming); err != nil {
			e.log.Error().Err(err).Str("order_id", incoming.OrderID).Msg("failed to persist order")
		}
	}

	if e.hub == nil {
		return
	}
	for _, t := range trades {
		e.hub.PublishTrade(publish.TradeEvent{
			TradeID:      t.TradeID,
			Pair:         t.Pair,
			Price:        t.Price,
			Quantity:     t.Quantity,
			MakerFee:     t.MakerFee,
			TakerFee:     t.TakerFee,
			ExecutedAt:   t.ExecutedAt,
			MakerOrderID: t.MakerOrder.OrderID,
			TakerOrderID: t.TakerOrder.OrderID,
		})
	}
	bids, asks := w.book.Snapshot(e.snapshotDepth())
	e.hub.PublishBookUpdate(publish.BookUpdateEvent{
		Pair: w.pair,
		Bids: toLevelViews(bids),
		Asks: toLevelViews(asks),
	})
}

func toLevelViews(levels []book.LevelView) []publish.LevelView {
	out := make([]publish.LevelView, len(levels))
	for i, lvl := range levels {
		out[i] = publish.LevelView{Price: lvl.Price, AggregateRemaining: lvl.AggregateRemaining, OrderCount: lvl.OrderCount}
	}
	return out
}
