package engine

import (
	"context"
	"fmt"
	"time"

	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/money"
	"huginn/internal/publish"
)

// CancelOrder resolves the owning pair, enqueues a cancel operation so
// it linearizes with matching, and releases the order's remaining
// lock. Cancelling another user's resting order returns NotFound; cancel
// of an order already in a terminal state returns NotCancellable and has
// no effect, whichever user asks (ownership is only checked for orders
// still on the book).
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID string) (*common.Order, error) {
	pair, ok := e.pairOf(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", huginnerr.ErrNotFound, orderID)
	}
	w, err := e.workerFor(pair)
	if err != nil {
		return nil, err
	}

	var result *common.Order
	var cancelErr error
	err = w.submit(ctx, opCancel, func() {
		result, cancelErr = e.cancel(ctx, w, userID, orderID)
	})
	if err != nil {
		return nil, err
	}
	return result, cancelErr
}

func (e *Engine) cancel(ctx context.Context, w *pairWorker, userID, orderID string) (*common.Order, error) {
	o, ok := w.resting[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", huginnerr.ErrNotCancellable, orderID)
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", huginnerr.ErrNotFound, orderID)
	}
	if o.Status != common.Open && o.Status != common.PartiallyFilled {
		return nil, fmt.Errorf("%w: order %s", huginnerr.ErrNotCancellable, orderID)
	}

	w.book.SideFor(o.Side).Remove(o.LimitPrice, orderID)
	delete(w.resting, orderID)

	asset := w.pair.Base
	if o.Side == common.Buy {
		asset = w.pair.Quote
	}
	if err := e.ledger.Unlock(o.UserID, asset, o.LockedRemaining); err != nil {
		return nil, err
	}
	o.LockedRemaining = money.Zero()

	o.Status = common.Cancelled
	now := time.Now()
	o.CancelledAt = &now

	if e.store != nil {
		if err := e.store.SaveOrder(ctx, o); err != nil {
			e.log.Error().Err(err).Str("order_id", orderID).Msg("failed to persist cancellation")
		}
	}

	if e.hub != nil {
		bids, asks := w.book.Snapshot(e.snapshotDepth())
		e.hub.PublishBookUpdate(publish.BookUpdateEvent{
			Pair: w.pair,
			Bids: toLevelViews(bids),
			Asks: toLevelViews(asks),
		})
	}

	return o, nil
}
