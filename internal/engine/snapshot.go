package engine

import (
	"context"
	"fmt"

	"huginn/internal/book"
	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/money"
	"huginn/internal/storage"
)

// Snapshot implements spec.md §4.8: serviced as a message into the
// pair's worker so the returned view is linearized with every other
// operation on that pair, rather than racing the matching goroutine.
func (e *Engine) Snapshot(ctx context.Context, pair common.Pair, depth int) (bids, asks []book.LevelView, err error) {
	w, werr := e.workerFor(pair)
	if werr != nil {
		return nil, nil, werr
	}
	if depth <= 0 {
		depth = e.snapshotDepth()
	}

	submitErr := w.submit(ctx, opSnapshot, func() {
		bids, asks = w.book.Snapshot(depth)
	})
	if submitErr != nil {
		return nil, nil, submitErr
	}
	return bids, asks, nil
}

// GetOrder implements spec.md §6's get_order. Another user's order is
// indistinguishable from an unknown one.
func (e *Engine) GetOrder(ctx context.Context, userID, orderID string) (*common.Order, error) {
	if e.store == nil {
		return nil, fmt.Errorf("%w: no durable store configured", huginnerr.ErrNotFound)
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", huginnerr.ErrNotFound, err)
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", huginnerr.ErrNotFound, orderID)
	}
	return o, nil
}

// ListOrders implements spec.md §6's list_orders.
func (e *Engine) ListOrders(ctx context.Context, f storage.OrderFilter) ([]*common.Order, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListOrders(ctx, f)
}

// ListRecentTrades implements spec.md §6's list_recent_trades.
func (e *Engine) ListRecentTrades(ctx context.Context, pair common.Pair, limit int) ([]*common.Trade, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListRecentTrades(ctx, pair, limit)
}

// CreditDeposit implements spec.md §6's credit_deposit, invoked by the
// (out-of-scope) wallet subsystem.
func (e *Engine) CreditDeposit(userID, asset string, amount money.Decimal) error {
	return e.ledger.Credit(userID, asset, amount)
}

// DebitWithdrawal implements spec.md §6's debit_withdrawal: the wallet
// subsystem locks then debits so a withdrawal never races a concurrent
// fill against the same row.
func (e *Engine) DebitWithdrawal(userID, asset string, amount money.Decimal) error {
	if err := e.ledger.Lock(userID, asset, amount); err != nil {
		return err
	}
	if err := e.ledger.SettleLocked(userID, asset, amount); err != nil {
		return err
	}
	return nil
}
