package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"huginn/internal/book"
	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/money"
)

// admit runs entirely on the pair's worker goroutine: it is the single
// place an order's book-facing side effects happen, per spec.md §4.4's
// "holding the per-pair book exclusively during processing". The
// returned error is the settlement failure that aborted the walk, if
// any; the incoming order has already been finalized around it.
func (e *Engine) admit(ctx context.Context, w *pairWorker, incoming *common.Order) error {
	trades, settleErr := e.walk(ctx, w, incoming)
	e.finalizeIncoming(w, incoming, settleErr)
	e.persistAndPublish(ctx, w, incoming, trades)
	return settleErr
}

// walk performs spec.md §4.4's matching walk for both market and limit
// orders, invoking settlement per consumed resting order and returning
// every produced trade in execution order. A settlement failure aborts
// the walk and is returned alongside whatever trades committed before
// it: the failed fill fails the whole matching step for the taker, but
// trades already applied stand.
func (e *Engine) walk(ctx context.Context, w *pairWorker, incoming *common.Order) ([]*common.Trade, error) {
	opposite := w.book.OppositeSideFor(incoming.Side)
	var trades []*common.Trade

	for {
		if w.isHalted() {
			// An earlier settlement in this same walk hit ErrInternal;
			// the pair is done accepting further matching for good, per
			// spec.md §7.
			return trades, w.haltErr
		}
		remaining := incoming.RemainingQuantity()
		if remaining.IsZero() {
			break
		}
		lvl := opposite.Best()
		if lvl == nil {
			break
		}
		if incoming.Type == common.Limit && !crossable(incoming, lvl.Price) {
			break
		}

		var produced []*common.Trade
		var err error
		if e.cfg.Algorithm == ProRata && incoming.Type == common.Limit {
			produced, err = e.matchLevelProRata(w, incoming, lvl)
		} else {
			produced, err = e.matchLevelFIFO(w, incoming, lvl, remaining)
		}
		trades = append(trades, produced...)
		opposite.DeleteIfEmpty(lvl)

		if err != nil {
			return trades, err
		}
		if len(produced) == 0 {
			// No progress was possible (e.g. every resting order at the
			// level is now gone) — avoid spinning.
			break
		}
	}

	return trades, nil
}

// crossable reports whether incoming (a limit order) can match against a
// resting level at restingPrice, per spec.md §4.4 (`bid.price >=
// ask.price`).
func crossable(incoming *common.Order, restingPrice money.Decimal) bool {
	if incoming.Side == common.Buy {
		return incoming.LimitPrice.GreaterThanOrEqual(restingPrice)
	}
	return restingPrice.GreaterThanOrEqual(incoming.LimitPrice)
}

// matchLevelFIFO consumes the level head-first until either the
// incoming order or the level is exhausted, per spec.md §4.4's FIFO
// rule. Used for every market order and for limit orders under the
// FIFO algorithm.
func (e *Engine) matchLevelFIFO(w *pairWorker, incoming *common.Order, lvl *book.PriceLevel, remaining money.Decimal) ([]*common.Trade, error) {
	var trades []*common.Trade
	for {
		if remaining.IsZero() {
			break
		}
		head := lvl.Head()
		if head == nil {
			break
		}
		maker := w.resting[head.OrderID]
		if maker == nil {
			// Resting order vanished from the index without being removed
			// from the book (should not happen); drop it defensively.
			lvl.ReduceOrder(head.OrderID, head.Remaining)
			continue
		}

		qty := money.Min(remaining, head.Remaining)
		if incoming.Type == common.Market && incoming.Side == common.Buy {
			// A market buy's quote budget bounds its notional: never
			// consume more than the remaining locked budget can pay for
			// at this level's price. The fee rides on top via the
			// settlement shortfall, same as every other buy.
			affordable, err := incoming.LockedRemaining.Div(lvl.Price)
			if err != nil || !affordable.IsPositive() {
				break
			}
			qty = money.Min(qty, affordable)
		}
		trade, err := e.settler.Execute(context.Background(), w.pair, incoming, maker, qty, lvl.Price)
		if err != nil {
			if errors.Is(err, huginnerr.ErrInternal) {
				log.Error().Err(err).Str("pair", w.pair.String()).Str("taker", incoming.OrderID).Str("maker", maker.OrderID).Msg("internal invariant violation; halting pair")
				w.halt(err)
			} else {
				log.Error().Err(err).Str("pair", w.pair.String()).Str("taker", incoming.OrderID).Str("maker", maker.OrderID).Msg("settlement failed")
			}
			return trades, err
		}
		trades = append(trades, trade)

		if err := lvl.ReduceOrder(head.OrderID, qty); err != nil {
			log.Error().Err(err).Msg("book aggregate corruption on reduce")
		}
		if maker.RemainingQuantity().IsZero() {
			maker.Status = common.Filled
			now := time.Now()
			maker.FilledAt = &now
			delete(w.resting, maker.OrderID)
		} else {
			maker.Status = common.PartiallyFilled
		}
		if e.store != nil {
			_ = e.store.SaveOrder(context.Background(), maker)
		}

		remaining = incoming.RemainingQuantity()
	}
	return trades, nil
}
