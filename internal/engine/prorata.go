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

// matchLevelProRata implements spec.md §4.5 exactly: when the incoming
// remaining quantity Q is at least the level's aggregate L, every
// resting order is filled in full (equivalent to the FIFO sweep, so it
// is delegated there); otherwise each resting order r receives
// floor_scale8(Q * r.remaining / L), and the truncation residual is
// handed out FIFO, one increment at a time, over the same arrival
// order recorded in the level.
func (e *Engine) matchLevelProRata(w *pairWorker, incoming *common.Order, lvl *book.PriceLevel) ([]*common.Trade, error) {
	q := incoming.RemainingQuantity()
	l := lvl.Aggregate

	if q.GreaterThanOrEqual(l) {
		return e.matchLevelFIFO(w, incoming, lvl, q)
	}

	increment := money.MustParse(smallestIncrement)

	// Snapshot arrival order and remaining quantities before any mutation:
	// shares are computed from the level's state as it stood at the start
	// of this allocation, per spec.md §4.5's determinism requirement.
	type allocation struct {
		orderID string
		share   money.Decimal
	}
	orders := append([]*book.RestingOrder(nil), lvl.Orders...)
	allocs := make([]allocation, 0, len(orders))
	distributed := money.Zero()

	for _, o := range orders {
		share := money.Zero()
		if numerator, err := q.Mul(o.Remaining); err == nil {
			if s, err := numerator.Div(l); err == nil {
				share = s
			} else {
				log.Error().Err(err).Msg("pro-rata division failed")
			}
		} else {
			log.Error().Err(err).Msg("pro-rata numerator overflow")
		}
		if share.GreaterThan(o.Remaining) {
			share = o.Remaining
		}
		allocs = append(allocs, allocation{orderID: o.OrderID, share: share})
		if sum, err := distributed.Add(share); err == nil {
			distributed = sum
		}
	}

	residual, err := q.Sub(distributed)
	if err != nil {
		residual = money.Zero()
	}
	for residual.IsPositive() {
		progressed := false
		for i, o := range orders {
			if !residual.IsPositive() {
				break
			}
			capacity, err := o.Remaining.Sub(allocs[i].share)
			if err != nil || capacity.IsZero() {
				continue
			}
			bump := money.Min(residual, increment)
			bump = money.Min(bump, capacity)
			if bump.IsZero() {
				continue
			}
			allocs[i].share, _ = allocs[i].share.Add(bump)
			residual, _ = residual.Sub(bump)
			progressed = true
		}
		if !progressed {
			break
		}
	}

	var trades []*common.Trade
	for _, a := range allocs {
		if a.share.IsZero() {
			continue
		}
		maker := w.resting[a.orderID]
		if maker == nil {
			continue
		}
		trade, err := e.settler.Execute(context.Background(), w.pair, incoming, maker, a.share, lvl.Price)
		if err != nil {
			if errors.Is(err, huginnerr.ErrInternal) {
				log.Error().Err(err).Str("pair", w.pair.String()).Str("maker", maker.OrderID).Msg("internal invariant violation; halting pair")
				w.halt(err)
			} else {
				log.Error().Err(err).Str("pair", w.pair.String()).Str("maker", maker.OrderID).Msg("pro-rata settlement failed")
			}
			return trades, err
		}
		trades = append(trades, trade)

		if err := lvl.ReduceOrder(a.orderID, a.share); err != nil {
			log.Error().Err(err).Msg("book aggregate corruption on pro-rata reduce")
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
	}

	return trades, nil
}

// smallestIncrement is one unit at scale 8 — the FIFO residual
// distribution step in spec.md §4.5.
const smallestIncrement = "0.00000001"
