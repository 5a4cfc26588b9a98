// Package settlement implements the settlement coordinator: given a
// (taker, maker, quantity, price), it atomically transfers balances,
// applies fees, updates both orders, and records a trade. It is the one
// place ledger mutations, order mutations, and the durable write happen
// together, so a failure partway rolls back every ledger row this fill
// touched before returning.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/ledger"
	"huginn/internal/money"
	"huginn/internal/storage"
)

// Coordinator applies fills. It holds no per-pair state; all of that
// lives in the engine's pair worker, which calls Execute once per match
// produced by its walk of the opposite side of the book.
type Coordinator struct {
	ledger  *ledger.Ledger
	store   *storage.Store
	feeRate money.Decimal
}

// New creates a settlement coordinator for the given fee rate
// (configurable, default 0.001).
func New(l *ledger.Ledger, store *storage.Store, feeRate money.Decimal) *Coordinator {
	return &Coordinator{ledger: l, store: store, feeRate: feeRate}
}

type undoStep func()

// Execute applies one fill between taker and maker at the given price
// and quantity (always the maker's price), mutating both orders'
// filled/fee/status fields in place and returning the resulting Trade.
// On any failure, every ledger mutation already applied for this fill
// is unwound before the error is returned: a fill is entirely applied,
// or entirely absent.
func (c *Coordinator) Execute(ctx context.Context, pair common.Pair, taker, maker *common.Order, qty, price money.Decimal) (*common.Trade, error) {
	notional, err := qty.Mul(price)
	if err != nil {
		return nil, err
	}
	makerFee, err := notional.Mul(c.feeRate)
	if err != nil {
		return nil, err
	}
	takerFee, err := notional.Mul(c.feeRate)
	if err != nil {
		return nil, err
	}

	var undo []undoStep
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	buyer, seller := taker, maker
	if taker.Side == common.Sell {
		buyer, seller = maker, taker
	}

	// Buyer pays notional+fee in quote, drawing first from their locked
	// funds and topping up any shortfall from available balance — the
	// buyer's admission-time lock (quantity*limit_price, or an explicit
	// quote budget for a market order) never reserves the fee, so a
	// shortfall here is the common case, not an edge case.
	buyerFee := feeFor(buyer, taker, makerFee, takerFee)
	buyerPay, err := notional.Add(buyerFee)
	if err != nil {
		return nil, err
	}
	lockPortion := money.Min(buyerPay, buyer.LockedRemaining)
	shortfall, err := buyerPay.Sub(lockPortion)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.SettleBuyWithShortfall(buyer.UserID, pair.Quote, lockPortion, shortfall); err != nil {
		return nil, fmt.Errorf("settle buyer %s: %w", buyer.OrderID, err)
	}
	undo = append(undo, func() {
		_ = c.ledger.Credit(buyer.UserID, pair.Quote, lockPortion)
		_ = c.ledger.Credit(buyer.UserID, pair.Quote, shortfall)
		_ = c.ledger.Lock(buyer.UserID, pair.Quote, lockPortion)
	})
	buyerLockedBefore := buyer.LockedRemaining
	buyer.LockedRemaining, err = buyer.LockedRemaining.Sub(lockPortion)
	if err != nil {
		rollback()
		return nil, err
	}
	undo = append(undo, func() { buyer.LockedRemaining = buyerLockedBefore })

	// Seller receives notional-fee in quote.
	sellerFee := feeFor(seller, taker, makerFee, takerFee)
	sellerReceive, err := notional.Sub(sellerFee)
	if err != nil {
		rollback()
		return nil, err
	}
	if err := c.ledger.Credit(seller.UserID, pair.Quote, sellerReceive); err != nil {
		rollback()
		return nil, err
	}
	undo = append(undo, func() { _ = c.ledger.Debit(seller.UserID, pair.Quote, sellerReceive) })

	// Fee destination: a dedicated system account, per the Open Question
	// decision recorded in ledger.FeeAccountUserID / DESIGN.md.
	totalFee, err := buyerFee.Add(sellerFee)
	if err != nil {
		rollback()
		return nil, err
	}
	if totalFee.IsPositive() {
		if err := c.ledger.Credit(ledger.FeeAccountUserID, pair.Quote, totalFee); err != nil {
			rollback()
			return nil, err
		}
		undo = append(undo, func() { _ = c.ledger.Debit(ledger.FeeAccountUserID, pair.Quote, totalFee) })
	}

	// Seller releases qty in base from their lock (exact: a sell locks
	// quantity 1:1 in base, so there is never a shortfall on this leg).
	if err := c.ledger.SettleLocked(seller.UserID, pair.Base, qty); err != nil {
		rollback()
		return nil, fmt.Errorf("settle seller %s: %w", seller.OrderID, err)
	}
	undo = append(undo, func() { _ = c.ledger.Credit(seller.UserID, pair.Base, qty) })
	sellerLockedBefore := seller.LockedRemaining
	seller.LockedRemaining, err = seller.LockedRemaining.Sub(qty)
	if err != nil {
		rollback()
		return nil, err
	}
	undo = append(undo, func() { seller.LockedRemaining = sellerLockedBefore })

	// Buyer receives qty in base.
	if err := c.ledger.Credit(buyer.UserID, pair.Base, qty); err != nil {
		rollback()
		return nil, err
	}
	undo = append(undo, func() { _ = c.ledger.Debit(buyer.UserID, pair.Base, qty) })

	// Both orders accrue their own fee and filled quantity.
	takerFilledBefore, makerFilledBefore := taker.FilledQuantity, maker.FilledQuantity
	takerFeeBefore, makerFeeBefore := taker.AccruedFee, maker.AccruedFee
	undo = append(undo, func() {
		taker.FilledQuantity = takerFilledBefore
		maker.FilledQuantity = makerFilledBefore
		taker.AccruedFee = takerFeeBefore
		maker.AccruedFee = makerFeeBefore
	})

	taker.FilledQuantity, err = taker.FilledQuantity.Add(qty)
	if err != nil {
		rollback()
		return nil, err
	}
	maker.FilledQuantity, err = maker.FilledQuantity.Add(qty)
	if err != nil {
		rollback()
		return nil, err
	}
	taker.AccruedFee, err = taker.AccruedFee.Add(takerFee)
	if err != nil {
		rollback()
		return nil, err
	}
	maker.AccruedFee, err = maker.AccruedFee.Add(makerFee)
	if err != nil {
		rollback()
		return nil, err
	}

	trade := &common.Trade{
		TradeID:    uuid.New().String(),
		Pair:       pair,
		MakerOrder: maker,
		TakerOrder: taker,
		Price:      price,
		Quantity:   qty,
		MakerFee:   makerFee,
		TakerFee:   takerFee,
		ExecutedAt: time.Now(),
	}

	if err := c.persist(ctx, trade, taker, maker, buyer, seller, pair); err != nil {
		rollback()
		return nil, fmt.Errorf("%w: %v", huginnerr.ErrConflict, err)
	}

	log.Debug().
		Str("trade_id", trade.TradeID).
		Str("pair", pair.String()).
		Str("price", price.String()).
		Str("qty", qty.String()).
		Msg("fill settled")

	return trade, nil
}

func feeFor(side, taker *common.Order, makerFee, takerFee money.Decimal) money.Decimal {
	if side == taker {
		return takerFee
	}
	return makerFee
}

// persist writes the trade and both orders' new state, plus the five
// ledger rows this fill touched (buyer and seller in quote and base, and
// the fee account's quote row), in a single database transaction — the
// durable half of the "one atomic unit" requirement; the in-memory half
// already committed via the ledger row locks above.
func (c *Coordinator) persist(ctx context.Context, trade *common.Trade, taker, maker, buyer, seller *common.Order, pair common.Pair) error {
	if c.store == nil {
		return nil
	}
	return c.store.WithinTx(ctx, func(tx *gorm.DB) error {
		if err := storage.SaveOrderTx(tx, taker); err != nil {
			return err
		}
		if err := storage.SaveOrderTx(tx, maker); err != nil {
			return err
		}
		if err := storage.SaveTradeTx(tx, trade); err != nil {
			return err
		}

		buyerQuote := c.ledger.Snapshot(buyer.UserID, pair.Quote)
		if err := storage.SaveBalanceTx(tx, buyer.UserID, pair.Quote, buyerQuote.Total, buyerQuote.Locked); err != nil {
			return err
		}
		sellerQuote := c.ledger.Snapshot(seller.UserID, pair.Quote)
		if err := storage.SaveBalanceTx(tx, seller.UserID, pair.Quote, sellerQuote.Total, sellerQuote.Locked); err != nil {
			return err
		}
		buyerBase := c.ledger.Snapshot(buyer.UserID, pair.Base)
		if err := storage.SaveBalanceTx(tx, buyer.UserID, pair.Base, buyerBase.Total, buyerBase.Locked); err != nil {
			return err
		}
		sellerBase := c.ledger.Snapshot(seller.UserID, pair.Base)
		if err := storage.SaveBalanceTx(tx, seller.UserID, pair.Base, sellerBase.Total, sellerBase.Locked); err != nil {
			return err
		}
		fees := c.ledger.Snapshot(ledger.FeeAccountUserID, pair.Quote)
		return storage.SaveBalanceTx(tx, ledger.FeeAccountUserID, pair.Quote, fees.Total, fees.Locked)
	})
}
