package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/money"
)

// SubmitRequest is the caller-facing input to SubmitOrder, mirroring
// spec.md §6's submit_order(user_id, pair, side, type, quantity,
// limit_price?) with an explicit market-buy quote budget that is locked
// in full at admission. LimitPrice is required iff Type==Limit; QuoteBudget
// is required iff Type==Market && Side==Buy. Omitted fields are the
// zero money.Decimal, which validateSubmit rejects wherever presence is
// required since a real price or budget must be strictly positive.
type SubmitRequest struct {
	UserID      string
	Pair        common.Pair
	Side        common.Side
	Type        common.OrderType
	Quantity    money.Decimal
	LimitPrice  money.Decimal
	QuoteBudget money.Decimal
}

// SubmitOrder runs the 5-step admission flow from spec.md §4.3: validate,
// compute and place the ledger lock, persist pending, then hand off to
// the pair's worker for matching. Any failure after the lock is taken
// refunds it before returning, per spec.md §4.3's final sentence.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*common.Order, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	worker, err := e.workerFor(req.Pair)
	if err != nil {
		return nil, err
	}

	lockAsset, lockAmount, err := computeLock(req)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Lock(req.UserID, lockAsset, lockAmount); err != nil {
		return nil, err
	}

	order := &common.Order{
		OrderID:          uuid.New().String(),
		UserID:           req.UserID,
		Pair:             req.Pair,
		Side:             req.Side,
		Type:             req.Type,
		LimitPrice:       req.LimitPrice,
		QuoteBudget:      req.QuoteBudget,
		OriginalQuantity: req.Quantity,
		Seq:              e.nextSeq(),
		CreatedAt:        time.Now(),
		FeeAsset:         req.Pair.Quote,
		Status:           common.Pending,
		LockedRemaining:  lockAmount,
	}

	if e.store != nil {
		if err := e.store.SaveOrder(ctx, order); err != nil {
			_ = e.ledger.Unlock(req.UserID, lockAsset, lockAmount)
			return nil, fmt.Errorf("%w: %v", huginnerr.ErrConflict, err)
		}
	}

	e.trackOrder(order.OrderID, req.Pair)

	var settleErr error
	if err := worker.submit(ctx, opAdmit, func() {
		settleErr = e.admit(ctx, worker, order)
	}); err != nil {
		// The worker never ran admit (most commonly: its pair is halted
		// on an ErrInternal invariant violation and is rejecting every
		// further operation, per spec.md §7), so the lock taken above
		// must be refunded and the order marked dead rather than left
		// Pending with funds stranded against it.
		_ = e.ledger.Unlock(req.UserID, lockAsset, lockAmount)
		order.Status = common.Rejected
		if e.store != nil {
			_ = e.store.SaveOrder(ctx, order)
		}
		return nil, err
	}

	if settleErr != nil {
		// The walk aborted on a fill that could not settle; the order was
		// finalized as rejected or cancelled around the failure and never
		// rested, per the propagation policy in spec.md §7.
		return order, settleErr
	}
	if order.Status == common.Rejected {
		return order, fmt.Errorf("%w: %s order found no resting liquidity", huginnerr.ErrNoLiquidity, order.Type)
	}

	return order, nil
}

func validateSubmit(req SubmitRequest) error {
	if req.Pair.Base == "" || req.Pair.Quote == "" {
		return fmt.Errorf("%w: pair is required", huginnerr.ErrInvalidRequest)
	}
	if req.Side != common.Buy && req.Side != common.Sell {
		return fmt.Errorf("%w: invalid side", huginnerr.ErrInvalidRequest)
	}
	if req.Type != common.Limit && req.Type != common.Market {
		return fmt.Errorf("%w: invalid order type", huginnerr.ErrInvalidRequest)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", huginnerr.ErrInvalidRequest)
	}
	if req.Type == common.Limit && !req.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limit price must be positive for a limit order", huginnerr.ErrInvalidRequest)
	}
	if req.Type == common.Market && req.Side == common.Buy && !req.QuoteBudget.IsPositive() {
		return fmt.Errorf("%w: market buy requires a positive quote_budget", huginnerr.ErrInvalidRequest)
	}
	return nil
}

// computeLock implements spec.md §4.3 step 2.
func computeLock(req SubmitRequest) (asset string, amount money.Decimal, err error) {
	if req.Side == common.Buy {
		if req.Type == common.Market {
			return req.Pair.Quote, req.QuoteBudget, nil
		}
		notional, mulErr := req.Quantity.Mul(req.LimitPrice)
		if mulErr != nil {
			return "", notional, mulErr
		}
		return req.Pair.Quote, notional, nil
	}
	return req.Pair.Base, req.Quantity, nil
}
