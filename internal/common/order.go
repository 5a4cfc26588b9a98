package common

import (
	"fmt"
	"time"

	"huginn/internal/money"
)

// Order is the lifecycle record for a single order. The fields above
// the blank line are immutable once admitted; the fields below it are
// mutated by the matching engine and settlement coordinator.
type Order struct {
	OrderID    string
	UserID     string
	Pair       Pair
	Side       Side
	Type       OrderType
	LimitPrice money.Decimal // required iff Type == Limit
	// QuoteBudget is the explicit quote-asset ceiling a market buy must
	// carry: the full budget is locked at admission rather than
	// debited per-fill.
	QuoteBudget      money.Decimal
	OriginalQuantity money.Decimal
	Seq              uint64 // monotonic sequence, the time-priority tiebreaker
	CreatedAt        time.Time
	FeeAsset         string // always the pair's quote asset

	FilledQuantity money.Decimal
	AccruedFee     money.Decimal
	Status         OrderStatus
	// LockedRemaining is the ledger amount still encumbered for this
	// order. Cancellation must release exactly this, not a
	// recomputation of remaining*limit_price, since partial fills may
	// have consumed the lock at a better price than the order's limit.
	LockedRemaining money.Decimal
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

// RemainingQuantity returns original - filled, which must always hold
// non-negative.
func (o *Order) RemainingQuantity() money.Decimal {
	r, err := o.OriginalQuantity.Sub(o.FilledQuantity)
	if err != nil {
		// FilledQuantity must never exceed OriginalQuantity; if it does,
		// every caller in this codebase has already violated an
		// invariant and zero is as good an answer as any here.
		return money.Zero()
	}
	return r
}

func (o Order) String() string {
	return fmt.Sprintf(
		`OrderID:         %s
UserID:          %s
Pair:            %s
Side:            %v
Type:            %v
LimitPrice:      %s
Quantity:        %s (filled %s of %s)
Status:          %v
Seq:             %d
CreatedAt:       %v`,
		o.OrderID,
		o.UserID,
		o.Pair,
		o.Side,
		o.Type,
		o.LimitPrice,
		o.RemainingQuantity(),
		o.FilledQuantity,
		o.OriginalQuantity,
		o.Status,
		o.Seq,
		o.CreatedAt.Format(time.RFC3339),
	)
}
