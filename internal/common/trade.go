package common

import (
	"fmt"
	"time"

	"huginn/internal/money"
)

// Trade is an immutable fill between a resting maker order and an
// incoming taker order.
type Trade struct {
	TradeID    string
	Pair       Pair
	MakerOrder *Order
	TakerOrder *Order
	Price      money.Decimal // the maker's limit price at the moment of the fill
	Quantity   money.Decimal
	MakerFee   money.Decimal
	TakerFee   money.Decimal
	ExecutedAt time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`TradeID:    %s
Pair:       %s
Maker:      [
%s]
Taker:      [
%s]
Price:      %s
Quantity:   %s
MakerFee:   %s
TakerFee:   %s
ExecutedAt: %v`,
		t.TradeID,
		t.Pair,
		t.MakerOrder.String(),
		t.TakerOrder.String(),
		t.Price,
		t.Quantity,
		t.MakerFee,
		t.TakerFee,
		t.ExecutedAt.Format(time.RFC3339),
	)
}
