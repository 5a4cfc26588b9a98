// Package huginnerr defines the sentinel error kinds surfaced to callers of
// the matching engine, per the propagation policy the engine follows: an
// error originates as one of these and is wrapped with context on its way
// up, never replaced.
package huginnerr

import "errors"

var (
	// ErrInvalidRequest covers malformed inputs: unsupported pair, bad
	// side/type, non-positive quantity, missing limit price.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientBalance is returned by a ledger lock, debit, or
	// settle that cannot be satisfied.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound covers an unknown order_id or user.
	ErrNotFound = errors.New("not found")

	// ErrNotCancellable is returned when an order is not in a
	// cancellable state.
	ErrNotCancellable = errors.New("order not cancellable")

	// ErrNoLiquidity is returned by a market order against an empty
	// opposite side.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrArithmeticOverflow is returned when a decimal value would
	// exceed the supported precision or range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrConflict signals a transient persistence conflict; the caller
	// may retry.
	ErrConflict = errors.New("conflict")

	// ErrInternal signals an invariant violation. It is fatal to the
	// pair that raised it; other pairs are unaffected.
	ErrInternal = errors.New("internal invariant violation")
)
