// Package money implements the exact fixed-point decimal(20,8) arithmetic
// required on the matching engine's hot path: every price, quantity,
// balance, and fee in the system is a money.Decimal. It wraps
// github.com/shopspring/decimal rather than reimplementing bignum
// arithmetic.
//
// All values are non-negative. Division and multiplication truncate
// (round toward zero) at the 8th fractional digit rather than rounding,
// for deterministic, reproducible settlement math.
package money

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"huginn/internal/huginnerr"
)

const (
	// Scale is the number of fractional digits carried by every Decimal.
	Scale = 8
	// MaxIntegerDigits bounds the integer part so the total precision
	// never exceeds 20 significant digits (12 integer + 8 fractional).
	MaxIntegerDigits = 12
)

func init() {
	// Give ourselves enough guard digits during division that truncating
	// to Scale afterwards is exact, not an artifact of rounding early.
	decimal.DivisionPrecision = Scale + 16
}

// Decimal is an exact, non-negative, scale-8 fixed-point number.
type Decimal struct {
	d decimal.Decimal
}

var (
	zero     = Decimal{d: decimal.Zero}
	maxBound = decimal.New(1, MaxIntegerDigits) // 10^12, exclusive upper bound
)

// Zero returns the additive identity.
func Zero() Decimal { return zero }

// Parse constructs a Decimal from a decimal string. Scientific notation
// and float inputs crossing the system boundary are rejected outright —
// callers must format their own float64s through strconv before
// reaching here, which keeps that lossy conversion visible at the
// boundary instead of hidden in here.
func Parse(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zero, fmt.Errorf("%w: empty decimal string", huginnerr.ErrInvalidRequest)
	}
	if strings.ContainsAny(s, "eE") {
		return zero, fmt.Errorf("%w: scientific notation not accepted: %q", huginnerr.ErrInvalidRequest, s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", huginnerr.ErrInvalidRequest, err)
	}
	if d.IsNegative() {
		return zero, fmt.Errorf("%w: negative decimal %q", huginnerr.ErrInvalidRequest, s)
	}
	return normalize(d)
}

// MustParse is Parse but panics on error. Intended for tests and
// compile-time constants, never for values crossing a system boundary.
func MustParse(s string) Decimal {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInt wraps a non-negative integer as a Decimal.
func FromInt(i int64) Decimal {
	if i < 0 {
		i = 0
	}
	v, _ := normalize(decimal.NewFromInt(i))
	return v
}

func normalize(d decimal.Decimal) (Decimal, error) {
	truncated := d.Truncate(Scale)
	if truncated.Abs().Cmp(maxBound) >= 0 {
		return zero, fmt.Errorf("%w: %s exceeds %d integer digits", huginnerr.ErrArithmeticOverflow, d.String(), MaxIntegerDigits)
	}
	return Decimal{d: truncated}, nil
}

// Add returns a+b.
func (a Decimal) Add(b Decimal) (Decimal, error) {
	return normalize(a.d.Add(b.d))
}

// Sub returns a-b. A negative result is an invariant violation: every
// caller in this codebase checks sufficiency before subtracting, so a
// negative outcome here means upstream bookkeeping is already wrong.
func (a Decimal) Sub(b Decimal) (Decimal, error) {
	r := a.d.Sub(b.d)
	if r.IsNegative() {
		return zero, fmt.Errorf("%w: %s - %s is negative", huginnerr.ErrInternal, a.d.String(), b.d.String())
	}
	return normalize(r)
}

// Mul returns a*b, rescaled to Scale and truncated toward zero.
func (a Decimal) Mul(b Decimal) (Decimal, error) {
	return normalize(a.d.Mul(b.d))
}

// Div returns a/b, truncated toward zero at Scale. Division by zero
// reports ErrArithmeticOverflow rather than producing Inf/NaN.
func (a Decimal) Div(b Decimal) (Decimal, error) {
	if b.IsZero() {
		return zero, fmt.Errorf("%w: division by zero", huginnerr.ErrArithmeticOverflow)
	}
	return normalize(a.d.DivRound(b.d, Scale+8).Truncate(Scale))
}

// Cmp returns -1, 0, or 1 comparing a to b.
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

// GreaterThanOrEqual reports whether a >= b.
func (a Decimal) GreaterThanOrEqual(b Decimal) bool { return a.d.Cmp(b.d) >= 0 }

// GreaterThan reports whether a > b.
func (a Decimal) GreaterThan(b Decimal) bool { return a.d.Cmp(b.d) > 0 }

// LessThan reports whether a < b.
func (a Decimal) LessThan(b Decimal) bool { return a.d.Cmp(b.d) < 0 }

// IsZero reports whether a == 0.
func (a Decimal) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether a > 0.
func (a Decimal) IsPositive() bool { return a.d.IsPositive() }

// Min returns the lesser of a and b.
func Min(a, b Decimal) Decimal {
	if a.d.Cmp(b.d) <= 0 {
		return a
	}
	return b
}

// String renders the canonical decimal string, e.g. "50000.00000000".
func (a Decimal) String() string {
	return a.d.StringFixed(Scale)
}

// Float64 is a read-only, non-round-tripping conversion for telemetry
// output (book-depth charts, dashboards). It must never be parsed back
// into a Decimal.
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// MarshalJSON renders the Decimal as a JSON string, so API consumers never
// see a floating point literal for a monetary value.
func (a Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string produced by MarshalJSON (or any plain
// decimal string). A bare JSON number is rejected to keep float64 out of
// the wire format entirely.
func (a *Decimal) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: decimal must be a JSON string, got %s", huginnerr.ErrInvalidRequest, s)
	}
	v, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value implements driver.Valuer so gorm persists Decimal as its plain
// scale-8 decimal string (internal/storage declares these columns as
// varchar(40)), grounded in the same pattern polybot uses for
// shopspring/decimal gorm columns.
func (a Decimal) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner for the reverse direction.
func (a *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = zero
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T into money.Decimal", huginnerr.ErrInternal, src)
	}
}
