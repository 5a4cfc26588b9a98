package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huginn/internal/huginnerr"
)

func TestParse_RejectsFloatsAndScientific(t *testing.T) {
	_, err := Parse("1.5e10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrInvalidRequest))

	_, err = Parse("-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrInvalidRequest))

	_, err = Parse("not-a-number")
	require.Error(t, err)
}

func TestParse_TruncatesBeyondScale(t *testing.T) {
	v := MustParse("1.123456789")
	assert.Equal(t, "1.12345678", v.String())
}

func TestParse_OverflowOnTooManyIntegerDigits(t *testing.T) {
	_, err := Parse("1000000000000") // 13 digits, > 12 allowed
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrArithmeticOverflow))
}

func TestMul_TruncatesNotRounds(t *testing.T) {
	a := MustParse("0.5")
	b := MustParse("1.00000001")
	got, err := a.Mul(b)
	require.NoError(t, err)
	// 0.500000005 truncated to 8 places is 0.50000000
	assert.Equal(t, "0.50000000", got.String())
}

func TestDiv_TruncatesTowardZero(t *testing.T) {
	q := MustParse("1")
	l := MustParse("3")
	got, err := q.Div(l)
	require.NoError(t, err)
	assert.Equal(t, "0.33333333", got.String())
}

func TestDiv_ByZero(t *testing.T) {
	_, err := MustParse("1").Div(Zero())
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrArithmeticOverflow))
}

func TestSub_NegativeResultIsInternalError(t *testing.T) {
	_, err := MustParse("1").Sub(MustParse("2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, huginnerr.ErrInternal))
}

func TestProRataShareSumsExactly(t *testing.T) {
	// Grounded in spec.md scenario 4: shares of 0.5/1.0/0.5 against a 1.0
	// taker quantity must sum to exactly 1.0 with zero residual.
	q := MustParse("1.0")
	l := MustParse("2.0")
	s1 := MustParse("0.5")
	s2 := MustParse("1.0")
	s3 := MustParse("0.5")

	share := func(r Decimal) Decimal {
		num, err := q.Mul(r)
		require.NoError(t, err)
		out, err := num.Div(l)
		require.NoError(t, err)
		return out
	}

	a1, a2, a3 := share(s1), share(s2), share(s3)
	assert.Equal(t, "0.25000000", a1.String())
	assert.Equal(t, "0.50000000", a2.String())
	assert.Equal(t, "0.25000000", a3.String())

	sum, err := a1.Add(a2)
	require.NoError(t, err)
	sum, err = sum.Add(a3)
	require.NoError(t, err)
	assert.Equal(t, "1.00000000", sum.String())
}

func TestJSONRoundTrip(t *testing.T) {
	v := MustParse("50000.25")
	data, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"50000.25000000"`, string(data))

	var out Decimal
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, v.String(), out.String())
}
