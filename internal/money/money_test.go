package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMajorRoundTrip(t *testing.T) {
	cases := []string{"0", "0.01", "1", "12.34", "99999.99", "10.5"}
	for _, raw := range cases {
		x := decimal.RequireFromString(raw)
		m, err := FromMajor(x, USD)
		require.NoError(t, err, raw)
		assert.True(t, m.ToMajor().Equal(x), "round trip %s got %s", raw, m.ToMajor())
	}

	yen, err := FromMajor(decimal.RequireFromString("1500"), JPY)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), yen.Amount())
	assert.True(t, yen.ToMajor().Equal(decimal.NewFromInt(1500)))
}

func TestFromMinorExact(t *testing.T) {
	for _, n := range []int64{0, 1, 7, 100, 123456789, 1 << 53, 1<<62 + 3} {
		m, err := FromMinor(n, USD)
		require.NoError(t, err)
		assert.Equal(t, n, m.Amount())
	}
	_, err := FromMinor(-1, USD)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestFromMajorRoundsHalfAwayFromZero(t *testing.T) {
	m, err := FromMajor(decimal.RequireFromString("0.005"), USD)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Amount())

	m, err = FromMajor(decimal.RequireFromString("0.0049"), USD)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Amount())
}

func TestSubtractNeverGoesNegative(t *testing.T) {
	a := MustFromMinor(500, USD)
	b := MustFromMinor(501, USD)

	_, err := a.Subtract(b)
	assert.True(t, errors.Is(err, ErrInsufficientAmount))

	diff, err := b.Subtract(a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), diff.Amount())
}

func TestArithmeticRequiresSameCurrency(t *testing.T) {
	usd := MustFromMinor(100, USD)
	eur := MustFromMinor(100, EUR)

	_, errAdd := usd.Add(eur)
	assert.ErrorIs(t, errAdd, ErrCurrencyMismatch)
	_, errSub := usd.Subtract(eur)
	assert.ErrorIs(t, errSub, ErrCurrencyMismatch)
	_, errCmp := usd.Cmp(eur)
	assert.ErrorIs(t, errCmp, ErrCurrencyMismatch)
	assert.False(t, usd.GreaterThanOrEqual(eur))
}

func TestMultiply(t *testing.T) {
	rate := MustFromMinor(8, USD)
	got, err := rate.Multiply(decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Amount())

	_, err = rate.Multiply(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestStringAndLookup(t *testing.T) {
	m := MustFromMinor(1234, USD)
	assert.Equal(t, "USD 12.34", m.String())

	cur, err := LookupCurrency("eur")
	require.NoError(t, err)
	assert.Equal(t, EUR, cur)

	_, err = LookupCurrency("XXX")
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	parsed, err := ParseMajor("10.00", USD)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), parsed.Amount())
}
