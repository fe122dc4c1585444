package commitment

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitVerifyRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("4000000000000000000")
	d, err := Commit(amount, "correct horse")
	require.NoError(t, err)
	require.False(t, d.IsZero())
	require.True(t, Verify(d, amount, "correct horse"))

	again, err := Commit(amount, "correct horse")
	require.NoError(t, err)
	require.Equal(t, d, again)
}

func TestVerifyRejectsOtherOpenings(t *testing.T) {
	amount := decimal.NewFromInt(123)
	d, err := Commit(amount, "abc")
	require.NoError(t, err)

	cases := []struct {
		name   string
		amount decimal.Decimal
		secret string
	}{
		{"other amount", decimal.NewFromInt(124), "abc"},
		{"other secret", amount, "abd"},
		{"shifted boundary", decimal.NewFromInt(12), "3abc"},
		{"empty secret", amount, ""},
		{"negative amount", decimal.NewFromInt(-123), "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.False(t, Verify(d, tc.amount, tc.secret))
		})
	}
}

func TestCommitInvalidInput(t *testing.T) {
	_, err := Commit(decimal.NewFromInt(10), "")
	require.True(t, errors.Is(err, ErrInvalidInput))

	_, err = Commit(decimal.RequireFromString("1.5"), "s")
	require.True(t, errors.Is(err, ErrInvalidInput))

	huge := decimal.NewFromInt(2).Pow(decimal.NewFromInt(256))
	_, err = Commit(huge, "s")
	require.True(t, errors.Is(err, ErrInvalidInput))
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount(" 80 ")
	require.NoError(t, err)
	require.True(t, a.Equal(decimal.NewFromInt(80)))

	for _, in := range []string{"eighty", "", "-1", "0.1", "-1e20000000", "1e-20000000", "0e-20000000"} {
		_, err := ParseAmount(in)
		require.ErrorIs(t, err, ErrInvalidInput, in)
	}

	top := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	a, err = ParseAmount(top)
	require.NoError(t, err)
	_, err = Commit(a, "s")
	require.NoError(t, err)

	a, err = ParseAmount("80.000")
	require.NoError(t, err)
	require.True(t, a.Equal(decimal.NewFromInt(80)))
}

func TestParseAmountRejectsHugeExponentQuickly(t *testing.T) {
	for _, in := range []string{"1e20000000", "1e79", "115792089237316195423570985008687907853269984665640564039457584007913129639936", "99e77"} {
		start := time.Now()
		_, err := ParseAmount(in)
		require.ErrorIs(t, err, ErrInvalidInput, in)
		assert.Less(t, time.Since(start), 100*time.Millisecond, in)
		assert.Less(t, len(err.Error()), 100, "error text must not echo the expanded amount")
	}

	_, err := Commit(decimal.New(1, 20000000), "s")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, Verify(Digest{}, decimal.New(1, 20000000), "s"))
}

func TestDigestText(t *testing.T) {
	d, err := Commit(decimal.NewFromInt(50), "s3cret")
	require.NoError(t, err)

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	require.Equal(t, d, parsed)

	var viaText Digest
	require.NoError(t, viaText.UnmarshalText([]byte(d.String()[2:])))
	require.Equal(t, d, viaText)

	_, err = ParseDigest("0x1234")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = ParseDigest("zz")
	require.ErrorIs(t, err, ErrInvalidInput)
}
