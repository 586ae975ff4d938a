package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tafel/internal/money"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]money.Amount{
		"73.40":  7340,
		"18.5":   1850,
		"18":     1800,
		"0.05":   5,
		"-4.20":  -420,
		" 6.50 ": 650,
	}
	for in, want := range cases {
		got, err := money.Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	require.Equal(t, "73.40", money.Amount(7340).String())
	require.Equal(t, "0.05", money.Amount(5).String())
	require.Equal(t, "-4.20", money.Amount(-420).String())
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "1,50", "18.-5", "18.+5", "1-8.50", "18. 5"} {
		_, err := money.Parse(in)
		require.Error(t, err, in)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(money.Amount(1835))
	require.NoError(t, err)
	require.Equal(t, `"18.35"`, string(data))

	var a money.Amount
	require.NoError(t, json.Unmarshal([]byte(`"73.40"`), &a))
	require.Equal(t, money.Amount(7340), a)

	// numbers from loosely-typed clients are accepted too
	require.NoError(t, json.Unmarshal([]byte(`18.35`), &a))
	require.Equal(t, money.Amount(1835), a)
}

func TestDivideEqual(t *testing.T) {
	share, err := money.DivideEqual(7340, 4)
	require.NoError(t, err)
	require.Equal(t, money.Amount(1835), share)

	share, err = money.DivideEqual(1000, 3)
	require.NoError(t, err)
	require.Equal(t, money.Amount(333), share)

	_, err = money.DivideEqual(1000, 0)
	require.Error(t, err)
}

func TestDivideEqualSumBound(t *testing.T) {
	// |n*share - total| <= (n-1) cents for a spread of totals and divisors
	for _, total := range []money.Amount{1, 99, 101, 7340, 9999, 123457} {
		for n := 2; n <= 8; n++ {
			share, err := money.DivideEqual(total, n)
			require.NoError(t, err)
			diff := int64(share)*int64(n) - int64(total)
			if diff < 0 {
				diff = -diff
			}
			require.LessOrEqual(t, diff, int64(n-1), "total=%d n=%d", total, n)
		}
	}
}
