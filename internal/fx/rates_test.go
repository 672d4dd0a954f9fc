package fx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable() RateTable {
	return RateTable{
		Base: "INR",
		Rates: map[string]float64{
			"USD": 0.012,
			"EUR": 0.011,
			"GBP": 0.0095,
			"JPY": 1.78,
			"INR": 1.0,
		},
	}
}

func TestNormalizeIdentity(t *testing.T) {
	got, err := Normalize(125.50, "INR", testTable(), "INR")
	require.NoError(t, err)
	require.Equal(t, 125.50, got.Amount)
	require.Equal(t, 1.0, got.Rate)
}

func TestNormalizeToReportingCurrency(t *testing.T) {
	got, err := Normalize(50, "USD", testTable(), "INR")
	require.NoError(t, err)
	require.InDelta(t, 50.0/0.012, got.Amount, 0.01)
	require.InDelta(t, 1/0.012, got.Rate, 0.0001)
}

func TestNormalizeCrossRate(t *testing.T) {
	got, err := Normalize(100, "USD", testTable(), "EUR")
	require.NoError(t, err)
	require.InDelta(t, 100*0.011/0.012, got.Amount, 0.01)
}

func TestNormalizeUnsupportedCurrency(t *testing.T) {
	_, err := Normalize(10, "XXX", testTable(), "INR")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = Normalize(10, "USD", testTable(), "XXX")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestConvertRoundTrip(t *testing.T) {
	table := testTable()
	codes := []string{"USD", "EUR", "GBP", "JPY", "INR"}
	for _, from := range codes {
		for _, to := range codes {
			out, err := table.Convert(250, from, to)
			require.NoError(t, err)
			back, err := table.Convert(out, to, from)
			require.NoError(t, err)
			require.Truef(t, math.Abs(back-250) < 1e-9, "%s->%s round trip drifted: %f", from, to, back)
		}
	}
}

func TestMissing(t *testing.T) {
	table := testTable()
	require.Empty(t, table.Missing("USD", "INR"))
	require.Equal(t, []string{"SGD"}, table.Missing("USD", "SGD"))
}
