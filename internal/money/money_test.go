package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"two decimal basic", "10.00", "EUR", 1000},
		{"two decimal fraction", "12.34", "DKK", 1234},
		{"two decimal rounds half up", "0.005", "EUR", 1},
		{"two decimal no float drift", "4.20", "EUR", 420},
		{"zero decimal", "1500", "JPY", 1500},
		{"zero decimal rounds", "1500.5", "JPY", 1501},
		{"three decimal", "1.234", "KWD", 1234},
		{"three decimal whole", "10", "BHD", 10000},
		{"negative", "-10.00", "EUR", -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ToMinorUnits(amount, tt.currency))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
	}{
		{"10.00", "EUR"},
		{"0.01", "EUR"},
		{"999999.99", "USD"},
		{"1500", "JPY"},
		{"1", "KRW"},
		{"1.234", "KWD"},
		{"0.001", "TND"},
	}

	for _, tc := range cases {
		amount, err := decimal.NewFromString(tc.amount)
		require.NoError(t, err)

		minor := ToMinorUnits(amount, tc.currency)
		back := FromMinorUnits(minor, tc.currency)
		assert.True(t, amount.Equal(back),
			"%s %s: got %s after round trip", tc.amount, tc.currency, back)
	}
}

func TestDecimals(t *testing.T) {
	assert.Equal(t, int32(2), Decimals("EUR"))
	assert.Equal(t, int32(2), Decimals("XYZ")) // unknown currency defaults to 2
	assert.Equal(t, int32(0), Decimals("JPY"))
	assert.Equal(t, int32(3), Decimals("OMR"))
}
