// Package money converts between major-unit decimal amounts used for local
// bookkeeping and the integer minor-unit amounts exchanged with the payment
// gateway. Conversion goes through decimal arithmetic end to end; amounts
// never pass through a float.
package money

import "github.com/shopspring/decimal"

// zeroDecimalCurrencies and threeDecimalCurrencies follow ISO 4217
// minor-unit exponents. Everything else uses two decimal places.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {},
	"KMF": {}, "KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

var threeDecimalCurrencies = map[string]struct{}{
	"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
}

// Decimals returns the number of minor-unit decimal places for a currency.
func Decimals(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[currency]; ok {
		return 3
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to the currency's integer minor
// unit, rounding half away from zero at the currency's exponent.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Decimals(currency)).Round(0).IntPart()
}

// FromMinorUnits converts an integer minor-unit amount back to a major-unit
// decimal.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-Decimals(currency))
}
