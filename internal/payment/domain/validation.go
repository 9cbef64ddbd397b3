package domain

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	ierr "github.com/smallbiznis/payflow/internal/errors"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

var threeDecimalCurrencies = map[string]struct{}{
	"BHD": {}, "JOD": {}, "KWD": {}, "OMR": {}, "TND": {},
}

// MinorUnits returns the number of decimal places the currency allows.
func MinorUnits(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[currency]; ok {
		return 3
	}
	return 2
}

// ValidateCurrency checks the code exactly as given; lowercase codes are rejected.
func ValidateCurrency(currency string) error {
	if !currencyPattern.MatchString(currency) {
		return ierr.NewErrorf("invalid currency code: %s", currency).
			WithHintf("Invalid currency code: %s", currency).
			WithReportableDetails(map[string]any{"currency": currency}).
			Mark(ErrInvalidCurrency, ierr.ErrValidation)
	}
	return nil
}

// ParseAmount parses a decimal amount string and checks it against the
// currency's precision. The currency must already be valid.
func ParseAmount(raw string, currency string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, invalidAmount(raw, "amount must be a decimal number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalidAmount(raw, "amount must be greater than zero")
	}
	if -amount.Exponent() > MinorUnits(currency) && !amount.Equal(amount.Round(MinorUnits(currency))) {
		return decimal.Zero, invalidAmount(raw, "amount has more decimal places than the currency allows")
	}
	return amount, nil
}

// ValidateMoney validates a currency and amount pair, currency first.
func ValidateMoney(rawAmount string, currency string) (decimal.Decimal, error) {
	if err := ValidateCurrency(currency); err != nil {
		return decimal.Zero, err
	}
	return ParseAmount(rawAmount, currency)
}

func invalidAmount(raw string, reason string) error {
	return ierr.NewErrorf("invalid amount: %s", raw).
		WithHintf("Invalid amount: %s", raw).
		WithReportableDetails(map[string]any{"amount": raw, "reason": reason}).
		Mark(ErrInvalidAmount, ierr.ErrValidation)
}

// FormatAmount renders amount with the currency's fixed precision.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnits(currency))
}

// ToMinorUnits converts amount to the integer minor units processors expect.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(MinorUnits(currency)).Round(0).IntPart()
}

// FromMinorUnits converts processor minor units back to a decimal amount.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -MinorUnits(currency))
}
