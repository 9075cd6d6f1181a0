package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultAssetDecimals int32 = 7

var (
	errNegativeAmount  = errors.New("amount must not be negative")
	errAmountPrecision = errors.New("amount has more decimal places than the asset")
	errAmountOverflow  = errors.New("amount exceeds int64 range")
)

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// FormatAmount renders smallest-unit amounts, e.g. 1000000000 with 7 decimals
// becomes "100.0000000".
func FormatAmount(units int64, decimals int32) string {
	return decimal.New(units, -decimals).StringFixed(decimals)
}

// ParseAmount converts a decimal string into smallest units, rejecting values
// that cannot be represented exactly.
func ParseAmount(value string, decimals int32) (int64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if parsed.Sign() < 0 {
		return 0, errNegativeAmount
	}
	scaled := parsed.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, errAmountPrecision
	}
	if scaled.GreaterThan(maxUnits) {
		return 0, errAmountOverflow
	}
	return scaled.IntPart(), nil
}
