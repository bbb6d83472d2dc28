package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places held in minor units.
const MinorUnitExponent = 2

// MaxAmount is the largest amount, in minor units, the store accepts anywhere.
const MaxAmount int64 = 1_000_000_000_000_000

// ErrInvalidAmount is returned for unparsable or over-precise amounts.
var ErrInvalidAmount = errors.New("domain: invalid amount")

// ErrAmountOutOfRange is returned when arithmetic on amounts leaves [0, MaxAmount].
var ErrAmountOutOfRange = errors.New("domain: amount out of range")

// ParseAmount converts a decimal string such as "329.99" to minor units.
func ParseAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, trimmed)
	}
	return AmountFromDecimal(value)
}

// AmountFromDecimal converts a decimal to minor units, rejecting values that would lose precision.
func AmountFromDecimal(value decimal.Decimal) (int64, error) {
	scaled := value.Shift(MinorUnitExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, value.String(), MinorUnitExponent)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(MaxAmount)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, value.String())
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units with a fixed number of decimals, e.g. 32999 -> "329.99".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}

// MulAmount returns unit*qty, failing instead of wrapping when the product exceeds MaxAmount.
func MulAmount(unit, qty int64) (int64, error) {
	if unit < 0 || qty < 0 || unit > MaxAmount {
		return 0, fmt.Errorf("%w: %d x %d", ErrAmountOutOfRange, unit, qty)
	}
	if unit != 0 && qty > MaxAmount/unit {
		return 0, fmt.Errorf("%w: %d x %d", ErrAmountOutOfRange, unit, qty)
	}
	return unit * qty, nil
}

// AddAmounts sums non-negative amounts, failing once the running total exceeds MaxAmount.
func AddAmounts(amounts ...int64) (int64, error) {
	var total int64
	for _, amount := range amounts {
		if amount < 0 || amount > MaxAmount-total {
			return 0, fmt.Errorf("%w: %d + %d", ErrAmountOutOfRange, total, amount)
		}
		total += amount
	}
	return total, nil
}
