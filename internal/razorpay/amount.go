package razorpay

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that are missing, non-positive or
// too small to be charged in minor units.
var ErrInvalidAmount = errors.New("razorpay: invalid amount")

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	maxMajorUnits = maxMinorUnits.Shift(-2)
)

// Exponents outside this window cannot name a chargeable amount, and
// rescaling them would cost time proportional to the exponent.
const (
	minAmountExponent = -20
	maxAmountExponent = 18
)

// ToMinorUnits converts a major-unit amount (rupees) into the integer minor
// units (paise) the gateway expects: round(amount * 100), rounding half away
// from zero on the exact decimal value. So 39.995 becomes 4000, not the 3999
// a float64 multiplication would produce.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if exp := amount.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return 0, fmt.Errorf("%w: exponent %d out of range", ErrInvalidAmount, exp)
	}
	if amount.GreaterThan(maxMajorUnits) {
		return 0, fmt.Errorf("%w: %s overflows minor units", ErrInvalidAmount, amount.String())
	}
	minor := amount.Shift(2).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %s rounds to zero minor units", ErrInvalidAmount, amount.String())
	}
	if minor.GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: %s overflows minor units", ErrInvalidAmount, amount.String())
	}
	return minor.IntPart(), nil
}

// FallbackReceipt builds the receipt used when the caller supplies none.
// Two calls within the same millisecond produce the same value.
func FallbackReceipt(now time.Time) string {
	return fmt.Sprintf("receipt_%d", now.UnixMilli())
}
