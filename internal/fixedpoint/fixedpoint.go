// Package fixedpoint implements the scaled-integer arithmetic used for all
// monetary quantities in the issuance engine.
//
// Amounts and prices are non-negative integers scaled to 18 fractional
// digits ("wad"), held in 256-bit unsigned integers. Multiplication before
// division goes through a full-width big.Int intermediate, so a*b never
// overflows before the precision divisor is applied. Division always floors.
//
// All monetary values use scaled uint256 integers — never float64 for money.
package fixedpoint

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrDivisionByZero is returned when a conversion divides by a zero
	// denominator (typically an unset price feed).
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: result overflows 256 bits")

	// ErrNegative is returned when parsing a negative amount.
	ErrNegative = errors.New("fixedpoint: amount must not be negative")

	// ErrTooPrecise is returned when parsing an amount with more than 18
	// fractional digits.
	ErrTooPrecise = errors.New("fixedpoint: more than 18 fractional digits")

	// ErrMalformed is returned for unparseable decimal strings.
	ErrMalformed = errors.New("fixedpoint: malformed decimal amount")
)

// WadDigits is the number of fractional digits in the engine's fixed-point
// representation.
const WadDigits = 18

// PriceFeedDigits is the number of fractional digits price feeds report in.
const PriceFeedDigits = 8

// Wad is 10^18, one whole unit in 18-digit fixed point.
var Wad = uint256.NewInt(1e18)

// PriceUpscale is 10^10, the factor that rescales an 8-digit feed price to
// 18-digit fixed point.
var PriceUpscale = uint256.NewInt(1e10)

// Max is the largest representable value. Used as the health factor of a
// debt-free account.
var Max = new(uint256.Int).SetAllOne()

// MulDiv returns floor(a * b / den) computed with a 512-bit intermediate
// product. den must be non-zero and the quotient must fit in 256 bits.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	prod.Quo(prod, den.ToBig())
	out, overflow := uint256.FromBig(prod)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Parse converts a non-negative decimal string ("1.5", "2000") into an
// 18-digit scaled integer. Amounts with more than 18 fractional digits are
// rejected rather than silently rounded.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, ErrMalformed
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}
	scaled := d.Shift(WadDigits)
	if !scaled.IsInteger() {
		return nil, ErrTooPrecise
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Format renders an 18-digit scaled integer as a decimal string with
// trailing zeros trimmed ("1.5", "2000").
func Format(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -WadDigits).String()
}

// FormatRatio renders a wad-scaled ratio (such as a health factor) as a
// decimal string. The all-ones sentinel for debt-free accounts renders as
// "max".
func FormatRatio(x *uint256.Int) string {
	if x.Eq(Max) {
		return "max"
	}
	return Format(x)
}
