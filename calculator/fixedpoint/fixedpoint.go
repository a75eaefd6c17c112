// Package fixedpoint provides 256-bit-safe checked arithmetic for the pricing
// core. All operations fail with an error instead of wrapping or truncating;
// silently substituting a value in financial arithmetic is a correctness bug.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Rounding controls the direction of the quotient in MulDiv.
type Rounding uint8

const (
	// RoundingDown floors the quotient toward zero.
	RoundingDown Rounding = iota
	// RoundingUp adds one unit when a nonzero remainder exists.
	RoundingUp
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrConversion     = errors.New("value does not fit target width")

	// maxUint128 is the largest value representable in 128 bits (2^128 - 1).
	maxUint128 = uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")

	one = uint256.NewInt(1)
)

// Add writes x + y into dest, failing on 256-bit overflow.
func Add(dest, x, y *uint256.Int) error {
	if _, overflow := dest.AddOverflow(x, y); overflow {
		return ErrOverflow
	}
	return nil
}

// Sub writes x - y into dest, failing when y > x.
func Sub(dest, x, y *uint256.Int) error {
	if _, underflow := dest.SubOverflow(x, y); underflow {
		return ErrUnderflow
	}
	return nil
}

// Mul writes x * y into dest, failing on 256-bit overflow.
func Mul(dest, x, y *uint256.Int) error {
	if _, overflow := dest.MulOverflow(x, y); overflow {
		return ErrOverflow
	}
	return nil
}

// Div writes x / y into dest, flooring the quotient.
func Div(dest, x, y *uint256.Int) error {
	if y.IsZero() {
		return ErrDivisionByZero
	}
	dest.Div(x, y)
	return nil
}

// MulDiv writes floor(a*b/denominator) into dest, or the same value plus one
// unit when rounding is RoundingUp and the division leaves a remainder. The
// product is computed at full width before dividing, so operands whose product
// exceeds 128 bits are handled exactly.
//
// Both multiplicands must fit in 128 bits; wider operands fail with
// ErrOverflow. The restriction keeps the full product representable in 256
// bits without a wider integer type, and matches every value this core feeds
// through it (prices and liquidity are u128, amounts are u64 or u128).
func MulDiv(dest, a, b, denominator *uint256.Int, rounding Rounding) error {
	if denominator.IsZero() {
		return ErrDivisionByZero
	}
	if a.Gt(maxUint128) || b.Gt(maxUint128) {
		return ErrOverflow
	}

	var product, rem uint256.Int
	product.Mul(a, b)
	dest.DivMod(&product, denominator, &rem)

	if rounding == RoundingUp && !rem.IsZero() {
		if _, overflow := dest.AddOverflow(dest, one); overflow {
			return ErrOverflow
		}
	}
	return nil
}

// MulDivU64 is MulDiv narrowed to uint64 operands and result. It fails with
// ErrConversion when the quotient does not fit in 64 bits.
func MulDivU64(a, b, denominator uint64, rounding Rounding) (uint64, error) {
	var dest uint256.Int
	err := MulDiv(
		&dest,
		uint256.NewInt(a),
		uint256.NewInt(b),
		uint256.NewInt(denominator),
		rounding,
	)
	if err != nil {
		return 0, err
	}
	if !dest.IsUint64() {
		return 0, ErrConversion
	}
	return dest.Uint64(), nil
}

// MulDivU128 is MulDiv with the result checked to fit in 128 bits, the width
// of prices and liquidity magnitudes.
func MulDivU128(dest, a, b, denominator *uint256.Int, rounding Rounding) error {
	if err := MulDiv(dest, a, b, denominator, rounding); err != nil {
		return err
	}
	if dest.Gt(maxUint128) {
		return ErrConversion
	}
	return nil
}

// FitsU128 reports whether x is representable in 128 bits.
func FitsU128(x *uint256.Int) bool {
	return !x.Gt(maxUint128)
}
