// Package liquiditymath implements the concentrated-liquidity conversion
// formulas between token amounts, Q64.64 square-root prices, and liquidity
// magnitudes. Rounding direction is part of every contract: the protocol
// rounds in its own favor when capping what a taker pays or receives.
package liquiditymath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
)

// Resolution is the number of fractional bits in the Q64.64 price format.
const Resolution = uint(64)

var (
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
	ErrLiquidityZero = errors.New("liquidity must be greater than zero")

	// q64 is 1 in Q64.64.
	q64 = new(big.Int).Lsh(big.NewInt(1), Resolution)

	one        = big.NewInt(1)
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// liquidityMath holds reusable big.Int objects for intermediates that can
// exceed 256 bits. Instances are managed by a sync.Pool for safe concurrent
// use.
type liquidityMath struct {
	numerator1  *big.Int
	numerator2  *big.Int
	denominator *big.Int
	product     *big.Int
	quotient    *big.Int
	term        *big.Int
	rem         *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &liquidityMath{
			numerator1:  new(big.Int),
			numerator2:  new(big.Int),
			denominator: new(big.Int),
			product:     new(big.Int),
			quotient:    new(big.Int),
			term:        new(big.Int),
			rem:         new(big.Int),
		}
	},
}

// mulDiv writes floor(a*b/c) into dest.
func (l *liquidityMath) mulDiv(dest, a, b, c *big.Int) {
	l.product.Mul(a, b)
	dest.Div(l.product, c)
}

// mulDivRoundingUp writes ceil(a*b/c) into dest.
func (l *liquidityMath) mulDivRoundingUp(dest, a, b, c *big.Int) {
	l.product.Mul(a, b)
	dest.Div(l.product, c)
	if l.rem.Rem(l.product, c).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// divRoundingUp writes ceil(a/b) into dest.
func (l *liquidityMath) divRoundingUp(dest, a, b *big.Int) {
	dest.Div(a, b)
	if l.rem.Rem(a, b).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// setResult narrows a big.Int result back to uint256, enforcing the 128-bit
// amount/price width used at every boundary of this core.
func setResult(dest *uint256.Int, v *big.Int) error {
	if v.Sign() < 0 {
		return fixedpoint.ErrUnderflow
	}
	if v.Cmp(maxUint128) > 0 {
		return fixedpoint.ErrConversion
	}
	res, overflow := uint256.FromBig(v)
	if overflow {
		return fixedpoint.ErrConversion
	}
	dest.Set(res)
	return nil
}

// Amount0Delta writes the token0 amount implied by liquidity over
// [priceA, priceB]: liquidity * 2^64 * (priceB - priceA) / (priceA * priceB).
// Arguments are normalized so order does not matter. roundUp rounds in the
// protocol's favor.
func Amount0Delta(dest *uint256.Int, priceA, priceB, liquidity *uint256.Int, roundUp bool) error {
	if priceA.Gt(priceB) {
		priceA, priceB = priceB, priceA
	}
	if priceA.IsZero() {
		return ErrSqrtPriceZero
	}

	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	l.numerator1.Lsh(liquidity.ToBig(), Resolution)
	l.numerator2.Sub(priceB.ToBig(), priceA.ToBig())

	if roundUp {
		l.mulDivRoundingUp(l.term, l.numerator1, l.numerator2, priceB.ToBig())
		l.divRoundingUp(l.quotient, l.term, priceA.ToBig())
	} else {
		l.mulDiv(l.term, l.numerator1, l.numerator2, priceB.ToBig())
		l.quotient.Div(l.term, priceA.ToBig())
	}
	return setResult(dest, l.quotient)
}

// Amount1Delta writes the token1 amount implied by liquidity over
// [priceA, priceB]: liquidity * (priceB - priceA) / 2^64.
func Amount1Delta(dest *uint256.Int, priceA, priceB, liquidity *uint256.Int, roundUp bool) error {
	if priceA.Gt(priceB) {
		priceA, priceB = priceB, priceA
	}

	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	l.numerator1.Sub(priceB.ToBig(), priceA.ToBig())
	if roundUp {
		l.mulDivRoundingUp(l.quotient, liquidity.ToBig(), l.numerator1, q64)
	} else {
		l.mulDiv(l.quotient, liquidity.ToBig(), l.numerator1, q64)
	}
	return setResult(dest, l.quotient)
}

// NextSqrtPriceFromAmount0 writes the price after consuming (add) or
// producing (remove) a token0 amount at fixed liquidity. The result is
// rounded up: token0 added moves the price down, and rounding up guarantees
// the pool never owes more than the exact formula implies.
func NextSqrtPriceFromAmount0(dest *uint256.Int, price, liquidity, amount *uint256.Int, add bool) error {
	if amount.IsZero() {
		dest.Set(price)
		return nil
	}

	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	l.numerator1.Lsh(liquidity.ToBig(), Resolution)
	l.product.Mul(amount.ToBig(), price.ToBig())

	if add {
		l.denominator.Add(l.numerator1, l.product)
		l.mulDivRoundingUp(l.quotient, l.numerator1, price.ToBig(), l.denominator)
		return setResult(dest, l.quotient)
	}

	if l.numerator1.Cmp(l.product) <= 0 {
		return fixedpoint.ErrUnderflow
	}
	l.denominator.Sub(l.numerator1, l.product)
	l.mulDivRoundingUp(l.quotient, l.numerator1, price.ToBig(), l.denominator)
	return setResult(dest, l.quotient)
}

// NextSqrtPriceFromAmount1 writes the price after consuming (add) or
// producing (remove) a token1 amount at fixed liquidity. The result is
// rounded down, mirroring the token0 asymmetry.
func NextSqrtPriceFromAmount1(dest *uint256.Int, price, liquidity, amount *uint256.Int, add bool) error {
	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	if add {
		l.mulDiv(l.quotient, amount.ToBig(), q64, liquidity.ToBig())
		l.quotient.Add(price.ToBig(), l.quotient)
		return setResult(dest, l.quotient)
	}

	l.mulDivRoundingUp(l.quotient, amount.ToBig(), q64, liquidity.ToBig())
	l.term.Set(price.ToBig())
	if l.term.Cmp(l.quotient) <= 0 {
		return fixedpoint.ErrUnderflow
	}
	l.quotient.Sub(l.term, l.quotient)
	return setResult(dest, l.quotient)
}

// NextSqrtPriceFromInput dispatches on swap direction for an input amount.
// zeroForOne means token0 in, price decreasing.
func NextSqrtPriceFromInput(dest *uint256.Int, price, liquidity, amountIn *uint256.Int, zeroForOne bool) error {
	if price.IsZero() {
		return ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount0(dest, price, liquidity, amountIn, true)
	}
	return NextSqrtPriceFromAmount1(dest, price, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput dispatches on swap direction for an output amount.
func NextSqrtPriceFromOutput(dest *uint256.Int, price, liquidity, amountOut *uint256.Int, zeroForOne bool) error {
	if price.IsZero() {
		return ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount1(dest, price, liquidity, amountOut, false)
	}
	return NextSqrtPriceFromAmount0(dest, price, liquidity, amountOut, false)
}

// LiquidityForAmount0 writes the liquidity implied by a token0 amount over
// [priceA, priceB]: amount0 * (priceA * priceB / 2^64) / (priceB - priceA).
func LiquidityForAmount0(dest *uint256.Int, priceA, priceB, amount0 *uint256.Int) error {
	if priceA.Gt(priceB) {
		priceA, priceB = priceB, priceA
	}
	if priceA.IsZero() {
		return ErrSqrtPriceZero
	}
	if priceA.Eq(priceB) {
		return fixedpoint.ErrDivisionByZero
	}

	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	l.mulDiv(l.term, priceA.ToBig(), priceB.ToBig(), q64)
	l.numerator2.Sub(priceB.ToBig(), priceA.ToBig())
	l.mulDiv(l.quotient, amount0.ToBig(), l.term, l.numerator2)
	return setResult(dest, l.quotient)
}

// LiquidityForAmount1 writes the liquidity implied by a token1 amount over
// [priceA, priceB]: amount1 * 2^64 / (priceB - priceA).
func LiquidityForAmount1(dest *uint256.Int, priceA, priceB, amount1 *uint256.Int) error {
	if priceA.Gt(priceB) {
		priceA, priceB = priceB, priceA
	}
	if priceA.Eq(priceB) {
		return fixedpoint.ErrDivisionByZero
	}

	l := pool.Get().(*liquidityMath)
	defer pool.Put(l)

	l.numerator2.Sub(priceB.ToBig(), priceA.ToBig())
	l.mulDiv(l.quotient, amount1.ToBig(), q64, l.numerator2)
	return setResult(dest, l.quotient)
}

// LiquidityForAmounts sizes a deposit of both tokens over [priceA, priceB]
// at the current price. Inside the range the limiting token decides: the
// result is the minimum of the liquidity implied by each side.
func LiquidityForAmounts(dest *uint256.Int, price, priceA, priceB, amount0, amount1 *uint256.Int) error {
	if priceA.Gt(priceB) {
		priceA, priceB = priceB, priceA
	}

	if !price.Gt(priceA) {
		// Entirely in token0 territory.
		return LiquidityForAmount0(dest, priceA, priceB, amount0)
	}
	if !price.Lt(priceB) {
		// Entirely in token1 territory.
		return LiquidityForAmount1(dest, priceA, priceB, amount1)
	}

	var liquidity0, liquidity1 uint256.Int
	if err := LiquidityForAmount0(&liquidity0, price, priceB, amount0); err != nil {
		return err
	}
	if err := LiquidityForAmount1(&liquidity1, priceA, price, amount1); err != nil {
		return err
	}
	if liquidity0.Lt(&liquidity1) {
		dest.Set(&liquidity0)
	} else {
		dest.Set(&liquidity1)
	}
	return nil
}

// AddDelta applies a signed liquidity delta to an unsigned liquidity value,
// failing on underflow below zero or overflow past 128 bits.
func AddDelta(dest *uint256.Int, x *uint256.Int, delta *big.Int) error {
	sum := new(big.Int).Add(x.ToBig(), delta)
	if sum.Sign() < 0 {
		return fixedpoint.ErrUnderflow
	}
	if sum.Cmp(maxUint128) > 0 {
		return fixedpoint.ErrOverflow
	}
	res, _ := uint256.FromBig(sum)
	dest.Set(res)
	return nil
}
