// Package swapmath executes one bounded swap segment against fixed liquidity.
// A step ends at the target price (tick boundary or caller's limit, whichever
// the caller clamped to) or earlier when the specified amount is exhausted.
package swapmath

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
	"github.com/helixpool/clmm-core-go/calculator/liquiditymath"
)

// FeeDenominator is the fee rate scale: fees are expressed in basis points.
const FeeDenominator = uint32(10_000)

// Bound identifies what terminated a swap step.
type Bound uint8

const (
	// BoundedByAmount means the specified amount was fully consumed inside
	// the current liquidity segment.
	BoundedByAmount Bound = iota
	// BoundedByTarget means the step ran into the clamped target price (the
	// next initialized tick or the caller's price limit).
	BoundedByTarget
)

// swapMath holds reusable uint256 objects for a single ComputeSwapStep call.
// Instances are managed by a sync.Pool for safe concurrent use.
type swapMath struct {
	sqrtPriceNext *uint256.Int
	amountIn      *uint256.Int
	amountOut     *uint256.Int
	feeAmount     *uint256.Int

	amountLessFee *uint256.Int
	tmp           *uint256.Int
}

var swapMathPool = sync.Pool{
	New: func() any {
		return &swapMath{
			sqrtPriceNext: new(uint256.Int),
			amountIn:      new(uint256.Int),
			amountOut:     new(uint256.Int),
			feeAmount:     new(uint256.Int),
			amountLessFee: new(uint256.Int),
			tmp:           new(uint256.Int),
		}
	},
}

// ComputeSwapStep calculates the result of a swap within a single liquidity
// segment: the next price, the net input consumed (excluding fee), the output
// produced, and the fee taken. The fee is subtracted from the input before
// the price-movement calculation. amountRemaining is interpreted as an input
// amount when exactIn is true and as a requested output otherwise.
//
// A zero amountRemaining leaves the price unchanged with zero amounts.
func ComputeSwapStep(
	// destination pointers
	sqrtPriceNext *uint256.Int,
	amountIn *uint256.Int,
	amountOut *uint256.Int,
	feeAmount *uint256.Int,

	sqrtPriceCurrent *uint256.Int,
	sqrtPriceTarget *uint256.Int,
	liquidity *uint256.Int,
	amountRemaining *uint256.Int,
	feeBps uint32,
	exactIn bool,
) (Bound, error) {
	s := swapMathPool.Get().(*swapMath)
	defer swapMathPool.Put(s)

	bound, err := s.computeSwapStep(sqrtPriceCurrent, sqrtPriceTarget, liquidity, amountRemaining, feeBps, exactIn)
	if err != nil {
		return bound, err
	}

	sqrtPriceNext.Set(s.sqrtPriceNext)
	amountIn.Set(s.amountIn)
	amountOut.Set(s.amountOut)
	feeAmount.Set(s.feeAmount)
	return bound, nil
}

func (s *swapMath) computeSwapStep(
	sqrtPriceCurrent, sqrtPriceTarget, liquidity, amountRemaining *uint256.Int,
	feeBps uint32,
	exactIn bool,
) (Bound, error) {
	zeroForOne := !sqrtPriceCurrent.Lt(sqrtPriceTarget)

	s.amountIn.Clear()
	s.amountOut.Clear()
	s.feeAmount.Clear()

	if amountRemaining.IsZero() {
		s.sqrtPriceNext.Set(sqrtPriceCurrent)
		return BoundedByAmount, nil
	}
	if feeBps >= FeeDenominator {
		return BoundedByAmount, fixedpoint.ErrDivisionByZero
	}

	if exactIn {
		// Take the fee off the input before moving the price.
		err := fixedpoint.MulDiv(
			s.amountLessFee,
			amountRemaining,
			s.tmp.SetUint64(uint64(FeeDenominator-feeBps)),
			uint256.NewInt(uint64(FeeDenominator)),
			fixedpoint.RoundingDown,
		)
		if err != nil {
			return BoundedByAmount, err
		}

		if zeroForOne {
			err = liquiditymath.Amount0Delta(s.amountIn, sqrtPriceTarget, sqrtPriceCurrent, liquidity, true)
		} else {
			err = liquiditymath.Amount1Delta(s.amountIn, sqrtPriceCurrent, sqrtPriceTarget, liquidity, true)
		}
		if err != nil {
			return BoundedByAmount, err
		}

		if !s.amountLessFee.Lt(s.amountIn) {
			s.sqrtPriceNext.Set(sqrtPriceTarget)
		} else if err := liquiditymath.NextSqrtPriceFromInput(s.sqrtPriceNext, sqrtPriceCurrent, liquidity, s.amountLessFee, zeroForOne); err != nil {
			return BoundedByAmount, err
		}
	} else {
		var err error
		if zeroForOne {
			err = liquiditymath.Amount1Delta(s.amountOut, sqrtPriceTarget, sqrtPriceCurrent, liquidity, false)
		} else {
			err = liquiditymath.Amount0Delta(s.amountOut, sqrtPriceCurrent, sqrtPriceTarget, liquidity, false)
		}
		if err != nil {
			return BoundedByAmount, err
		}

		if !amountRemaining.Lt(s.amountOut) {
			s.sqrtPriceNext.Set(sqrtPriceTarget)
		} else if err := liquiditymath.NextSqrtPriceFromOutput(s.sqrtPriceNext, sqrtPriceCurrent, liquidity, amountRemaining, zeroForOne); err != nil {
			return BoundedByAmount, err
		}
	}

	reachedTarget := sqrtPriceTarget.Eq(s.sqrtPriceNext)

	// Recompute the exact amounts for the clamped price.
	if zeroForOne {
		if !(reachedTarget && exactIn) {
			if err := liquiditymath.Amount0Delta(s.amountIn, s.sqrtPriceNext, sqrtPriceCurrent, liquidity, true); err != nil {
				return BoundedByAmount, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if err := liquiditymath.Amount1Delta(s.amountOut, s.sqrtPriceNext, sqrtPriceCurrent, liquidity, false); err != nil {
				return BoundedByAmount, err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if err := liquiditymath.Amount1Delta(s.amountIn, sqrtPriceCurrent, s.sqrtPriceNext, liquidity, true); err != nil {
				return BoundedByAmount, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if err := liquiditymath.Amount0Delta(s.amountOut, sqrtPriceCurrent, s.sqrtPriceNext, liquidity, false); err != nil {
				return BoundedByAmount, err
			}
		}
	}

	// Never hand out more than the requested output.
	if !exactIn && s.amountOut.Gt(amountRemaining) {
		s.amountOut.Set(amountRemaining)
	}

	if exactIn && !reachedTarget && feeBps > 0 {
		// The whole remainder was consumed; the leftover after the net
		// input is the fee. With no fee configured the leftover is price
		// quantization dust and stays unconsumed.
		s.feeAmount.Sub(amountRemaining, s.amountIn)
	} else {
		err := fixedpoint.MulDiv(
			s.feeAmount,
			s.amountIn,
			s.tmp.SetUint64(uint64(feeBps)),
			uint256.NewInt(uint64(FeeDenominator-feeBps)),
			fixedpoint.RoundingUp,
		)
		if err != nil {
			return BoundedByAmount, err
		}
	}

	if reachedTarget {
		return BoundedByTarget, nil
	}
	return BoundedByAmount, nil
}
