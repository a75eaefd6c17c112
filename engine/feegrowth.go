package engine

import (
	"github.com/holiman/uint256"
)

// Fee growth counters are Q64.64 per unit of liquidity and wrap modulo
// 2^256. Only differences between snapshots are meaningful; the subtraction
// wrapping cancels as long as the true delta fits.

// FeeGrowthInside computes the fee growth accumulated inside [lower, upper]
// for both tokens. The outside counters flip ownership as the price crosses
// a tick, so the inside value is global minus the growth below the lower
// tick and above the upper tick.
func FeeGrowthInside(
	inside0, inside1 *uint256.Int,
	lower, upper TickInfo,
	currentTick int32,
	feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int,
) {
	var below0, below1, above0, above1 uint256.Int

	if currentTick >= lower.Index {
		below0.Set(lower.FeeGrowthOutside0)
		below1.Set(lower.FeeGrowthOutside1)
	} else {
		below0.Sub(feeGrowthGlobal0, lower.FeeGrowthOutside0)
		below1.Sub(feeGrowthGlobal1, lower.FeeGrowthOutside1)
	}

	if currentTick < upper.Index {
		above0.Set(upper.FeeGrowthOutside0)
		above1.Set(upper.FeeGrowthOutside1)
	} else {
		above0.Sub(feeGrowthGlobal0, upper.FeeGrowthOutside0)
		above1.Sub(feeGrowthGlobal1, upper.FeeGrowthOutside1)
	}

	inside0.Sub(feeGrowthGlobal0, &below0)
	inside0.Sub(inside0, &above0)
	inside1.Sub(feeGrowthGlobal1, &below1)
	inside1.Sub(inside1, &above1)
}

// TokensOwed converts a fee-growth-inside delta into a token amount for a
// position: liquidity * (insideNow - insideLast) / 2^64. The subtraction
// wraps; the product uses modular arithmetic matching the counter encoding.
func TokensOwed(dest *uint256.Int, liquidity, insideNow, insideLast *uint256.Int) {
	var delta uint256.Int
	delta.Sub(insideNow, insideLast)
	dest.Mul(liquidity, &delta)
	dest.Rsh(dest, 64)
}
