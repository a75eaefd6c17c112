// Package jit computes the ephemeral just-in-time liquidity overlay for a
// single swap step. A placement exists only for the duration of one
// computation and is never recorded as a standing position; its effect is the
// difference between the boosted and baseline step results, which the caller
// charges against the funding buffer.
package jit

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
	"github.com/helixpool/clmm-core-go/calculator/swapmath"
)

// WeightDenominator is the required sum of a placement's concentration
// weights, in basis points.
const WeightDenominator = uint32(10_000)

// DefaultCooldownSlots is the minimum slot distance from the last heavy-usage
// marker before the overlay may activate again.
const DefaultCooldownSlots = uint64(2)

var (
	ErrInvalidWeightSum = errors.New("concentration weights must sum to 10000")
	ErrNilPolicy        = errors.New("placement policy must not be nil")
)

// Config holds the per-market overlay parameters. Zero value disables the
// overlay.
type Config struct {
	// Enabled gates the whole mechanism for the market.
	Enabled bool
	// MinQuoteSize is the smallest quote-denominated swap size eligible for
	// a boost. Nil means no minimum.
	MinQuoteSize *uint256.Int
	// CooldownSlots is the required slot distance from the last heavy-usage
	// marker. Zero falls back to DefaultCooldownSlots.
	CooldownSlots uint64
	// MaxBoostBps caps the effective liquidity at
	// base * (10000 + MaxBoostBps) / 10000.
	MaxBoostBps uint32
	// HeavyUsageBps marks a swap as heavy usage when the consumed amount
	// reaches this fraction of the funding buffer, in basis points.
	HeavyUsageBps uint32
}

func (c Config) cooldownSlots() uint64 {
	if c.CooldownSlots == 0 {
		return DefaultCooldownSlots
	}
	return c.CooldownSlots
}

// Placement is the ephemeral virtual position computed by a policy. It is a
// plain value: callers use it for one step and drop it.
type Placement struct {
	// Liquidity is the virtual liquidity at the placement center.
	Liquidity *uint256.Int
	// CenterTick anchors the concentration curve.
	CenterTick int32
	// WidthTicks is the half-width of the covered range; the virtual
	// liquidity is zero beyond CenterTick +/- WidthTicks.
	WidthTicks int32
	// Weights describes the decay curve from the center outward, in basis
	// points. Weights[0] applies at the center; the last entry at the edge.
	// Must sum to WeightDenominator.
	Weights []uint16
	// SafetyBound limits the virtual liquidity regardless of the curve.
	// Nil means unbounded.
	SafetyBound *uint256.Int
}

// Validate checks the weight-sum invariant.
func (p *Placement) Validate() error {
	var sum uint32
	for _, w := range p.Weights {
		sum += uint32(w)
	}
	if sum != WeightDenominator {
		return ErrInvalidWeightSum
	}
	return nil
}

// VirtualLiquidityAt returns the decayed virtual liquidity at the given tick.
// The result is zero outside the placement range.
func (p *Placement) VirtualLiquidityAt(dest *uint256.Int, tick int32) error {
	dest.Clear()
	if len(p.Weights) == 0 || p.Liquidity == nil || p.Liquidity.IsZero() {
		return nil
	}

	distance := tick - p.CenterTick
	if distance < 0 {
		distance = -distance
	}
	if distance > p.WidthTicks {
		return nil
	}

	// Map distance onto the weight curve: the center gets Weights[0], the
	// range edge the last entry.
	bucket := 0
	if p.WidthTicks > 0 {
		bucket = int(int64(distance) * int64(len(p.Weights)-1) / int64(p.WidthTicks))
	}

	err := fixedpoint.MulDivU128(
		dest,
		p.Liquidity,
		uint256.NewInt(uint64(p.Weights[bucket])),
		uint256.NewInt(uint64(WeightDenominator)),
		fixedpoint.RoundingDown,
	)
	if err != nil {
		return err
	}
	if p.SafetyBound != nil && dest.Gt(p.SafetyBound) {
		dest.Set(p.SafetyBound)
	}
	return nil
}

// PlanRequest carries everything a policy may consider when sizing a
// placement.
type PlanRequest struct {
	CurrentTick   int32
	BaseLiquidity *uint256.Int
	QuoteSize     *uint256.Int
	BufferBalance *uint256.Int
}

// PlacementPolicy sizes an ephemeral placement for one swap. Implementations
// must be pure: the same request yields the same placement.
type PlacementPolicy interface {
	Plan(req PlanRequest) (Placement, error)
}

// ExecParams bundles the swap-step inputs with the gate state read from the
// funding ledger before the step.
type ExecParams struct {
	SqrtPriceCurrent *uint256.Int
	SqrtPriceTarget  *uint256.Int
	Liquidity        *uint256.Int
	AmountRemaining  *uint256.Int
	FeeBps           uint32
	ExactIn          bool

	CurrentTick int32
	// QuoteSize is the swap size in quote-token terms, compared against
	// Config.MinQuoteSize.
	QuoteSize *uint256.Int

	Slot               uint64
	LastHeavyUsageSlot uint64
	BufferBalance      *uint256.Int
}

// Result is the outcome of one augmented step. When Activated is false the
// fields mirror the baseline step and Consumed is zero.
type Result struct {
	Activated bool
	Bound     swapmath.Bound

	SqrtPriceNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
	FeeAmount     *uint256.Int

	// Consumed is the improvement funded by the overlay: extra output for
	// input-specified swaps, input saved for output-specified swaps. Never
	// negative.
	Consumed *uint256.Int
	// HeavyUsage reports whether Consumed crossed the configured fraction
	// of the funding buffer. The caller records the marker.
	HeavyUsage bool
}

// gatePasses evaluates the pre-flight conditions without side effects.
func gatePasses(cfg Config, p ExecParams) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.MinQuoteSize != nil && (p.QuoteSize == nil || p.QuoteSize.Lt(cfg.MinQuoteSize)) {
		return false
	}
	if p.Slot < p.LastHeavyUsageSlot+cfg.cooldownSlots() {
		return false
	}
	if p.BufferBalance == nil || p.BufferBalance.IsZero() {
		return false
	}
	return true
}

// Execute runs one swap step with the overlay. It always computes the
// baseline step; when the gate passes it also computes the boosted step and
// returns that result together with the derived consumption. Gate failure is
// not an error: the baseline result is returned with Consumed zero.
func Execute(cfg Config, policy PlacementPolicy, p ExecParams) (Result, error) {
	res := Result{
		SqrtPriceNext: new(uint256.Int),
		AmountIn:      new(uint256.Int),
		AmountOut:     new(uint256.Int),
		FeeAmount:     new(uint256.Int),
		Consumed:      new(uint256.Int),
	}

	bound, err := swapmath.ComputeSwapStep(
		res.SqrtPriceNext, res.AmountIn, res.AmountOut, res.FeeAmount,
		p.SqrtPriceCurrent, p.SqrtPriceTarget, p.Liquidity, p.AmountRemaining,
		p.FeeBps, p.ExactIn,
	)
	if err != nil {
		return Result{}, err
	}
	res.Bound = bound

	if !gatePasses(cfg, p) {
		return res, nil
	}
	if policy == nil {
		return Result{}, ErrNilPolicy
	}

	placement, err := policy.Plan(PlanRequest{
		CurrentTick:   p.CurrentTick,
		BaseLiquidity: p.Liquidity,
		QuoteSize:     p.QuoteSize,
		BufferBalance: p.BufferBalance,
	})
	if err != nil {
		return Result{}, err
	}
	if err := placement.Validate(); err != nil {
		return Result{}, err
	}

	var virtual, effective uint256.Int
	if err := placement.VirtualLiquidityAt(&virtual, p.CurrentTick); err != nil {
		return Result{}, err
	}
	if virtual.IsZero() {
		return res, nil
	}

	if err := fixedpoint.Add(&effective, p.Liquidity, &virtual); err != nil {
		return Result{}, err
	}
	if err := capBoost(&effective, p.Liquidity, cfg.MaxBoostBps); err != nil {
		return Result{}, err
	}
	if effective.Eq(p.Liquidity) {
		return res, nil
	}

	boosted := Result{
		SqrtPriceNext: new(uint256.Int),
		AmountIn:      new(uint256.Int),
		AmountOut:     new(uint256.Int),
		FeeAmount:     new(uint256.Int),
		Consumed:      new(uint256.Int),
		Activated:     true,
	}
	boosted.Bound, err = swapmath.ComputeSwapStep(
		boosted.SqrtPriceNext, boosted.AmountIn, boosted.AmountOut, boosted.FeeAmount,
		p.SqrtPriceCurrent, p.SqrtPriceTarget, &effective, p.AmountRemaining,
		p.FeeBps, p.ExactIn,
	)
	if err != nil {
		return Result{}, err
	}

	// Consumption is the improvement over baseline, floored at zero.
	if p.ExactIn {
		if boosted.AmountOut.Gt(res.AmountOut) {
			boosted.Consumed.Sub(boosted.AmountOut, res.AmountOut)
		}
	} else {
		totalBase := new(uint256.Int).Add(res.AmountIn, res.FeeAmount)
		totalBoost := new(uint256.Int).Add(boosted.AmountIn, boosted.FeeAmount)
		if totalBase.Gt(totalBoost) {
			boosted.Consumed.Sub(totalBase, totalBoost)
		}
	}

	boosted.HeavyUsage = isHeavyUsage(cfg, boosted.Consumed, p.BufferBalance)
	return boosted, nil
}

// capBoost clamps effective to base * (10000 + maxBoostBps) / 10000.
func capBoost(effective, base *uint256.Int, maxBoostBps uint32) error {
	if maxBoostBps == 0 {
		return nil
	}
	var cap256 uint256.Int
	err := fixedpoint.MulDivU128(
		&cap256,
		base,
		uint256.NewInt(uint64(WeightDenominator+maxBoostBps)),
		uint256.NewInt(uint64(WeightDenominator)),
		fixedpoint.RoundingDown,
	)
	if err != nil {
		return err
	}
	if effective.Gt(&cap256) {
		effective.Set(&cap256)
	}
	return nil
}

func isHeavyUsage(cfg Config, consumed, buffer *uint256.Int) bool {
	if cfg.HeavyUsageBps == 0 || consumed.IsZero() || buffer == nil || buffer.IsZero() {
		return false
	}
	var threshold uint256.Int
	err := fixedpoint.MulDiv(
		&threshold,
		buffer,
		uint256.NewInt(uint64(cfg.HeavyUsageBps)),
		uint256.NewInt(uint64(WeightDenominator)),
		fixedpoint.RoundingUp,
	)
	if err != nil {
		return false
	}
	return !consumed.Lt(&threshold)
}
