package jit

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
)

var ErrInvalidPolicyConfig = errors.New("policy config out of range")

// TriangularPolicy sizes a placement as a fraction of the funding buffer with
// a triangular decay curve: full weight at the current tick, falling linearly
// to zero at the range edge.
type TriangularPolicy struct {
	// BufferFractionBps is the share of the funding buffer committed as
	// virtual liquidity, in basis points.
	BufferFractionBps uint32
	// WidthTicks is the placement half-width.
	WidthTicks int32
	// Buckets is the number of decay steps. Minimum 1.
	Buckets int
}

// NewTriangularPolicy validates the parameters up front so Plan never fails
// on configuration.
func NewTriangularPolicy(bufferFractionBps uint32, widthTicks int32, buckets int) (*TriangularPolicy, error) {
	if bufferFractionBps == 0 || bufferFractionBps > WeightDenominator {
		return nil, ErrInvalidPolicyConfig
	}
	if widthTicks < 0 || buckets < 1 {
		return nil, ErrInvalidPolicyConfig
	}
	return &TriangularPolicy{
		BufferFractionBps: bufferFractionBps,
		WidthTicks:        widthTicks,
		Buckets:           buckets,
	}, nil
}

// Plan returns a placement centered on the current tick. The placement
// liquidity is buffer * BufferFractionBps / 10000, bounded by the buffer
// itself, with the decay weights summing exactly to WeightDenominator.
func (p *TriangularPolicy) Plan(req PlanRequest) (Placement, error) {
	liquidity := new(uint256.Int)
	if req.BufferBalance != nil && !req.BufferBalance.IsZero() {
		err := fixedpoint.MulDivU128(
			liquidity,
			req.BufferBalance,
			uint256.NewInt(uint64(p.BufferFractionBps)),
			uint256.NewInt(uint64(WeightDenominator)),
			fixedpoint.RoundingDown,
		)
		if err != nil {
			return Placement{}, err
		}
	}

	return Placement{
		Liquidity:   liquidity,
		CenterTick:  req.CurrentTick,
		WidthTicks:  p.WidthTicks,
		Weights:     triangularWeights(p.Buckets),
		SafetyBound: new(uint256.Int).Set(liquidity),
	}, nil
}

// triangularWeights builds n weights decreasing linearly from the first
// bucket, summing exactly to WeightDenominator. The remainder of the integer
// division lands on the center bucket so the invariant holds for every n.
func triangularWeights(n int) []uint16 {
	if n == 1 {
		return []uint16{uint16(WeightDenominator)}
	}

	// Raw profile n, n-1, ..., 1 has sum n*(n+1)/2.
	total := n * (n + 1) / 2
	weights := make([]uint16, n)
	sum := uint32(0)
	for i := 0; i < n; i++ {
		w := uint32(int(WeightDenominator) * (n - i) / total)
		weights[i] = uint16(w)
		sum += w
	}
	weights[0] += uint16(WeightDenominator - sum)
	return weights
}
