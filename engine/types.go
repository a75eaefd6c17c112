// Package engine orchestrates multi-step swaps over the pricing kernel:
// tick crossing against a tick store, fee growth accounting, the just-in-time
// liquidity overlay, and oracle observations. Each market is guarded by one
// mutex; cross-market operations are independent.
package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/oracle"
)

var (
	ErrMarketExists      = errors.New("market already registered")
	ErrMarketNotFound    = errors.New("market not registered")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvalidPriceLimit = errors.New("price limit on wrong side of current price")
	ErrReadOnlyTickStore = errors.New("tick store is read-only")
)

// TickInfo is the per-tick state a swap consults when deciding where to stop
// and what liquidity change a crossing applies.
type TickInfo struct {
	Index int32
	// LiquidityNet is the signed change applied to active liquidity when the
	// tick is crossed left to right.
	LiquidityNet *big.Int
	// LiquidityGross is the total liquidity referencing the tick; the tick
	// is deinitialized when it reaches zero.
	LiquidityGross *uint256.Int

	FeeGrowthOutside0 *uint256.Int
	FeeGrowthOutside1 *uint256.Int

	Initialized bool
}

// TickStore is the tick-state collaborator. The swap loop uses it to learn
// where to stop; net-liquidity changes are applied by the engine after a
// crossing.
type TickStore interface {
	// Get returns the tick state, reporting whether the tick is initialized.
	Get(ctx context.Context, index int32) (TickInfo, bool, error)
	// Update applies a signed liquidity delta to a tick boundary. upper
	// flips the sign of the net contribution.
	Update(ctx context.Context, index int32, delta *big.Int, upper bool) error
	// NextInitialized returns the nearest initialized tick from the starting
	// tick in the requested direction. searchLeft includes the starting tick
	// itself; the other direction is strictly greater.
	NextInitialized(ctx context.Context, tick int32, searchLeft bool) (int32, bool, error)
	// Cross flips the tick's outside fee growth against the provided global
	// counters and returns the net liquidity to apply.
	Cross(ctx context.Context, index int32, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int) (*big.Int, error)
}

// FundingLedger is the buffer/cooldown collaborator for the liquidity
// overlay.
type FundingLedger interface {
	BufferBalance(ctx context.Context, market string) (*uint256.Int, error)
	LastHeavyUsage(ctx context.Context, market string) (uint64, error)
	// RecordConsumption debits the buffer and, when heavy is set, moves the
	// heavy-usage marker to slot.
	RecordConsumption(ctx context.Context, market string, consumed *uint256.Int, slot uint64, heavy bool) error
}

// Market is the mutable per-market state handle. All fields are guarded by
// mu; the engine enforces single-writer access during a swap.
type Market struct {
	mu sync.Mutex

	ID          string
	FeeBps      uint32
	TickSpacing int32

	SqrtPrice *uint256.Int
	Tick      int32
	Liquidity *uint256.Int

	FeeGrowthGlobal0 *uint256.Int
	FeeGrowthGlobal1 *uint256.Int

	CumVol0 *uint256.Int
	CumVol1 *uint256.Int

	Oracle *oracle.TWAPOracle
}

// MarketParams describes a market at registration time.
type MarketParams struct {
	ID          string
	FeeBps      uint32
	TickSpacing int32
	SqrtPrice   *uint256.Int
	Tick        int32
	Liquidity   *uint256.Int
}

// SwapParams describes one swap request against a market.
type SwapParams struct {
	MarketID string
	// Amount is the input amount for exact-in swaps and the requested output
	// for exact-out swaps. Must be positive.
	Amount  *uint256.Int
	ExactIn bool
	// ZeroForOne is the direction: token0 in, price decreasing.
	ZeroForOne bool
	// SqrtPriceLimit bounds the price movement. Nil means the tick-range
	// extreme in the swap direction.
	SqrtPriceLimit *uint256.Int

	// Slot is the sequence number used for overlay cooldown accounting.
	Slot uint64
	// Timestamp feeds the oracle observation after the swap, unix seconds.
	Timestamp uint64
}

// SwapSummary is the aggregate result of a completed swap.
type SwapSummary struct {
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	FeeAmount *uint256.Int

	SqrtPrice *uint256.Int
	Tick      int32
	Liquidity *uint256.Int

	TicksCrossed int
	// JITConsumed is the total buffer-funded improvement across steps, zero
	// when the overlay never activated.
	JITConsumed  *uint256.Int
	JITActivated bool
}
