package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixpool/clmm-core-go/calculator/swapmath"
	"github.com/helixpool/clmm-core-go/calculator/tickmath"
	"github.com/helixpool/clmm-core-go/jit"
)

func priceAt(t *testing.T, tick int32) *uint256.Int {
	t.Helper()
	price := new(uint256.Int)
	require.NoError(t, tickmath.SqrtPriceAtTick(price, tick))
	return price
}

func newTestEngine(t *testing.T, ticks TickStore) *Engine {
	t.Helper()
	if ticks == nil {
		ticks = NewMemoryTickStore()
	}
	eng, err := New(&Config{
		Ticks:    ticks,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return eng
}

func registerTestMarket(t *testing.T, eng *Engine, liquidity uint64) *Market {
	t.Helper()
	market, err := eng.RegisterMarket(MarketParams{
		ID:          "test",
		FeeBps:      30,
		TickSpacing: 60,
		SqrtPrice:   priceAt(t, 0),
		Tick:        0,
		Liquidity:   uint256.NewInt(liquidity),
	})
	require.NoError(t, err)
	return market
}

func TestNew_ConfigValidation(t *testing.T) {
	_, err := New(&Config{Registry: prometheus.NewRegistry()})
	assert.Error(t, err)

	_, err = New(&Config{Ticks: NewMemoryTickStore()})
	assert.Error(t, err)

	_, err = New(&Config{
		Ticks:    NewMemoryTickStore(),
		Registry: prometheus.NewRegistry(),
		JIT:      jit.Config{Enabled: true},
	})
	assert.Error(t, err, "overlay without ledger and policy must be rejected")
}

func TestRegisterMarket_Validation(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.RegisterMarket(MarketParams{
		ID:          "bad-price",
		TickSpacing: 60,
		SqrtPrice:   uint256.NewInt(1),
	})
	assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfBounds)

	_, err = eng.RegisterMarket(MarketParams{
		ID:          "bad-tick",
		TickSpacing: 60,
		SqrtPrice:   priceAt(t, 0),
		Tick:        5,
	})
	assert.Error(t, err)

	registerTestMarket(t, eng, 1)
	_, err = eng.RegisterMarket(MarketParams{
		ID:          "test",
		TickSpacing: 60,
		SqrtPrice:   priceAt(t, 0),
	})
	assert.ErrorIs(t, err, ErrMarketExists)
}

func TestSwap_UnknownMarketAndZeroAmount(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.Swap(ctx, SwapParams{MarketID: "nope", Amount: uint256.NewInt(1)})
	assert.ErrorIs(t, err, ErrMarketNotFound)

	registerTestMarket(t, eng, 1000)
	_, err = eng.Swap(ctx, SwapParams{MarketID: "test", Amount: new(uint256.Int)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSwap_PriceLimitValidation(t *testing.T) {
	eng := newTestEngine(t, nil)
	registerTestMarket(t, eng, 1000)
	ctx := context.Background()

	// Limit above the current price on a downward swap.
	_, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(100),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, 60),
	})
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)

	_, err = eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(100),
		ExactIn:        true,
		ZeroForOne:     false,
		SqrtPriceLimit: priceAt(t, -60),
	})
	assert.ErrorIs(t, err, ErrInvalidPriceLimit)
}

func TestSwap_SingleSegmentMatchesStep(t *testing.T) {
	eng := newTestEngine(t, nil)
	registerTestMarket(t, eng, 1_000_000_000)
	ctx := context.Background()

	amount := uint256.NewInt(5_000_000)
	limit := priceAt(t, -600)

	summary, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         amount,
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: limit,
	})
	require.NoError(t, err)

	// With no initialized ticks the whole swap is one step to the limit.
	var price, in, out, fee uint256.Int
	_, stepErr := swapmath.ComputeSwapStep(
		&price, &in, &out, &fee,
		priceAt(t, 0), limit, uint256.NewInt(1_000_000_000), amount,
		30, true,
	)
	require.NoError(t, stepErr)

	total := new(uint256.Int).Add(&in, &fee)
	assert.True(t, summary.AmountIn.Eq(total))
	assert.True(t, summary.AmountOut.Eq(&out))
	assert.True(t, summary.FeeAmount.Eq(&fee))
	assert.True(t, summary.SqrtPrice.Eq(&price))
	assert.Equal(t, 0, summary.TicksCrossed)

	// The market state advanced to the step result.
	market, err := eng.Market("test")
	require.NoError(t, err)
	assert.True(t, market.SqrtPrice.Eq(&price))
}

func TestSwap_CrossesInitializedTick(t *testing.T) {
	ctx := context.Background()
	ticks := NewMemoryTickStore()

	// A position on [-600, -60]: crossing -60 downward activates it.
	positionLiquidity := big.NewInt(500_000_000)
	require.NoError(t, ticks.Update(ctx, -600, positionLiquidity, false))
	require.NoError(t, ticks.Update(ctx, -60, positionLiquidity, true))

	eng := newTestEngine(t, ticks)
	registerTestMarket(t, eng, 1_000_000_000)

	summary, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         new(uint256.Int).Lsh(uint256.NewInt(1), 100),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -120),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TicksCrossed)
	assert.True(t, summary.SqrtPrice.Eq(priceAt(t, -120)))
	assert.Equal(t, uint64(1_500_000_000), summary.Liquidity.Uint64())
	assert.Equal(t, int32(-120), summary.Tick)
}

func TestSwap_CrossingBackRestoresLiquidity(t *testing.T) {
	ctx := context.Background()
	ticks := NewMemoryTickStore()

	positionLiquidity := big.NewInt(500_000_000)
	require.NoError(t, ticks.Update(ctx, -600, positionLiquidity, false))
	require.NoError(t, ticks.Update(ctx, -60, positionLiquidity, true))

	eng := newTestEngine(t, ticks)
	registerTestMarket(t, eng, 1_000_000_000)

	down, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         new(uint256.Int).Lsh(uint256.NewInt(1), 100),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -120),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000_000), down.Liquidity.Uint64())

	up, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         new(uint256.Int).Lsh(uint256.NewInt(1), 100),
		ExactIn:        true,
		ZeroForOne:     false,
		SqrtPriceLimit: priceAt(t, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), up.Liquidity.Uint64())
	assert.Equal(t, 1, up.TicksCrossed)
}

func TestSwap_AccruesFeeGrowth(t *testing.T) {
	eng := newTestEngine(t, nil)
	market := registerTestMarket(t, eng, 1_000_000_000)
	ctx := context.Background()

	_, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(5_000_000),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -600),
	})
	require.NoError(t, err)

	assert.False(t, market.FeeGrowthGlobal0.IsZero())
	assert.True(t, market.FeeGrowthGlobal1.IsZero())
}

func TestSwap_RecordsOracleObservation(t *testing.T) {
	eng := newTestEngine(t, nil)
	market := registerTestMarket(t, eng, 1_000_000_000)
	ctx := context.Background()

	_, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(5_000_000),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -600),
		Timestamp:      1000,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, market.Oracle.Count())
	assert.Equal(t, uint64(1000), market.Oracle.LastUpdate())
	assert.False(t, market.CumVol0.IsZero())
	assert.False(t, market.CumVol1.IsZero())
}

func TestSwap_OverlayDebitsLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Fund(ctx, "test", uint256.NewInt(1_000_000_000)))

	policy, err := jit.NewTriangularPolicy(5000, 600, 8)
	require.NoError(t, err)

	eng, err := New(&Config{
		Ticks:    NewMemoryTickStore(),
		Ledger:   ledger,
		JIT:      jit.Config{Enabled: true, MaxBoostBps: 10_000},
		Policy:   policy,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	registerTestMarket(t, eng, 1_000_000_000)

	summary, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(5_000_000),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -600),
		Slot:           100,
	})
	require.NoError(t, err)

	assert.True(t, summary.JITActivated)
	assert.False(t, summary.JITConsumed.IsZero())

	balance, err := ledger.BufferBalance(ctx, "test")
	require.NoError(t, err)
	expected := new(uint256.Int).Sub(uint256.NewInt(1_000_000_000), summary.JITConsumed)
	assert.True(t, balance.Eq(expected))
}

func TestSwap_OverlayGateFailsOnCooldown(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Fund(ctx, "test", uint256.NewInt(1_000_000_000)))
	require.NoError(t, ledger.RecordConsumption(ctx, "test", new(uint256.Int), 100, true))

	policy, err := jit.NewTriangularPolicy(5000, 600, 8)
	require.NoError(t, err)

	eng, err := New(&Config{
		Ticks:    NewMemoryTickStore(),
		Ledger:   ledger,
		JIT:      jit.Config{Enabled: true, MaxBoostBps: 10_000},
		Policy:   policy,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	registerTestMarket(t, eng, 1_000_000_000)

	summary, err := eng.Swap(ctx, SwapParams{
		MarketID:       "test",
		Amount:         uint256.NewInt(5_000_000),
		ExactIn:        true,
		ZeroForOne:     true,
		SqrtPriceLimit: priceAt(t, -600),
		Slot:           101, // one slot after the heavy-usage marker
	})
	require.NoError(t, err)

	assert.False(t, summary.JITActivated)
	assert.True(t, summary.JITConsumed.IsZero())
}

func TestFeeGrowthInside(t *testing.T) {
	lower := TickInfo{
		Index:             -60,
		FeeGrowthOutside0: uint256.NewInt(100),
		FeeGrowthOutside1: uint256.NewInt(10),
	}
	upper := TickInfo{
		Index:             60,
		FeeGrowthOutside0: uint256.NewInt(200),
		FeeGrowthOutside1: uint256.NewInt(20),
	}
	global0 := uint256.NewInt(1000)
	global1 := uint256.NewInt(100)

	var inside0, inside1 uint256.Int

	// Current tick inside the range: inside = global - below - above.
	FeeGrowthInside(&inside0, &inside1, lower, upper, 0, global0, global1)
	assert.Equal(t, uint64(700), inside0.Uint64())
	assert.Equal(t, uint64(70), inside1.Uint64())

	// Current tick below the range: growth below is global minus the lower
	// outside, so inside = lowerOutside - upperOutside.
	lower.FeeGrowthOutside0 = uint256.NewInt(300)
	FeeGrowthInside(&inside0, &inside1, lower, upper, -100, global0, global1)
	assert.Equal(t, uint64(100), inside0.Uint64())

	// Current tick above the range mirrors the formula.
	lower.FeeGrowthOutside0 = uint256.NewInt(100)
	upper.FeeGrowthOutside0 = uint256.NewInt(400)
	FeeGrowthInside(&inside0, &inside1, lower, upper, 120, global0, global1)
	assert.Equal(t, uint64(300), inside0.Uint64())
}

func TestTokensOwed(t *testing.T) {
	liquidity := uint256.NewInt(1_000_000)
	insideLast := new(uint256.Int)
	insideNow := new(uint256.Int).Lsh(uint256.NewInt(3), 64) // 3 fee units per liquidity unit

	var owed uint256.Int
	TokensOwed(&owed, liquidity, insideNow, insideLast)
	assert.Equal(t, uint64(3_000_000), owed.Uint64())
}
