package liquiditymath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
	"github.com/helixpool/clmm-core-go/calculator/tickmath"
)

// newRandU256 generates a random uint256 up to a given number of bits.
func newRandU256(bits int) *uint256.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	v, _ := uint256.FromBig(n)
	return v
}

// randSqrtPrice draws a price inside the representable tick range.
func randSqrtPrice() *uint256.Int {
	span := new(big.Int).Sub(tickmath.MaxSqrtPrice.ToBig(), tickmath.MinSqrtPrice.ToBig())
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		panic(err)
	}
	n.Add(n, tickmath.MinSqrtPrice.ToBig())
	v, _ := uint256.FromBig(n)
	return v
}

func TestAmountDelta_ZeroWidthRange(t *testing.T) {
	var amount uint256.Int
	for i := 0; i < 100; i++ {
		price := randSqrtPrice()
		liquidity := newRandU256(100)

		require.NoError(t, Amount0Delta(&amount, price, price, liquidity, false))
		assert.True(t, amount.IsZero())

		require.NoError(t, Amount1Delta(&amount, price, price, liquidity, false))
		assert.True(t, amount.IsZero())
	}
}

func TestAmountDelta_RoundingInvariants(t *testing.T) {
	one := uint256.NewInt(1)
	var down, up uint256.Int
	for i := 0; i < 1000; i++ {
		priceA := randSqrtPrice()
		priceB := randSqrtPrice()
		liquidity := newRandU256(100)

		if err := Amount0Delta(&down, priceA, priceB, liquidity, false); err != nil {
			continue
		}
		require.NoError(t, Amount0Delta(&up, priceA, priceB, liquidity, true))
		assert.True(t, !down.Gt(&up))
		diff := new(uint256.Int).Sub(&up, &down)
		// Two chained round-up divisions can add at most one unit each.
		assert.True(t, !diff.Gt(new(uint256.Int).Add(one, one)))

		if err := Amount1Delta(&down, priceA, priceB, liquidity, false); err != nil {
			continue
		}
		require.NoError(t, Amount1Delta(&up, priceA, priceB, liquidity, true))
		assert.True(t, !down.Gt(&up))
		diff.Sub(&up, &down)
		assert.True(t, !diff.Gt(one))
	}
}

func TestAmountDelta_ArgumentOrderNormalized(t *testing.T) {
	var forward, reverse uint256.Int
	for i := 0; i < 100; i++ {
		priceA := randSqrtPrice()
		priceB := randSqrtPrice()
		liquidity := newRandU256(100)

		errF := Amount0Delta(&forward, priceA, priceB, liquidity, true)
		errR := Amount0Delta(&reverse, priceB, priceA, liquidity, true)
		require.Equal(t, errF == nil, errR == nil)
		if errF == nil {
			assert.True(t, forward.Eq(&reverse))
		}
	}
}

func TestNextSqrtPriceFromInput_Direction(t *testing.T) {
	var next uint256.Int
	for i := 0; i < 500; i++ {
		price := randSqrtPrice()
		liquidity := newRandU256(100)
		amount := newRandU256(64)
		if liquidity.IsZero() {
			liquidity.SetUint64(1)
		}
		zeroForOne := i%2 == 0

		err := NextSqrtPriceFromInput(&next, price, liquidity, amount, zeroForOne)
		if err != nil {
			continue
		}
		if zeroForOne {
			// Token0 in pushes the price down.
			assert.True(t, !next.Gt(price))
		} else {
			assert.True(t, !next.Lt(price))
		}
	}
}

func TestNextSqrtPriceFromInput_ZeroAmountKeepsPrice(t *testing.T) {
	price := randSqrtPrice()
	liquidity := uint256.NewInt(1_000_000)

	var next uint256.Int
	require.NoError(t, NextSqrtPriceFromInput(&next, price, liquidity, new(uint256.Int), true))
	assert.True(t, next.Eq(price))
}

func TestNextSqrtPriceFromInput_ZeroChecks(t *testing.T) {
	var next uint256.Int
	err := NextSqrtPriceFromInput(&next, new(uint256.Int), uint256.NewInt(1), uint256.NewInt(1), true)
	assert.ErrorIs(t, err, ErrSqrtPriceZero)

	err = NextSqrtPriceFromInput(&next, uint256.NewInt(1), new(uint256.Int), uint256.NewInt(1), true)
	assert.ErrorIs(t, err, ErrLiquidityZero)
}

func TestNextSqrtPriceFromAmount1_RemoveUnderflow(t *testing.T) {
	// Removing more token1 than the price supports drains past zero.
	price := uint256.NewInt(1 << 20)
	liquidity := uint256.NewInt(1)
	amount := new(uint256.Int).Lsh(uint256.NewInt(1), 80)

	var next uint256.Int
	err := NextSqrtPriceFromAmount1(&next, price, liquidity, amount, false)
	assert.ErrorIs(t, err, fixedpoint.ErrUnderflow)
}

func TestNextSqrtPrice_RoundTripConsistency(t *testing.T) {
	// The amount implied by the price movement never exceeds the input.
	var next, delta uint256.Int
	for i := 0; i < 500; i++ {
		price := randSqrtPrice()
		liquidity := newRandU256(90)
		amount := newRandU256(64)
		if liquidity.IsZero() {
			liquidity.SetUint64(1)
		}

		if err := NextSqrtPriceFromInput(&next, price, liquidity, amount, true); err != nil {
			continue
		}
		if err := Amount0Delta(&delta, &next, price, liquidity, true); err != nil {
			continue
		}
		assert.True(t, !delta.Gt(amount))
	}
}

func TestLiquidityForAmounts_InsideRangeTakesMinimum(t *testing.T) {
	var priceA, price, priceB uint256.Int
	require.NoError(t, tickmathPrice(&priceA, -600))
	require.NoError(t, tickmathPrice(&price, 0))
	require.NoError(t, tickmathPrice(&priceB, 600))

	amount0 := uint256.NewInt(1_000_000)
	amount1 := uint256.NewInt(1_000_000)

	var combined, liq0, liq1 uint256.Int
	require.NoError(t, LiquidityForAmounts(&combined, &price, &priceA, &priceB, amount0, amount1))
	require.NoError(t, LiquidityForAmount0(&liq0, &price, &priceB, amount0))
	require.NoError(t, LiquidityForAmount1(&liq1, &priceA, &price, amount1))

	expected := &liq0
	if liq1.Lt(&liq0) {
		expected = &liq1
	}
	assert.True(t, combined.Eq(expected))
}

func TestLiquidityForAmounts_OutsideRange(t *testing.T) {
	var priceA, priceB, below, above uint256.Int
	require.NoError(t, tickmathPrice(&priceA, -600))
	require.NoError(t, tickmathPrice(&priceB, 600))
	require.NoError(t, tickmathPrice(&below, -1200))
	require.NoError(t, tickmathPrice(&above, 1200))

	amount0 := uint256.NewInt(1_000_000)
	amount1 := uint256.NewInt(1_000_000)

	var got, want uint256.Int
	require.NoError(t, LiquidityForAmounts(&got, &below, &priceA, &priceB, amount0, amount1))
	require.NoError(t, LiquidityForAmount0(&want, &priceA, &priceB, amount0))
	assert.True(t, got.Eq(&want))

	require.NoError(t, LiquidityForAmounts(&got, &above, &priceA, &priceB, amount0, amount1))
	require.NoError(t, LiquidityForAmount1(&want, &priceA, &priceB, amount1))
	assert.True(t, got.Eq(&want))
}

func TestLiquidityForAmount_ZeroWidthFails(t *testing.T) {
	price := randSqrtPrice()

	var dest uint256.Int
	err := LiquidityForAmount0(&dest, price, price, uint256.NewInt(1))
	assert.ErrorIs(t, err, fixedpoint.ErrDivisionByZero)

	err = LiquidityForAmount1(&dest, price, price, uint256.NewInt(1))
	assert.ErrorIs(t, err, fixedpoint.ErrDivisionByZero)
}

func TestAddDelta(t *testing.T) {
	var dest uint256.Int

	require.NoError(t, AddDelta(&dest, uint256.NewInt(100), big.NewInt(-40)))
	assert.Equal(t, uint64(60), dest.Uint64())

	require.NoError(t, AddDelta(&dest, uint256.NewInt(100), big.NewInt(40)))
	assert.Equal(t, uint64(140), dest.Uint64())

	err := AddDelta(&dest, uint256.NewInt(100), big.NewInt(-101))
	assert.ErrorIs(t, err, fixedpoint.ErrUnderflow)

	atMax, _ := uint256.FromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))
	err = AddDelta(&dest, atMax, big.NewInt(1))
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}

func tickmathPrice(dest *uint256.Int, tick int32) error {
	return tickmath.SqrtPriceAtTick(dest, tick)
}
