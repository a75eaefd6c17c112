package oracle

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q64(x uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(x), 64)
}

func observe(t *testing.T, o *TWAPOracle, sqrtPrice *uint256.Int, ts uint64) {
	t.Helper()
	require.NoError(t, o.Observe(sqrtPrice, new(uint256.Int), new(uint256.Int), ts))
}

func TestNew_ZeroCapacity(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrZeroCapacity)

	o, err := New(DefaultCapacity)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, o.Capacity())
	assert.Equal(t, 0, o.Count())
}

func TestObserve_RejectsStaleTimestamps(t *testing.T) {
	o, err := New(4)
	require.NoError(t, err)

	observe(t, o, q64(100), 50)

	err = o.Observe(q64(101), new(uint256.Int), new(uint256.Int), 50)
	assert.ErrorIs(t, err, ErrStaleData)

	err = o.Observe(q64(101), new(uint256.Int), new(uint256.Int), 49)
	assert.ErrorIs(t, err, ErrStaleData)

	// The rejected calls left the buffer untouched.
	assert.Equal(t, 1, o.Count())
	assert.Equal(t, uint64(50), o.LastUpdate())
}

func TestObserve_CopiesInputs(t *testing.T) {
	o, err := New(4)
	require.NoError(t, err)

	price := q64(100)
	observe(t, o, price, 10)
	price.Clear()

	avg, err := o.TWAP(10, 20)
	require.NoError(t, err)
	assert.False(t, avg.IsZero())
}

func TestObserve_WrapsAround(t *testing.T) {
	o, err := New(3)
	require.NoError(t, err)

	for i := uint64(1); i <= 7; i++ {
		observe(t, o, q64(100), i*10)
	}
	assert.Equal(t, 3, o.Count())
	assert.Equal(t, uint64(70), o.LastUpdate())
}

func TestTWAP_EmptyBuffer(t *testing.T) {
	o, err := New(4)
	require.NoError(t, err)

	_, err = o.TWAP(60, 1000)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestTWAP_ZeroTotalTime(t *testing.T) {
	o, err := New(4)
	require.NoError(t, err)

	observe(t, o, q64(100), 100)

	// Window entirely after the single observation with now == observation.
	_, err = o.TWAP(0, 100)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestTWAP_SingleObservationExtendsToNow(t *testing.T) {
	o, err := New(4)
	require.NoError(t, err)

	observe(t, o, q64(100), 100)

	avg, err := o.TWAP(60, 160)
	require.NoError(t, err)

	// Constant price: the average is the squared price.
	expected := new(uint256.Int).Lsh(uint256.NewInt(100*100), 64)
	assert.True(t, avg.Eq(expected))
}

func TestTWAP_ThreeObservationScenario(t *testing.T) {
	o, err := New(DefaultCapacity)
	require.NoError(t, err)

	observe(t, o, q64(100), 0)
	observe(t, o, q64(110), 60)
	observe(t, o, q64(120), 120)

	avg, err := o.TWAP(120, 120)
	require.NoError(t, err)

	// The window [0,120] is covered by the first two prices: 100^2 for
	// [0,60) and 110^2 for [60,120). The newest entry has no elapsed time.
	min := new(uint256.Int).Lsh(uint256.NewInt(100*100), 64)
	max := new(uint256.Int).Lsh(uint256.NewInt(120*120), 64)
	assert.True(t, avg.Gt(min))
	assert.True(t, avg.Lt(max))

	expected := new(uint256.Int).Lsh(uint256.NewInt((100*100+110*110)/2), 64)
	assert.True(t, avg.Eq(expected))
}

func TestTWAP_WindowClipsOldObservations(t *testing.T) {
	o, err := New(DefaultCapacity)
	require.NoError(t, err)

	observe(t, o, q64(100), 0)
	observe(t, o, q64(200), 1000)

	// A 50-second window ending at 1050 only sees the newest price.
	avg, err := o.TWAP(50, 1050)
	require.NoError(t, err)

	expected := new(uint256.Int).Lsh(uint256.NewInt(200*200), 64)
	assert.True(t, avg.Eq(expected))
}

func TestTWAP_WeightsByElapsedTime(t *testing.T) {
	o, err := New(DefaultCapacity)
	require.NoError(t, err)

	observe(t, o, q64(100), 0)
	observe(t, o, q64(300), 90)

	// Price 100^2 holds for 90s, price 300^2 for 30s.
	avg, err := o.TWAP(120, 120)
	require.NoError(t, err)

	expected := new(uint256.Int).Lsh(uint256.NewInt((100*100*90+300*300*30)/120), 64)
	assert.True(t, avg.Eq(expected))
}
