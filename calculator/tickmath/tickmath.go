// Package tickmath converts between tick indices and Q64.64 square-root
// prices. A tick maps to sqrt(1.0001^tick) scaled by 2^64; the conversion is
// strictly increasing, and the inverse floors to the greatest tick whose price
// does not exceed the input.
package tickmath

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick that may be passed to SqrtPriceAtTick.
	MinTick = int32(-443636)
	// MaxTick is the maximum tick that may be passed to SqrtPriceAtTick.
	MaxTick = int32(443636)
)

var (
	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be greater than zero")

	one    = uint256.NewInt(1)
	q64One = new(uint256.Int).Lsh(one, 64)
	q96One = new(uint256.Int).Lsh(one, 96)

	// negRatioConstants[i] holds sqrt(1.0001^-(2^i)) in Q64.64; index 0 is
	// the odd-bit ratio sqrt(1.0001^-1).
	negRatioConstants = [19]*uint256.Int{
		uint256.NewInt(18445821805675395072), // sqrt(1.0001^-1)
		uint256.NewInt(18444899583751176192), // sqrt(1.0001^-2)
		uint256.NewInt(18443055278223355904), // sqrt(1.0001^-4)
		uint256.NewInt(18439367220385607680), // sqrt(1.0001^-8)
		uint256.NewInt(18431993317065453568), // sqrt(1.0001^-16)
		uint256.NewInt(18417254355718170624), // sqrt(1.0001^-32)
		uint256.NewInt(18387811781193609216), // sqrt(1.0001^-64)
		uint256.NewInt(18329067761203558400), // sqrt(1.0001^-128)
		uint256.NewInt(18212142134806163456), // sqrt(1.0001^-256)
		uint256.NewInt(17980523815641700352), // sqrt(1.0001^-512)
		uint256.NewInt(17526086738831433728), // sqrt(1.0001^-1024)
		uint256.NewInt(16651378430235570176), // sqrt(1.0001^-2048)
		uint256.NewInt(15030750278694412288), // sqrt(1.0001^-4096)
		uint256.NewInt(12247334978884435968), // sqrt(1.0001^-8192)
		uint256.NewInt(8131365268886854656),  // sqrt(1.0001^-16384)
		uint256.NewInt(3584323654725218816),  // sqrt(1.0001^-32768)
		uint256.NewInt(696457651848324352),   // sqrt(1.0001^-65536)
		uint256.NewInt(26294789957507116),    // sqrt(1.0001^-131072)
		uint256.NewInt(37481735321082),       // sqrt(1.0001^-262144)
	}

	// posRatioConstants[i] holds sqrt(1.0001^(2^i)) at 96 fractional bits;
	// index 0 is the odd-bit ratio sqrt(1.0001). Positive ticks run their own
	// ladder at the wider precision and drop 32 bits at the end, which is
	// what pins SqrtPriceAtTick(MaxTick) to the canonical boundary.
	posRatioConstants = [19]*uint256.Int{
		uint256.MustFromDecimal("79232123823359799118286999567"),       // sqrt(1.0001^1)
		uint256.MustFromDecimal("79236085330515764027303304731"),       // sqrt(1.0001^2)
		uint256.MustFromDecimal("79244008939048815603706035061"),       // sqrt(1.0001^4)
		uint256.MustFromDecimal("79259858533276714757314932305"),       // sqrt(1.0001^8)
		uint256.MustFromDecimal("79291567232598584799939703904"),       // sqrt(1.0001^16)
		uint256.MustFromDecimal("79355022692464371645785046466"),       // sqrt(1.0001^32)
		uint256.MustFromDecimal("79482085999252804386437311141"),       // sqrt(1.0001^64)
		uint256.MustFromDecimal("79736823300114093921829183326"),       // sqrt(1.0001^128)
		uint256.MustFromDecimal("80248749790819932309965073892"),       // sqrt(1.0001^256)
		uint256.MustFromDecimal("81282483887344747381513967011"),       // sqrt(1.0001^512)
		uint256.MustFromDecimal("83390072131320151908154831281"),       // sqrt(1.0001^1024)
		uint256.MustFromDecimal("87770609709833776024991924138"),       // sqrt(1.0001^2048)
		uint256.MustFromDecimal("97234110755111693312479820773"),       // sqrt(1.0001^4096)
		uint256.MustFromDecimal("119332217159966728226237229890"),      // sqrt(1.0001^8192)
		uint256.MustFromDecimal("179736315981702064433883588727"),      // sqrt(1.0001^16384)
		uint256.MustFromDecimal("407748233172238350107850275304"),      // sqrt(1.0001^32768)
		uint256.MustFromDecimal("2098478828474011932436660412517"),     // sqrt(1.0001^65536)
		uint256.MustFromDecimal("55581415166113811149459800483533"),    // sqrt(1.0001^131072)
		uint256.MustFromDecimal("38992368544603139932233054999993551"), // sqrt(1.0001^262144)
	}

	// MinSqrtPrice is the value of SqrtPriceAtTick(MinTick): 4295048016.
	MinSqrtPrice = mustSqrtPriceAtTick(MinTick)
	// MaxSqrtPrice is the value of SqrtPriceAtTick(MaxTick):
	// 79226673515401279992447579055.
	MaxSqrtPrice = mustSqrtPriceAtTick(MaxTick)
)

// tickMath holds reusable uint256 scratch values to avoid allocations.
type tickMath struct {
	ratio *uint256.Int
	tmp   *uint256.Int
}

// pool manages a pool of tickMath objects for safe concurrent use.
var pool = sync.Pool{
	New: func() any {
		return &tickMath{
			ratio: new(uint256.Int),
			tmp:   new(uint256.Int),
		}
	},
}

// SqrtPriceAtTick writes sqrt(1.0001^tick) * 2^64 into dest.
// It fails with ErrTickOutOfBounds outside [MinTick, MaxTick].
func SqrtPriceAtTick(dest *uint256.Int, tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickOutOfBounds
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	if tick < 0 {
		negSqrtPrice(tm.ratio, -tick)
	} else {
		posSqrtPrice(tm.ratio, tick)
	}

	dest.Set(tm.ratio)
	return nil
}

func negSqrtPrice(ratio *uint256.Int, absTick int32) {
	if absTick&0x1 != 0 {
		ratio.Set(negRatioConstants[0])
	} else {
		ratio.Set(q64One)
	}

	for i := 1; i < len(negRatioConstants); i++ {
		if absTick&(1<<i) != 0 {
			// ratio = (ratio * c) >> 64; both factors fit 128 bits so the
			// product is exact in 256 bits.
			ratio.Rsh(ratio.Mul(ratio, negRatioConstants[i]), 64)
		}
	}
}

func posSqrtPrice(ratio *uint256.Int, tick int32) {
	if tick&0x1 != 0 {
		ratio.Set(posRatioConstants[0])
	} else {
		ratio.Set(q96One)
	}

	for i := 1; i < len(posRatioConstants); i++ {
		if tick&(1<<i) != 0 {
			// ratio = (ratio * c) >> 96; the product stays under 2^242.
			ratio.Rsh(ratio.Mul(ratio, posRatioConstants[i]), 96)
		}
	}

	ratio.Rsh(ratio, 32)
}

// TickAtSqrtPrice returns the greatest tick t such that
// SqrtPriceAtTick(t) <= sqrtPrice. It fails with ErrSqrtPriceOutOfBounds
// outside [MinSqrtPrice, MaxSqrtPrice].
func TickAtSqrtPrice(sqrtPrice *uint256.Int) (int32, error) {
	if sqrtPrice.Lt(MinSqrtPrice) || sqrtPrice.Gt(MaxSqrtPrice) {
		return 0, ErrSqrtPriceOutOfBounds
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	// Binary search over the full tick range. SqrtPriceAtTick is strictly
	// increasing, so the search is exact and floors by construction.
	low, high := MinTick, MaxTick
	var tick int32
	for low <= high {
		mid := low + (high-low)/2
		if err := SqrtPriceAtTick(tm.tmp, mid); err != nil {
			return 0, err
		}
		if tm.tmp.Cmp(sqrtPrice) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// NextInitializedTick snaps tick to the nearest multiple of spacing in the
// requested direction, inclusive of the starting tick when already aligned.
// searchLeft moves toward lower ticks.
func NextInitializedTick(tick, spacing int32, searchLeft bool) (int32, error) {
	if spacing <= 0 {
		return 0, ErrInvalidTickSpacing
	}
	if tick < MinTick || tick > MaxTick {
		return 0, ErrTickOutOfBounds
	}

	quot := tick / spacing
	rem := tick % spacing

	var next int32
	switch {
	case rem == 0:
		next = tick
	case searchLeft:
		// Floor toward negative infinity.
		if tick < 0 {
			quot--
		}
		next = quot * spacing
	default:
		// Ceil toward positive infinity.
		if tick > 0 {
			quot++
		}
		next = quot * spacing
	}

	if next < MinTick || next > MaxTick {
		return 0, ErrTickOutOfBounds
	}
	return next, nil
}

func mustSqrtPriceAtTick(tick int32) *uint256.Int {
	price := new(uint256.Int)
	if err := SqrtPriceAtTick(price, tick); err != nil {
		panic(err)
	}
	return price
}
