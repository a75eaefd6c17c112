package engine

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// MemoryTickStore keeps initialized ticks in a sorted slice and answers
// next-tick queries with binary search. It is the in-process TickStore used
// for standalone simulation and tests.
type MemoryTickStore struct {
	mu    sync.RWMutex
	ticks []TickInfo // sorted by Index
}

func NewMemoryTickStore() *MemoryTickStore {
	return &MemoryTickStore{}
}

// search returns the smallest slice index whose tick is >= index.
func (s *MemoryTickStore) search(index int32) int {
	return sort.Search(len(s.ticks), func(i int) bool {
		return s.ticks[i].Index >= index
	})
}

func (s *MemoryTickStore) Get(_ context.Context, index int32) (TickInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.search(index)
	if i < len(s.ticks) && s.ticks[i].Index == index {
		return cloneTickInfo(s.ticks[i]), true, nil
	}
	return TickInfo{Index: index}, false, nil
}

// Update applies a signed liquidity delta to a tick boundary, initializing
// the tick on first touch and removing it when its gross liquidity returns
// to zero. upper boundaries contribute the negated delta to LiquidityNet.
func (s *MemoryTickStore) Update(_ context.Context, index int32, delta *big.Int, upper bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(index)
	if i == len(s.ticks) || s.ticks[i].Index != index {
		info := TickInfo{
			Index:             index,
			LiquidityNet:      new(big.Int),
			LiquidityGross:    new(uint256.Int),
			FeeGrowthOutside0: new(uint256.Int),
			FeeGrowthOutside1: new(uint256.Int),
			Initialized:       true,
		}
		s.ticks = append(s.ticks, TickInfo{})
		copy(s.ticks[i+1:], s.ticks[i:])
		s.ticks[i] = info
	}
	tick := &s.ticks[i]

	gross := new(big.Int).Add(tick.LiquidityGross.ToBig(), new(big.Int).Abs(delta))
	if delta.Sign() < 0 {
		gross.Sub(tick.LiquidityGross.ToBig(), new(big.Int).Abs(delta))
	}
	if gross.Sign() < 0 {
		gross.SetInt64(0)
	}
	g, _ := uint256.FromBig(gross)
	tick.LiquidityGross.Set(g)

	if upper {
		tick.LiquidityNet.Sub(tick.LiquidityNet, delta)
	} else {
		tick.LiquidityNet.Add(tick.LiquidityNet, delta)
	}

	if tick.LiquidityGross.IsZero() {
		s.ticks = append(s.ticks[:i], s.ticks[i+1:]...)
	}
	return nil
}

// NextInitialized finds the nearest initialized tick via binary search over
// the sorted slice. Searching left includes the starting tick; searching
// right is strictly greater.
func (s *MemoryTickStore) NextInitialized(_ context.Context, tick int32, searchLeft bool) (int32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ticks) == 0 {
		return 0, false, nil
	}

	if searchLeft {
		i := s.search(tick)
		if i < len(s.ticks) && s.ticks[i].Index == tick {
			return tick, true, nil
		}
		if i == 0 {
			return 0, false, nil
		}
		return s.ticks[i-1].Index, true, nil
	}

	i := s.search(tick + 1)
	if i >= len(s.ticks) {
		return 0, false, nil
	}
	return s.ticks[i].Index, true, nil
}

// Cross flips the tick's outside fee growth to the other side of the current
// price and returns the net liquidity change. Subtraction wraps modulo
// 2^256; only differences of these counters are meaningful.
func (s *MemoryTickStore) Cross(_ context.Context, index int32, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(index)
	if i == len(s.ticks) || s.ticks[i].Index != index {
		return new(big.Int), nil
	}
	tick := &s.ticks[i]

	tick.FeeGrowthOutside0.Sub(feeGrowthGlobal0, tick.FeeGrowthOutside0)
	tick.FeeGrowthOutside1.Sub(feeGrowthGlobal1, tick.FeeGrowthOutside1)
	return new(big.Int).Set(tick.LiquidityNet), nil
}

func cloneTickInfo(t TickInfo) TickInfo {
	return TickInfo{
		Index:             t.Index,
		LiquidityNet:      new(big.Int).Set(t.LiquidityNet),
		LiquidityGross:    new(uint256.Int).Set(t.LiquidityGross),
		FeeGrowthOutside0: new(uint256.Int).Set(t.FeeGrowthOutside0),
		FeeGrowthOutside1: new(uint256.Int).Set(t.FeeGrowthOutside1),
		Initialized:       t.Initialized,
	}
}
