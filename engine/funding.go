package engine

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
)

// MemoryLedger is the in-process FundingLedger used for standalone
// simulation and tests. Balances never go negative: a consumption larger
// than the remaining buffer drains it to zero.
type MemoryLedger struct {
	mu      sync.Mutex
	buffers map[string]*fundingState
}

type fundingState struct {
	balance   *uint256.Int
	lastHeavy uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{buffers: make(map[string]*fundingState)}
}

// Fund credits a market's buffer.
func (l *MemoryLedger) Fund(_ context.Context, market string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(market)
	return fixedpoint.Add(st.balance, st.balance, amount)
}

func (l *MemoryLedger) BufferBalance(_ context.Context, market string) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return new(uint256.Int).Set(l.state(market).balance), nil
}

func (l *MemoryLedger) LastHeavyUsage(_ context.Context, market string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state(market).lastHeavy, nil
}

func (l *MemoryLedger) RecordConsumption(_ context.Context, market string, consumed *uint256.Int, slot uint64, heavy bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(market)
	if consumed.Gt(st.balance) {
		st.balance.Clear()
	} else {
		st.balance.Sub(st.balance, consumed)
	}
	if heavy && slot > st.lastHeavy {
		st.lastHeavy = slot
	}
	return nil
}

// state returns the market's funding state, creating it lazily. Callers hold
// the lock.
func (l *MemoryLedger) state(market string) *fundingState {
	st, ok := l.buffers[market]
	if !ok {
		st = &fundingState{balance: new(uint256.Int)}
		l.buffers[market] = st
	}
	return st
}
