package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/helixpool/clmm-core-go/calculator/fixedpoint"
	"github.com/helixpool/clmm-core-go/calculator/liquiditymath"
	"github.com/helixpool/clmm-core-go/calculator/swapmath"
	"github.com/helixpool/clmm-core-go/calculator/tickmath"
	"github.com/helixpool/clmm-core-go/jit"
	"github.com/helixpool/clmm-core-go/oracle"
)

var q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

// Config wires the engine's collaborators.
type Config struct {
	Ticks  TickStore
	Ledger FundingLedger

	JIT    jit.Config
	Policy jit.PlacementPolicy

	Registry prometheus.Registerer // Required for metrics.
	Logger   *zap.Logger           // Optional; defaults to a no-op logger.
}

func (c *Config) validate() error {
	if c.Ticks == nil {
		return errors.New("config: Ticks cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.JIT.Enabled {
		if c.Ledger == nil {
			return errors.New("config: Ledger required when the liquidity overlay is enabled")
		}
		if c.Policy == nil {
			return errors.New("config: Policy required when the liquidity overlay is enabled")
		}
	}
	return nil
}

// Engine executes swaps against registered markets. One Engine serves many
// markets; each market's state is serialized by its own mutex.
type Engine struct {
	markets markets

	ticks  TickStore
	ledger FundingLedger
	jitCfg jit.Config
	policy jit.PlacementPolicy

	metrics *Metrics
	logger  *zap.Logger
}

type markets struct {
	mu sync.RWMutex
	m  map[string]*Market
}

// New constructs an engine from a configuration, returning an error if the
// configuration is invalid.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		markets: markets{m: make(map[string]*Market)},
		ticks:   cfg.Ticks,
		ledger:  cfg.Ledger,
		jitCfg:  cfg.JIT,
		policy:  cfg.Policy,
		metrics: NewMetrics(cfg.Registry),
		logger:  logger,
	}, nil
}

// RegisterMarket creates a market with a fresh oracle. The starting price
// must lie inside the representable range and agree with the starting tick.
func (e *Engine) RegisterMarket(p MarketParams) (*Market, error) {
	if p.SqrtPrice == nil || p.SqrtPrice.Lt(tickmath.MinSqrtPrice) || p.SqrtPrice.Gt(tickmath.MaxSqrtPrice) {
		return nil, tickmath.ErrSqrtPriceOutOfBounds
	}
	if p.TickSpacing <= 0 {
		return nil, tickmath.ErrInvalidTickSpacing
	}
	tick, err := tickmath.TickAtSqrtPrice(p.SqrtPrice)
	if err != nil {
		return nil, err
	}
	if tick != p.Tick {
		return nil, fmt.Errorf("market %s: tick %d does not match sqrt price (floor tick %d)", p.ID, p.Tick, tick)
	}

	obs, err := oracle.New(oracle.DefaultCapacity)
	if err != nil {
		return nil, err
	}

	liquidity := new(uint256.Int)
	if p.Liquidity != nil {
		liquidity.Set(p.Liquidity)
	}

	market := &Market{
		ID:               p.ID,
		FeeBps:           p.FeeBps,
		TickSpacing:      p.TickSpacing,
		SqrtPrice:        new(uint256.Int).Set(p.SqrtPrice),
		Tick:             p.Tick,
		Liquidity:        liquidity,
		FeeGrowthGlobal0: new(uint256.Int),
		FeeGrowthGlobal1: new(uint256.Int),
		CumVol0:          new(uint256.Int),
		CumVol1:          new(uint256.Int),
		Oracle:           obs,
	}

	e.markets.mu.Lock()
	defer e.markets.mu.Unlock()
	if _, exists := e.markets.m[p.ID]; exists {
		return nil, ErrMarketExists
	}
	e.markets.m[p.ID] = market
	return market, nil
}

// Market returns a registered market.
func (e *Engine) Market(id string) (*Market, error) {
	e.markets.mu.RLock()
	defer e.markets.mu.RUnlock()

	market, ok := e.markets.m[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

// Swap executes a full swap: it walks liquidity segments, crosses
// initialized ticks, accrues fee growth, applies the liquidity overlay when
// configured, and records an oracle observation. The market mutex is held
// for the whole walk, so partial progress is never visible.
func (e *Engine) Swap(ctx context.Context, p SwapParams) (*SwapSummary, error) {
	if p.Amount == nil || p.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	market, err := e.Market(p.MarketID)
	if err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(e.metrics.swapDuration.WithLabelValues(market.ID))
	defer timer.ObserveDuration()

	market.mu.Lock()
	defer market.mu.Unlock()

	limit, err := priceLimit(market, p)
	if err != nil {
		e.metrics.swapErrors.WithLabelValues(market.ID).Inc()
		return nil, err
	}

	jitActive, buffer, lastHeavy, err := e.overlaySnapshot(ctx, market.ID)
	if err != nil {
		e.metrics.swapErrors.WithLabelValues(market.ID).Inc()
		return nil, err
	}

	summary, err := e.swapLocked(ctx, market, p, limit, jitActive, buffer, lastHeavy)
	if err != nil {
		e.metrics.swapErrors.WithLabelValues(market.ID).Inc()
		return nil, err
	}

	direction := "one_for_zero"
	if p.ZeroForOne {
		direction = "zero_for_one"
	}
	e.metrics.swapsTotal.WithLabelValues(market.ID, direction).Inc()
	e.metrics.ticksCrossed.Add(float64(summary.TicksCrossed))
	if summary.JITActivated {
		e.metrics.jitActivations.WithLabelValues(market.ID).Inc()
		if summary.JITConsumed.IsUint64() {
			e.metrics.jitConsumed.WithLabelValues(market.ID).Add(float64(summary.JITConsumed.Uint64()))
		}
	}

	e.logger.Debug("swap executed",
		zap.String("market", market.ID),
		zap.Bool("zero_for_one", p.ZeroForOne),
		zap.Bool("exact_in", p.ExactIn),
		zap.String("amount_in", summary.AmountIn.Dec()),
		zap.String("amount_out", summary.AmountOut.Dec()),
		zap.Int("ticks_crossed", summary.TicksCrossed),
		zap.Bool("jit", summary.JITActivated),
	)
	return summary, nil
}

// overlaySnapshot reads the funding state once per swap. The gate sees a
// consistent view even if the ledger is shared.
func (e *Engine) overlaySnapshot(ctx context.Context, marketID string) (bool, *uint256.Int, uint64, error) {
	if !e.jitCfg.Enabled {
		return false, nil, 0, nil
	}
	buffer, err := e.ledger.BufferBalance(ctx, marketID)
	if err != nil {
		return false, nil, 0, fmt.Errorf("funding ledger: %w", err)
	}
	lastHeavy, err := e.ledger.LastHeavyUsage(ctx, marketID)
	if err != nil {
		return false, nil, 0, fmt.Errorf("funding ledger: %w", err)
	}
	return true, buffer, lastHeavy, nil
}

func (e *Engine) swapLocked(
	ctx context.Context,
	m *Market,
	p SwapParams,
	limit *uint256.Int,
	jitActive bool,
	buffer *uint256.Int,
	lastHeavy uint64,
) (*SwapSummary, error) {
	summary := &SwapSummary{
		AmountIn:    new(uint256.Int),
		AmountOut:   new(uint256.Int),
		FeeAmount:   new(uint256.Int),
		JITConsumed: new(uint256.Int),
	}

	remaining := new(uint256.Int).Set(p.Amount)
	price := new(uint256.Int).Set(m.SqrtPrice)
	liquidity := new(uint256.Int).Set(m.Liquidity)
	tick := m.Tick

	var (
		tickPrice    uint256.Int
		target       uint256.Int
		stepPrice    uint256.Int
		stepIn       uint256.Int
		stepOut      uint256.Int
		stepFee      uint256.Int
		totalIn      uint256.Int
		growthDelta  uint256.Int
		overlayHeavy bool
	)

	for !remaining.IsZero() && !price.Eq(limit) {
		nextTick, initialized, err := e.ticks.NextInitialized(ctx, tick, p.ZeroForOne)
		if err != nil {
			return nil, fmt.Errorf("tick store: %w", err)
		}
		if !initialized {
			if p.ZeroForOne {
				nextTick = tickmath.MinTick
			} else {
				nextTick = tickmath.MaxTick
			}
		}
		if nextTick < tickmath.MinTick {
			nextTick = tickmath.MinTick
		} else if nextTick > tickmath.MaxTick {
			nextTick = tickmath.MaxTick
		}

		if err := tickmath.SqrtPriceAtTick(&tickPrice, nextTick); err != nil {
			return nil, err
		}
		if (p.ZeroForOne && tickPrice.Lt(limit)) || (!p.ZeroForOne && tickPrice.Gt(limit)) {
			target.Set(limit)
		} else {
			target.Set(&tickPrice)
		}

		var consumed *uint256.Int
		if jitActive {
			res, err := jit.Execute(e.jitCfg, e.policy, jit.ExecParams{
				SqrtPriceCurrent:   price,
				SqrtPriceTarget:    &target,
				Liquidity:          liquidity,
				AmountRemaining:    remaining,
				FeeBps:             m.FeeBps,
				ExactIn:            p.ExactIn,
				CurrentTick:        tick,
				QuoteSize:          p.Amount,
				Slot:               p.Slot,
				LastHeavyUsageSlot: lastHeavy,
				BufferBalance:      buffer,
			})
			if err != nil {
				return nil, err
			}
			stepPrice.Set(res.SqrtPriceNext)
			stepIn.Set(res.AmountIn)
			stepOut.Set(res.AmountOut)
			stepFee.Set(res.FeeAmount)
			consumed = res.Consumed
			if res.Activated {
				summary.JITActivated = true
			}
			if res.HeavyUsage {
				overlayHeavy = true
			}
		} else {
			_, err := swapmath.ComputeSwapStep(
				&stepPrice, &stepIn, &stepOut, &stepFee,
				price, &target, liquidity, remaining,
				m.FeeBps, p.ExactIn,
			)
			if err != nil {
				return nil, err
			}
		}

		totalIn.Add(&stepIn, &stepFee)
		if err := fixedpoint.Add(summary.AmountIn, summary.AmountIn, &totalIn); err != nil {
			return nil, err
		}
		if err := fixedpoint.Add(summary.AmountOut, summary.AmountOut, &stepOut); err != nil {
			return nil, err
		}
		if err := fixedpoint.Add(summary.FeeAmount, summary.FeeAmount, &stepFee); err != nil {
			return nil, err
		}
		if consumed != nil && !consumed.IsZero() {
			if err := fixedpoint.Add(summary.JITConsumed, summary.JITConsumed, consumed); err != nil {
				return nil, err
			}
		}

		if p.ExactIn {
			if totalIn.Gt(remaining) {
				remaining.Clear()
			} else {
				remaining.Sub(remaining, &totalIn)
			}
		} else {
			if stepOut.Gt(remaining) {
				remaining.Clear()
			} else {
				remaining.Sub(remaining, &stepOut)
			}
		}

		// Fees accrue to whichever token came in; the counter is Q64 per
		// unit of active liquidity and wraps modulo 2^256.
		if !stepFee.IsZero() && !liquidity.IsZero() {
			if err := fixedpoint.MulDiv(&growthDelta, &stepFee, q64, liquidity, fixedpoint.RoundingDown); err != nil {
				return nil, err
			}
			if p.ZeroForOne {
				m.FeeGrowthGlobal0.Add(m.FeeGrowthGlobal0, &growthDelta)
			} else {
				m.FeeGrowthGlobal1.Add(m.FeeGrowthGlobal1, &growthDelta)
			}
		}

		if stepPrice.Eq(&tickPrice) {
			if initialized {
				liquidityNet, err := e.ticks.Cross(ctx, nextTick, m.FeeGrowthGlobal0, m.FeeGrowthGlobal1)
				if err != nil {
					return nil, fmt.Errorf("tick store: %w", err)
				}
				if p.ZeroForOne {
					liquidityNet.Neg(liquidityNet)
				}
				if err := liquiditymath.AddDelta(liquidity, liquidity, liquidityNet); err != nil {
					return nil, err
				}
				summary.TicksCrossed++
			}
			if !initialized {
				// Hit the range extreme with nothing left to cross.
				tick = nextTick
				price.Set(&stepPrice)
				break
			}
			if p.ZeroForOne {
				tick = nextTick - 1
			} else {
				tick = nextTick
			}
		} else if !stepPrice.Eq(price) {
			tick, err = tickmath.TickAtSqrtPrice(&stepPrice)
			if err != nil {
				return nil, err
			}
		} else if stepIn.IsZero() && stepOut.IsZero() && stepFee.IsZero() {
			// No movement and nothing consumed: avoid spinning forever on a
			// drained segment.
			break
		}
		price.Set(&stepPrice)
	}

	m.SqrtPrice.Set(price)
	m.Tick = tick
	m.Liquidity.Set(liquidity)

	summary.SqrtPrice = new(uint256.Int).Set(price)
	summary.Tick = tick
	summary.Liquidity = new(uint256.Int).Set(liquidity)

	e.settleSwap(ctx, m, p, summary, overlayHeavy)
	return summary, nil
}

// settleSwap updates cumulative volumes, records the oracle observation, and
// writes overlay consumption back to the ledger. None of these may fail the
// already-applied swap; problems are logged.
func (e *Engine) settleSwap(ctx context.Context, m *Market, p SwapParams, summary *SwapSummary, heavy bool) {
	if p.ZeroForOne {
		m.CumVol0.Add(m.CumVol0, summary.AmountIn)
		m.CumVol1.Add(m.CumVol1, summary.AmountOut)
	} else {
		m.CumVol0.Add(m.CumVol0, summary.AmountOut)
		m.CumVol1.Add(m.CumVol1, summary.AmountIn)
	}

	if p.Timestamp > 0 {
		err := m.Oracle.Observe(m.SqrtPrice, m.CumVol0, m.CumVol1, p.Timestamp)
		if err != nil && !errors.Is(err, oracle.ErrStaleData) {
			e.logger.Warn("oracle observation failed",
				zap.String("market", m.ID), zap.Error(err))
		}
	}

	if e.jitCfg.Enabled && (summary.JITActivated || heavy) {
		err := e.ledger.RecordConsumption(ctx, m.ID, summary.JITConsumed, p.Slot, heavy)
		if err != nil {
			e.logger.Error("funding ledger write failed",
				zap.String("market", m.ID), zap.Error(err))
		}
	}
}

// priceLimit resolves and validates the swap's price bound.
func priceLimit(m *Market, p SwapParams) (*uint256.Int, error) {
	if p.SqrtPriceLimit == nil {
		if p.ZeroForOne {
			return new(uint256.Int).Set(tickmath.MinSqrtPrice), nil
		}
		return new(uint256.Int).Set(tickmath.MaxSqrtPrice), nil
	}

	limit := new(uint256.Int).Set(p.SqrtPriceLimit)
	if limit.Lt(tickmath.MinSqrtPrice) || limit.Gt(tickmath.MaxSqrtPrice) {
		return nil, tickmath.ErrSqrtPriceOutOfBounds
	}
	if p.ZeroForOne && !limit.Lt(m.SqrtPrice) {
		return nil, ErrInvalidPriceLimit
	}
	if !p.ZeroForOne && !limit.Gt(m.SqrtPrice) {
		return nil, ErrInvalidPriceLimit
	}
	return limit, nil
}
