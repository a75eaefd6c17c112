// Command clmm runs the pricing core offline: quote simulates a swap against
// a described market, twap replays observations and prints the window TWAP.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/helixpool/clmm-core-go/calculator/tickmath"
	"github.com/helixpool/clmm-core-go/engine"
	"github.com/helixpool/clmm-core-go/internal/config"
	"github.com/helixpool/clmm-core-go/jit"
	"github.com/helixpool/clmm-core-go/oracle"
	"github.com/helixpool/clmm-core-go/stores/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "clmm",
		Short:        "Concentrated-liquidity pricing core",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Simulate a swap against a described market",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("sqrt-price", "", "current sqrt price, Q64.64 integer")
	quoteCmd.Flags().Int32("tick", 0, "current tick")
	quoteCmd.Flags().String("liquidity", "", "active liquidity")
	quoteCmd.Flags().Uint32("fee-bps", 30, "swap fee in basis points")
	quoteCmd.Flags().Int32("tick-spacing", 60, "tick spacing")
	quoteCmd.Flags().String("amount", "", "swap amount (input for exact-in, output otherwise)")
	quoteCmd.Flags().Bool("exact-in", true, "amount specifies the input")
	quoteCmd.Flags().Bool("zero-for-one", true, "swap token0 for token1 (price decreases)")
	quoteCmd.Flags().String("price-limit", "", "optional sqrt price limit, Q64.64 integer")
	quoteCmd.Flags().String("ticks", "", "initialized ticks JSONL path")
	quoteCmd.Flags().Bool("jit-enabled", false, "enable the liquidity overlay")
	quoteCmd.Flags().String("jit-buffer", "0", "funding buffer balance")
	quoteCmd.Flags().String("jit-min-quote", "0", "minimum quote size for the overlay")
	quoteCmd.Flags().Uint32("jit-max-boost-bps", 5000, "effective liquidity cap over base, bps")
	quoteCmd.Flags().Int32("jit-width-ticks", 120, "overlay placement half-width")
	quoteCmd.Flags().Uint64("slot", 10, "current slot for cooldown accounting")
	quoteCmd.Flags().String("pg-dsn", "", "postgres DSN backing the funding ledger")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(quoteCmd)

	twapCmd := &cobra.Command{
		Use:   "twap",
		Short: "Replay observations and print the window TWAP",
		RunE:  runTWAP,
	}
	twapCmd.Flags().String("in", "", "observations JSONL path")
	twapCmd.Flags().Uint64("window", 3600, "window size in seconds")
	twapCmd.Flags().Uint64("now", 0, "window end, defaults to the last observation")
	twapCmd.Flags().String("pg-dsn", "", "postgres DSN for persisting observations")
	twapCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(twapCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// tickEntry is one line of the initialized-ticks input file.
type tickEntry struct {
	Index        int32  `json:"index"`
	LiquidityNet string `json:"liquidity_net"`
}

// observationEntry is one line of the observations input file.
type observationEntry struct {
	SqrtPrice string `json:"sqrt_price"`
	CumVol0   string `json:"cum_vol0"`
	CumVol1   string `json:"cum_vol1"`
	Timestamp uint64 `json:"timestamp"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqrtPrice, err := parseU256("sqrt-price", cfg.SqrtPrice)
	if err != nil {
		return err
	}
	liquidity, err := parseU256("liquidity", cfg.Liquidity)
	if err != nil {
		return err
	}
	amount, err := parseU256("amount", cfg.Amount)
	if err != nil {
		return err
	}

	ticks := engine.NewMemoryTickStore()
	if cfg.TicksFile != "" {
		if err := loadTicks(ctx, ticks, cfg.TicksFile); err != nil {
			return err
		}
	}

	engineCfg := &engine.Config{
		Ticks:    ticks,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}

	if cfg.JITEnabled {
		minQuote, err := parseU256("jit-min-quote", cfg.JITMinQuote)
		if err != nil {
			return err
		}
		if cfg.PGDSN != "" {
			pg, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pg.Close()
			engineCfg.Ledger = pg
		} else {
			buffer, err := parseU256("jit-buffer", cfg.JITBuffer)
			if err != nil {
				return err
			}
			ledger := engine.NewMemoryLedger()
			if err := ledger.Fund(ctx, "cli", buffer); err != nil {
				return err
			}
			engineCfg.Ledger = ledger
		}
		policy, err := jit.NewTriangularPolicy(2500, cfg.JITWidthTicks, 8)
		if err != nil {
			return err
		}
		engineCfg.JIT = jit.Config{
			Enabled:       true,
			MinQuoteSize:  minQuote,
			MaxBoostBps:   cfg.JITMaxBoost,
			HeavyUsageBps: 5000,
		}
		engineCfg.Policy = policy
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return err
	}

	if _, err := eng.RegisterMarket(engine.MarketParams{
		ID:          "cli",
		FeeBps:      cfg.FeeBps,
		TickSpacing: cfg.TickSpacing,
		SqrtPrice:   sqrtPrice,
		Tick:        cfg.Tick,
		Liquidity:   liquidity,
	}); err != nil {
		return err
	}

	var limit *uint256.Int
	if cfg.PriceLimit != "" {
		if limit, err = parseU256("price-limit", cfg.PriceLimit); err != nil {
			return err
		}
	}

	summary, err := eng.Swap(ctx, engine.SwapParams{
		MarketID:       "cli",
		Amount:         amount,
		ExactIn:        cfg.ExactIn,
		ZeroForOne:     cfg.ZeroForOne,
		SqrtPriceLimit: limit,
		Slot:           cfg.Slot,
	})
	if err != nil {
		return err
	}

	fmt.Printf("amount in:      %s\n", summary.AmountIn.Dec())
	fmt.Printf("amount out:     %s\n", summary.AmountOut.Dec())
	fmt.Printf("fee:            %s\n", summary.FeeAmount.Dec())
	fmt.Printf("sqrt price:     %s (%s)\n", summary.SqrtPrice.Dec(), q64Decimal(summary.SqrtPrice))
	fmt.Printf("price:          %s\n", linearPrice(summary.SqrtPrice))
	fmt.Printf("tick:           %d\n", summary.Tick)
	fmt.Printf("liquidity:      %s\n", summary.Liquidity.Dec())
	fmt.Printf("ticks crossed:  %d\n", summary.TicksCrossed)
	if summary.JITActivated {
		fmt.Printf("jit consumed:   %s\n", summary.JITConsumed.Dec())
	}
	return nil
}

func runTWAP(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.ObservationsFile == "" {
		return fmt.Errorf("observations path is required")
	}

	twap, err := oracle.New(oracle.DefaultCapacity)
	if err != nil {
		return err
	}

	file, err := os.Open(cfg.ObservationsFile)
	if err != nil {
		return err
	}
	defer file.Close()

	var (
		last     uint64
		replayed []oracle.PriceObservation
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry observationEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("parse observation: %w", err)
		}
		sqrtPrice, err := parseU256("sqrt_price", entry.SqrtPrice)
		if err != nil {
			return err
		}
		vol0, err := parseU256("cum_vol0", entry.CumVol0)
		if err != nil {
			return err
		}
		vol1, err := parseU256("cum_vol1", entry.CumVol1)
		if err != nil {
			return err
		}
		if err := twap.Observe(sqrtPrice, vol0, vol1, entry.Timestamp); err != nil {
			return fmt.Errorf("observation at %d: %w", entry.Timestamp, err)
		}
		replayed = append(replayed, oracle.PriceObservation{
			SqrtPrice: sqrtPrice,
			CumVol0:   vol0,
			CumVol1:   vol1,
			Timestamp: entry.Timestamp,
		})
		last = entry.Timestamp
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if cfg.PGDSN != "" {
		ctx := context.Background()
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.SaveObservations(ctx, "cli", replayed); err != nil {
			return fmt.Errorf("persist observations: %w", err)
		}
		logger.Info("observations persisted", zap.Int("count", len(replayed)))
	}

	now := cfg.Now
	if now == 0 {
		now = last
	}

	avg, err := twap.TWAP(cfg.WindowSeconds, now)
	if err != nil {
		return err
	}

	logger.Info("twap computed",
		zap.Int("observations", twap.Count()),
		zap.Uint64("window", cfg.WindowSeconds),
		zap.Uint64("now", now),
	)
	fmt.Printf("twap (Q64.64):  %s\n", avg.Dec())
	fmt.Printf("twap:           %s\n", q64Decimal(avg))
	return nil
}

func loadTicks(ctx context.Context, store *engine.MemoryTickStore, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry tickEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("parse tick: %w", err)
		}
		if entry.Index < tickmath.MinTick || entry.Index > tickmath.MaxTick {
			return fmt.Errorf("tick %d: %w", entry.Index, tickmath.ErrTickOutOfBounds)
		}
		net, ok := new(big.Int).SetString(entry.LiquidityNet, 10)
		if !ok {
			return fmt.Errorf("tick %d: bad liquidity_net %q", entry.Index, entry.LiquidityNet)
		}
		// Upper boundaries carry negative net liquidity; route them through
		// the upper path so the gross amount stays positive.
		if net.Sign() < 0 {
			err = store.Update(ctx, entry.Index, new(big.Int).Neg(net), true)
		} else {
			err = store.Update(ctx, entry.Index, net, false)
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseU256(name, value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}

var q64Scale = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// q64Decimal renders a Q64.64 value as a human decimal.
func q64Decimal(x *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), 0).DivRound(q64Scale, 18)
}

// linearPrice squares the sqrt price into a linear price.
func linearPrice(sqrtPrice *uint256.Int) decimal.Decimal {
	root := q64Decimal(sqrtPrice)
	return root.Mul(root).Round(18)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
