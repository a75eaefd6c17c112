// Package config merges configuration from flags, environment variables, and
// an optional config file. Flags win over the file; the CLMM_ env prefix
// covers every key.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the CLI configuration values.
type Config struct {
	LogLevel string

	// Market parameters.
	SqrtPrice   string
	Tick        int32
	Liquidity   string
	FeeBps      uint32
	TickSpacing int32

	// Swap request.
	Amount     string
	ExactIn    bool
	ZeroForOne bool
	PriceLimit string
	TicksFile  string

	// Liquidity overlay.
	JITEnabled    bool
	JITBuffer     string
	JITMinQuote   string
	JITMaxBoost   uint32
	JITWidthTicks int32
	Slot          uint64

	// TWAP replay.
	ObservationsFile string
	WindowSeconds    uint64
	Now              uint64

	// Optional persistence.
	PGDSN string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("fee-bps", uint32(30))
	v.SetDefault("tick-spacing", int32(60))
	v.SetDefault("exact-in", true)
	v.SetDefault("jit-width-ticks", int32(120))

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel: v.GetString("log-level"),

		SqrtPrice:   v.GetString("sqrt-price"),
		Tick:        v.GetInt32("tick"),
		Liquidity:   v.GetString("liquidity"),
		FeeBps:      v.GetUint32("fee-bps"),
		TickSpacing: v.GetInt32("tick-spacing"),

		Amount:     v.GetString("amount"),
		ExactIn:    v.GetBool("exact-in"),
		ZeroForOne: v.GetBool("zero-for-one"),
		PriceLimit: v.GetString("price-limit"),
		TicksFile:  v.GetString("ticks"),

		JITEnabled:    v.GetBool("jit-enabled"),
		JITBuffer:     v.GetString("jit-buffer"),
		JITMinQuote:   v.GetString("jit-min-quote"),
		JITMaxBoost:   v.GetUint32("jit-max-boost-bps"),
		JITWidthTicks: v.GetInt32("jit-width-ticks"),
		Slot:          v.GetUint64("slot"),

		ObservationsFile: v.GetString("in"),
		WindowSeconds:    v.GetUint64("window"),
		Now:              v.GetUint64("now"),

		PGDSN: v.GetString("pg-dsn"),
	}

	return cfg, nil
}
