package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Fee         uint64
	TickSpacing int64
	FeeProtocol uint64
	InitialTick int64
	Swaps       int
	SwapAmount  string
	RangeWidth  int64
	Liquidity   string
	TwapWindow  uint64
	DynamicFees bool
	FeeInterval uint64
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("fee", uint64(3000))
	v.SetDefault("fee-protocol", uint64(0))
	v.SetDefault("initial-tick", int64(0))
	v.SetDefault("swaps", 8)
	v.SetDefault("swap-amount", "1000000000000000000")
	v.SetDefault("range-width", int64(600))
	v.SetDefault("liquidity", "1000000000000000000")
	v.SetDefault("twap-window", uint64(60))
	v.SetDefault("dynamic-fees", false)
	v.SetDefault("fee-interval", uint64(3600))
	v.SetDefault("log-level", "info")

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
		Fee:         v.GetUint64("fee"),
		TickSpacing: v.GetInt64("tick-spacing"),
		FeeProtocol: v.GetUint64("fee-protocol"),
		InitialTick: v.GetInt64("initial-tick"),
		Swaps:       v.GetInt("swaps"),
		SwapAmount:  v.GetString("swap-amount"),
		RangeWidth:  v.GetInt64("range-width"),
		Liquidity:   v.GetString("liquidity"),
		TwapWindow:  v.GetUint64("twap-window"),
		DynamicFees: v.GetBool("dynamic-fees"),
		FeeInterval: v.GetUint64("fee-interval"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}
	return cfg, nil
}
