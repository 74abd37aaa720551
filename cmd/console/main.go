// Command console runs scripted trading sessions against an in-process
// engine and prints the resulting pool state. It exists to exercise the
// engine end to end and to eyeball fee and oracle behavior.
package main

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/defistate/clmm-engine-go/cmd/console/config"
	"github.com/defistate/clmm-engine-go/dynamicfee"
	"github.com/defistate/clmm-engine-go/engine"
	"github.com/defistate/clmm-engine-go/pool"
	"github.com/defistate/clmm-engine-go/tickmath"
)

func main() {
	root := &cobra.Command{
		Use:          "console",
		Short:        "Concentrated liquidity engine console",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scenarioCmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run a scripted mint / swap / burn / collect session",
		RunE:  runScenario,
	}
	scenarioCmd.Flags().Uint64("fee", 3000, "fee tier in pips")
	scenarioCmd.Flags().Int64("tick-spacing", 0, "tick spacing, 0 selects the tier default")
	scenarioCmd.Flags().Uint64("fee-protocol", 0, "protocol fee denominator, 0 disables")
	scenarioCmd.Flags().Int64("initial-tick", 0, "initial pool tick")
	scenarioCmd.Flags().Int("swaps", 8, "number of alternating swaps")
	scenarioCmd.Flags().String("swap-amount", "1000000000000000000", "exact input per swap")
	scenarioCmd.Flags().Int64("range-width", 600, "half-width of the liquidity range in ticks")
	scenarioCmd.Flags().String("liquidity", "1000000000000000000", "liquidity to mint")
	scenarioCmd.Flags().Uint64("twap-window", 60, "trailing TWAP window in seconds")
	scenarioCmd.Flags().Bool("dynamic-fees", false, "retune the swap fee from market activity")
	scenarioCmd.Flags().Uint64("fee-interval", 3600, "seconds between fee adjustments")
	scenarioCmd.Flags().String("metrics-addr", "", "serve /metrics on this address, empty disables")
	scenarioCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(scenarioCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// Deterministic clock: each operation advances time by one second so
	// the oracle accumulates a readable history.
	now := uint64(1_700_000_000)
	clock := func() uint64 { now++; return now }

	var feeTuning *dynamicfee.Config
	if cfg.DynamicFees {
		tuning := dynamicfee.DefaultConfig()
		tuning.Interval = cfg.FeeInterval
		feeTuning = &tuning
	}
	eng, err := engine.New(&engine.Config{
		Logger:    logger,
		Registry:  registry,
		Clock:     clock,
		FeeTuning: feeTuning,
	})
	if err != nil {
		return err
	}
	events := eng.Subscribe()
	go func() {
		for ev := range events {
			logger.Debug("event", "type", ev.Type, "pool", ev.Pool, "amount0", ev.Amount0, "amount1", ev.Amount1)
		}
	}()

	sqrtPrice := new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtPrice, cfg.InitialTick); err != nil {
		return err
	}
	token0 := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	token1 := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	id, err := eng.Initialize(pool.Config{
		Token0:                 token0,
		Token1:                 token1,
		Fee:                    cfg.Fee,
		TickSpacing:            cfg.TickSpacing,
		FeeProtocol:            cfg.FeeProtocol,
		SqrtPriceX96:           sqrtPrice,
		ObservationCardinality: 128,
	})
	if err != nil {
		return err
	}

	liquidity, ok := new(big.Int).SetString(cfg.Liquidity, 10)
	if !ok {
		return fmt.Errorf("invalid liquidity %q", cfg.Liquidity)
	}
	swapAmount, ok := new(big.Int).SetString(cfg.SwapAmount, 10)
	if !ok {
		return fmt.Errorf("invalid swap amount %q", cfg.SwapAmount)
	}

	owner := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	lower, upper := -cfg.RangeWidth, cfg.RangeWidth
	amount0, amount1, err := eng.Mint(id, owner, lower, upper, liquidity, 0)
	if err != nil {
		return err
	}
	logger.Info("minted", "amount0", amount0, "amount1", amount1, "tickLower", lower, "tickUpper", upper)

	for i := 0; i < cfg.Swaps; i++ {
		res, err := eng.Swap(id, pool.SwapParams{
			ZeroForOne:      i%2 == 0,
			AmountSpecified: swapAmount,
		})
		if err != nil {
			logger.Warn("swap rejected", "i", i, "error", err)
			continue
		}
		logger.Info("swapped",
			"i", i, "amount0", res.Amount0, "amount1", res.Amount1,
			"tick", res.Tick, "ticksCrossed", res.TicksCrossed, "fee", res.FeeAmount)
	}

	twapTick, err := eng.TimeWeightedAverageTick(id, cfg.TwapWindow)
	if err != nil {
		return err
	}

	var finalFee uint64
	if err := eng.View(id, func(p *pool.Pool) error {
		finalFee = p.Fee()
		return nil
	}); err != nil {
		return err
	}

	burned0, burned1, err := eng.Burn(id, owner, lower, upper, liquidity)
	if err != nil {
		return err
	}
	collected0, collected1, err := eng.Collect(id, owner, lower, upper, nil, nil)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "pool\t%s\n", id)
	fmt.Fprintf(w, "fee (pips)\t%d\n", finalFee)
	fmt.Fprintf(w, "twap tick (%ds)\t%d\n", cfg.TwapWindow, twapTick)
	fmt.Fprintf(w, "burned\t%s / %s\n", burned0, burned1)
	fmt.Fprintf(w, "collected\t%s / %s\n", collected0, collected1)
	fees0 := new(big.Int).Sub(collected0, burned0)
	fees1 := new(big.Int).Sub(collected1, burned1)
	fmt.Fprintf(w, "fees earned\t%s / %s\n", fees0, fees1)
	return w.Flush()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
