// Command fetch pulls history for one symbol through the full
// cache/provider pipeline and prints the analyzed result as JSON.
// Useful for poking at provider behavior without running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fcemil/market-analyzer/internal/analysis"
	"github.com/fcemil/market-analyzer/internal/assets"
	"github.com/fcemil/market-analyzer/internal/config"
	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/store"
)

func main() {
	var (
		cfgPath  string
		symbol   string
		interval string
		points   int
		force    bool
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&symbol, "symbol", "", "ticker symbol (required)")
	flag.StringVar(&interval, "interval", marketdata.IntervalDaily, "bar interval: 1d, 1w, 1m")
	flag.IntVar(&points, "points", 60, "chart points to return")
	flag.BoolVar(&force, "force", false, "bypass the cache")
	flag.Parse()

	if symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch -symbol AAPL [-interval 1d] [-points 60] [-force]")
		os.Exit(2)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	cfg.LoadKeysFromEnv()

	timeout := time.Duration(cfg.Providers.TimeoutSeconds) * time.Second
	stooq := marketdata.NewStooqClient(cfg.Providers.StooqBaseURL, timeout)
	alpha := marketdata.NewAlphaVantageClient(cfg.Providers.AlphaBaseURL, cfg.Keys.AlphaVantage, timeout)
	cache := store.NewFileCache(cfg.Storage.CachePath)
	ledger := store.NewLedger(cfg.Storage.UsagePath, map[string]store.Budget{
		store.ProviderAlpha: {
			Daily:     cfg.Providers.AlphaDailyBudget,
			PerMinute: cfg.Providers.AlphaPerMinuteBudget,
		},
	})
	manager := assets.NewManager(stooq, alpha, cache, ledger, assets.Config{
		AlphaKey:         cfg.Keys.AlphaVantage,
		StooqDelay:       time.Duration(cfg.Providers.StooqCourtesyDelaySecs * float64(time.Second)),
		AlphaMinInterval: time.Duration(cfg.Providers.AlphaMinIntervalSecs * float64(time.Second)),
	})

	mode := assets.ModeDaily
	outputSize := marketdata.OutputCompact
	if force {
		mode = assets.ModeForce
		outputSize = marketdata.OutputFull
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bars, meta := manager.FetchHistory(ctx, assets.FetchRequest{
		Symbol:      symbol,
		StooqSymbol: marketdata.StooqSymbol(symbol),
		Interval:    interval,
		ChartPoints: points,
		OutputSize:  outputSize,
		Mode:        mode,
	})

	out := struct {
		Asset analysis.Asset `json:"asset"`
		Meta  assets.Meta    `json:"metadata"`
	}{Meta: meta}

	if len(bars) == 0 {
		fmt.Fprintf(os.Stderr, "no history for %s (stooq: %s, alpha: %s)\n",
			symbol, meta.StooqError, meta.AlphaError)
		os.Exit(1)
	}
	out.Asset = analysis.Analyze(symbol, symbol, "stock", bars, points)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
}
