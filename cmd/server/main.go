package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fcemil/market-analyzer/internal/api"
	"github.com/fcemil/market-analyzer/internal/assets"
	"github.com/fcemil/market-analyzer/internal/config"
	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/observ"
	"github.com/fcemil/market-analyzer/internal/scheduler"
	"github.com/fcemil/market-analyzer/internal/store"
	"github.com/fcemil/market-analyzer/internal/watchlist"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			observ.Log("config_load_failed", map[string]any{"path": cfgPath, "err": err.Error()})
			os.Exit(1)
		}
		cfg = config.Default()
	}
	cfg.LoadKeysFromEnv()

	observ.Log("startup", map[string]any{
		"addr":               cfg.Server.Addr,
		"alpha_key_set":      cfg.Keys.AlphaVantage != "",
		"fred_key_set":       cfg.Keys.FRED != "",
		"alpha_daily_budget": cfg.Providers.AlphaDailyBudget,
	})

	timeout := time.Duration(cfg.Providers.TimeoutSeconds) * time.Second
	stooq := marketdata.NewStooqClient(cfg.Providers.StooqBaseURL, timeout)
	alpha := marketdata.NewAlphaVantageClient(cfg.Providers.AlphaBaseURL, cfg.Keys.AlphaVantage, timeout)
	fred := marketdata.NewFREDClient(cfg.Providers.FREDBaseURL, cfg.Keys.FRED, timeout)

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

	wl := watchlist.NewStore(cfg.Storage.WatchlistPath, cfg.PopularStocks)

	sched := scheduler.New(manager, scheduler.SymbolSourceFunc(wl.Load), 240)
	if err := sched.Register(cfg.Server.RefreshSchedule); err != nil {
		observ.Log("scheduler_register_failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(manager, fred, ledger, wl, cfg).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	observ.Log("server_listening", map[string]any{"addr": cfg.Server.Addr})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		observ.Log("shutdown_signal", map[string]any{"signal": sig.String()})
	case err := <-errc:
		observ.Log("server_error", map[string]any{"err": err.Error()})
	}

	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		observ.Log("shutdown_error", map[string]any{"err": err.Error()})
	}
	observ.Log("shutdown_complete", map[string]any{})
}
