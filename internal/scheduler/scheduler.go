// Package scheduler runs the daily cache refresh pass.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fcemil/market-analyzer/internal/assets"
	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/observ"
)

// HistoryFetcher is the slice of the asset manager the refresh pass needs.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, req assets.FetchRequest) ([]marketdata.Bar, assets.Meta)
}

// SymbolSource returns the symbols to keep warm.
type SymbolSource interface {
	Symbols() []string
}

// SymbolSourceFunc adapts a plain function to SymbolSource.
type SymbolSourceFunc func() []string

func (f SymbolSourceFunc) Symbols() []string { return f() }

// Scheduler owns the cron loop that re-warms the cache once a day,
// after the overnight expiry window so entries are actually stale.
type Scheduler struct {
	cron    *cron.Cron
	fetcher HistoryFetcher
	source  SymbolSource
	points  int
}

func New(fetcher HistoryFetcher, source SymbolSource, chartPoints int) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		fetcher: fetcher,
		source:  source,
		points:  chartPoints,
	}
}

// Register installs the refresh task. spec is a standard 5-field cron
// expression, e.g. "30 8 * * *".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.refresh); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	observ.Log("scheduler_started", map[string]any{})
}

// Stop halts the cron loop and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	observ.Log("scheduler_stopped", map[string]any{})
}

// RunNow executes the refresh pass immediately, outside the schedule.
func (s *Scheduler) RunNow() { s.refresh() }

// refresh walks the watchlist in daily mode so still-fresh entries are
// served from cache and only expired ones hit the providers. Per-symbol
// failures are logged and skipped; the pass always completes.
func (s *Scheduler) refresh() {
	start := time.Now()
	symbols := s.source.Symbols()
	observ.Log("refresh_pass_start", map[string]any{"symbols": len(symbols)})

	var refreshed, failed int
	for _, sym := range symbols {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		_, meta := s.fetcher.FetchHistory(ctx, assets.FetchRequest{
			Symbol:      sym,
			StooqSymbol: marketdata.StooqSymbol(sym),
			Interval:    marketdata.IntervalDaily,
			ChartPoints: s.points,
			OutputSize:  marketdata.OutputCompact,
			Mode:        assets.ModeDaily,
		})
		cancel()
		if meta.Provider == "" {
			failed++
			observ.Log("refresh_symbol_failed", map[string]any{
				"symbol": sym, "stooq_error": meta.StooqError, "alpha_error": meta.AlphaError,
			})
			continue
		}
		refreshed++
	}

	observ.Log("refresh_pass_done", map[string]any{
		"refreshed": refreshed,
		"failed":    failed,
		"elapsed":   time.Since(start).Seconds(),
	})
	observ.IncCounter("refresh_passes_total", nil)
}
