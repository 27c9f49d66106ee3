package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fcemil/market-analyzer/internal/analysis"
	"github.com/fcemil/market-analyzer/internal/assets"
	"github.com/fcemil/market-analyzer/internal/marketdata"
)

// assetPayload is one analyzed asset row plus fetch metadata.
type assetPayload struct {
	analysis.Asset
	assets.Meta
	Currency           string `json:"currency"`
	AnalysisWindowDays int    `json:"analysis_window_days"`
	DrawdownWindowDays int    `json:"drawdown_window_days"`
	SampleCount        *int   `json:"sample_count,omitempty"`
	Missing            bool   `json:"missing,omitempty"`
}

// clampChartPoints caps per-interval chart sizes to keep payloads bounded:
// five years of daily bars, ten of weekly, twenty of monthly.
func clampChartPoints(interval string, points int) int {
	switch {
	case marketdata.IsDaily(interval) && points > 1260:
		return 1260
	case (interval == marketdata.IntervalWeekly || interval == "weekly") && points > 520:
		return 520
	case (interval == marketdata.IntervalMonthly || interval == "monthly") && points > 240:
		return 240
	}
	return points
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func queryStr(r *http.Request, name, def string) string {
	if raw := r.URL.Query().Get(name); raw != "" {
		return raw
	}
	return def
}

// handleAssets analyzes every watchlist stock and configured commodity.
// Per-symbol failures land in the errors list; one symbol's failure never
// aborts the rest of the response.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	interval := queryStr(r, "interval", "1d")
	outputSize := queryStr(r, "outputsize", marketdata.OutputCompact)
	chartPoints := clampChartPoints(interval, queryInt(r, "chart_points", 60))
	mode := queryStr(r, "mode", assets.ModeDaily)

	stooqMap := map[string]string{}
	if raw := r.URL.Query().Get("stooq_map"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &stooqMap)
	}

	rows := []assetPayload{}
	var errs []string

	if s.cfg.Keys.AlphaVantage == "" {
		errs = append(errs, "Stocks: ALPHA_VANTAGE_KEY not loaded (check .env location and restart server)")
	}
	if s.cfg.Keys.FRED == "" {
		errs = append(errs, "Commodities: FRED_API_KEY not loaded (check .env location and restart server)")
	}

	for _, symbol := range s.watchlist.Load() {
		bars, meta := s.manager.FetchHistory(r.Context(), assets.FetchRequest{
			Symbol:      symbol,
			StooqSymbol: stooqMap[symbol],
			Interval:    interval,
			ChartPoints: chartPoints,
			OutputSize:  outputSize,
			Mode:        mode,
		})
		if bars == nil {
			errs = append(errs, fmt.Sprintf("Stocks: %s - missing history", symbol))
			rows = append(rows, assetPayload{
				Asset:              analysis.Neutral(symbol, symbol, "stock"),
				Meta:               meta,
				Currency:           marketdata.InferCurrency(symbol, "stock"),
				AnalysisWindowDays: s.cfg.Analysis.WindowDays,
				DrawdownWindowDays: s.cfg.Analysis.DrawdownWindowDays,
				Missing:            true,
			})
			continue
		}
		resampled := marketdata.Resample(bars, interval)
		n := len(resampled)
		rows = append(rows, assetPayload{
			Asset:              analysis.Analyze(symbol, symbol, "stock", resampled, chartPoints),
			Meta:               meta,
			Currency:           marketdata.InferCurrency(symbol, "stock"),
			AnalysisWindowDays: s.cfg.Analysis.WindowDays,
			DrawdownWindowDays: s.cfg.Analysis.DrawdownWindowDays,
			SampleCount:        &n,
		})
	}

	for _, com := range s.cfg.Commodities {
		bars, err := s.commodities.FetchSeries(r.Context(), com.SeriesID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Commodities: %s - %s", com.Name, marketdata.ErrorString(err)))
			continue
		}
		n := len(bars)
		rows = append(rows, assetPayload{
			Asset:              analysis.Analyze(com.Name, com.SeriesID, "commodity", marketdata.Resample(bars, interval), chartPoints),
			Meta:               assets.Meta{Provider: "fred"},
			Currency:           marketdata.InferCurrency(com.SeriesID, "commodity"),
			AnalysisWindowDays: s.cfg.Analysis.WindowDays,
			DrawdownWindowDays: s.cfg.Analysis.DrawdownWindowDays,
			SampleCount:        &n,
		})
	}

	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": rows,
		"errors": errs,
		"usage":  s.usage.SnapshotNow(time.Now()),
	})
}

// handleAsset analyzes a single stock or commodity.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(queryStr(r, "symbol", ""))
	assetType := strings.TrimSpace(queryStr(r, "type", ""))
	if symbol == "" || assetType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol and type are required"})
		return
	}
	interval := queryStr(r, "interval", "1d")
	outputSize := queryStr(r, "outputsize", marketdata.OutputCompact)
	chartPoints := clampChartPoints(interval, queryInt(r, "chart_points", 60))
	mode := queryStr(r, "mode", assets.ModeDaily)
	if queryStr(r, "refresh", "0") == "1" {
		mode = assets.ModeForce
	}

	var row assetPayload
	if assetType == "stock" {
		bars, meta := s.manager.FetchHistory(r.Context(), assets.FetchRequest{
			Symbol:      symbol,
			StooqSymbol: strings.TrimSpace(queryStr(r, "stooq_symbol", "")),
			Interval:    interval,
			ChartPoints: chartPoints,
			OutputSize:  outputSize,
			Mode:        mode,
		})
		if bars == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing history"})
			return
		}
		resampled := marketdata.Resample(bars, interval)
		n := len(resampled)
		row = assetPayload{
			Asset:       analysis.Analyze(symbol, symbol, "stock", resampled, chartPoints),
			Meta:        meta,
			SampleCount: &n,
		}
	} else {
		bars, err := s.commodities.FetchSeries(r.Context(), symbol)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": marketdata.ErrorString(err)})
			return
		}
		n := len(bars)
		row = assetPayload{
			Asset:       analysis.Analyze(symbol, symbol, "commodity", marketdata.Resample(bars, interval), chartPoints),
			Meta:        assets.Meta{Provider: "fred"},
			SampleCount: &n,
		}
	}
	row.Currency = marketdata.InferCurrency(symbol, assetType)
	row.AnalysisWindowDays = s.cfg.Analysis.WindowDays
	row.DrawdownWindowDays = s.cfg.Analysis.DrawdownWindowDays
	writeJSON(w, http.StatusOK, map[string]any{"asset": row})
}
