package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fcemil/market-analyzer/internal/assets"
	"github.com/fcemil/market-analyzer/internal/config"
	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/observ"
	"github.com/fcemil/market-analyzer/internal/store"
	"github.com/fcemil/market-analyzer/internal/watchlist"
)

// HistoryFetcher is what the handlers need from the fetch orchestrator.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, req assets.FetchRequest) ([]marketdata.Bar, assets.Meta)
}

// CommodityFetcher fetches a FRED commodity series.
type CommodityFetcher interface {
	FetchSeries(ctx context.Context, seriesID string) ([]marketdata.Bar, error)
}

// UsageReporter exposes the ledger snapshot for the usage endpoint.
type UsageReporter interface {
	SnapshotNow(now time.Time) store.Snapshot
}

// Server wires the REST surface over the orchestrator and stores.
type Server struct {
	manager     HistoryFetcher
	commodities CommodityFetcher
	usage       UsageReporter
	watchlist   *watchlist.Store
	cfg         config.Root
}

func NewServer(manager HistoryFetcher, commodities CommodityFetcher, usage UsageReporter, wl *watchlist.Store, cfg config.Root) *Server {
	return &Server{
		manager:     manager,
		commodities: commodities,
		usage:       usage,
		watchlist:   wl,
		cfg:         cfg,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/assets", s.handleAssets).Methods(http.MethodGet)
	r.HandleFunc("/api/asset", s.handleAsset).Methods(http.MethodGet)
	r.HandleFunc("/api/watchlist", s.handleGetWatchlist).Methods(http.MethodGet)
	r.HandleFunc("/api/watchlist", s.handlePostWatchlist).Methods(http.MethodPost)
	r.HandleFunc("/api/watchlist/{symbol}", s.handleDeleteWatchlist).Methods(http.MethodDelete)
	r.HandleFunc("/api/usage", s.handleUsage).Methods(http.MethodGet)
	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)
	r.Handle("/healthz", observ.Health()).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.usage.SnapshotNow(time.Now()))
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stocks": s.watchlist.Load()})
}

func (s *Server) handlePostWatchlist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{"stocks": s.watchlist.Add(body.Symbol)})
}

func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	writeJSON(w, http.StatusOK, map[string]any{"stocks": s.watchlist.Remove(symbol)})
}
