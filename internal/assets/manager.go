package assets

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/observ"
	"github.com/fcemil/market-analyzer/internal/store"
)

// Fetch modes. ModeDaily serves an unexpired cache entry without touching
// providers; ModeForce always refreshes.
const (
	ModeDaily = "daily"
	ModeForce = "force"
)

// Cache status values reported in fetch metadata.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// PrimaryProvider is the free, unauthenticated history source (Stooq).
type PrimaryProvider interface {
	FetchDaily(ctx context.Context, symbol, stooqSymbol string) ([]marketdata.Bar, error)
}

// FallbackProvider is the quota-limited history source (Alpha Vantage).
type FallbackProvider interface {
	FetchDaily(ctx context.Context, symbol, outputSize string) ([]marketdata.Bar, error)
}

// Cache is the durable entry store the manager reads and writes. The
// manager is the sole writer; expiry is decided here, not in the store.
type Cache interface {
	Get(key string) (store.Entry, bool)
	Put(key string, e store.Entry) error
}

// UsageLedger accounts for provider calls and request outcomes.
type UsageLedger interface {
	MayCall(provider string, now time.Time) bool
	AwaitSlot(ctx context.Context, provider string)
	RecordCall(provider string, now time.Time)
	RecordOutcome(cacheHit bool)
	RecordPrimaryFailure()
}

// FetchRequest describes one history fetch.
type FetchRequest struct {
	Symbol      string
	StooqSymbol string // optional manual Stooq code override
	Interval    string // display interval; only daily data is ever fetched
	ChartPoints int    // requested display points, feeds the sufficiency check
	OutputSize  string // Alpha Vantage outputsize hint
	Mode        string // ModeDaily or ModeForce
}

// Meta describes the outcome of one fetch: which tier served it, cache
// disposition, and any provider errors collected along the way. Transient,
// produced fresh per call.
type Meta struct {
	Provider     string `json:"provider,omitempty"`
	SourceSymbol string `json:"source_symbol,omitempty"`
	FetchedAt    int64  `json:"fetched_at,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	IsStale      bool   `json:"is_stale"`
	CacheStatus  string `json:"cache_status,omitempty"`
	StooqError   string `json:"stooq_error,omitempty"`
	AlphaError   string `json:"alpha_error,omitempty"`
}

// Config tunes the manager's throttles and fallback access.
type Config struct {
	AlphaKey         string
	StooqDelay       time.Duration // courtesy pacing between Stooq calls
	AlphaMinInterval time.Duration // mandatory spacing between Alpha calls
}

// Manager decides, per symbol, whether to serve from cache, which provider
// to try, when to fall back, and when to degrade to stale data. It is the
// only component that writes cache entries or ledger records.
type Manager struct {
	primary  PrimaryProvider
	fallback FallbackProvider
	cache    Cache
	ledger   UsageLedger

	alphaKey  string
	stooqPace *rate.Limiter
	alphaPace *rate.Limiter

	now func() time.Time
}

func NewManager(primary PrimaryProvider, fallback FallbackProvider, cache Cache, ledger UsageLedger, cfg Config) *Manager {
	if cfg.StooqDelay <= 0 {
		cfg.StooqDelay = 200 * time.Millisecond
	}
	if cfg.AlphaMinInterval <= 0 {
		cfg.AlphaMinInterval = 1100 * time.Millisecond
	}
	return &Manager{
		primary:   primary,
		fallback:  fallback,
		cache:     cache,
		ledger:    ledger,
		alphaKey:  cfg.AlphaKey,
		stooqPace: rate.NewLimiter(rate.Every(cfg.StooqDelay), 1),
		alphaPace: rate.NewLimiter(rate.Every(cfg.AlphaMinInterval), 1),
		now:       time.Now,
	}
}

// FetchHistory runs the fetch decision chain for one symbol:
//
//  1. unexpired cache entry and mode != force: serve it (hit)
//  2. try Stooq; judge sufficiency; on success persist with a ~01:00 expiry
//  3. fall back to Alpha Vantage if configured and within budget; on
//     success persist with a ~06:00 expiry
//  4. serve the stale cache entry if one exists
//  5. report total failure (nil bars)
//
// Provider errors never propagate; they are preserved as strings in Meta.
func (m *Manager) FetchHistory(ctx context.Context, req FetchRequest) ([]marketdata.Bar, Meta) {
	key := store.CacheKey("stock", req.Symbol, "daily")
	cached, haveCached := m.cache.Get(key)
	now := m.now()
	expired := !haveCached || cached.ExpiresAt <= now.Unix()

	if haveCached && !expired && req.Mode != ModeForce {
		m.ledger.RecordOutcome(true)
		observ.IncCounter("history_fetch_total", map[string]string{"status": CacheHit})
		return cached.Data, Meta{
			Provider:     cached.Provider,
			SourceSymbol: cached.SourceSymbol,
			FetchedAt:    cached.FetchedAt,
			ExpiresAt:    cached.ExpiresAt,
			CacheStatus:  CacheHit,
		}
	}

	var stooqErr, alphaErr string
	if req.Mode == ModeForce || expired {
		m.waitPace(ctx, m.stooqPace)
		data, err := m.primary.FetchDaily(ctx, req.Symbol, req.StooqSymbol)

		if err == nil && !insufficient(data, req.Interval, req.ChartPoints) {
			expiresAt := m.expiryFor(store.ProviderStooq, req.Symbol, now)
			entry := store.Entry{
				Provider:     store.ProviderStooq,
				SourceSymbol: strings.ToLower(req.StooqSymbol),
				FetchedAt:    now.Unix(),
				ExpiresAt:    expiresAt,
				Data:         data,
			}
			m.putEntry(key, entry)
			m.ledger.RecordOutcome(false)
			observ.IncCounter("history_fetch_total", map[string]string{"status": CacheMiss, "provider": store.ProviderStooq})
			return data, Meta{
				Provider:     store.ProviderStooq,
				SourceSymbol: entry.SourceSymbol,
				FetchedAt:    entry.FetchedAt,
				ExpiresAt:    expiresAt,
				CacheStatus:  CacheMiss,
			}
		}

		if err != nil {
			stooqErr = marketdata.ErrorString(err)
		} else {
			stooqErr = "insufficient"
		}
		m.ledger.RecordPrimaryFailure()
		observ.Log("stooq_fetch_failed", map[string]any{"symbol": req.Symbol, "error": stooqErr})
	}

	if (req.Mode == ModeForce || expired) && m.fallback != nil && m.alphaKey != "" && m.ledger.MayCall(store.ProviderAlpha, m.now()) {
		m.ledger.AwaitSlot(ctx, store.ProviderAlpha)
		m.waitPace(ctx, m.alphaPace)
		data, err := m.fallback.FetchDaily(ctx, req.Symbol, req.OutputSize)
		m.ledger.RecordCall(store.ProviderAlpha, m.now())

		if err == nil && len(data) > 0 {
			expiresAt := m.expiryFor(store.ProviderAlpha, req.Symbol, now)
			entry := store.Entry{
				Provider:     store.ProviderAlpha,
				SourceSymbol: req.Symbol,
				FetchedAt:    now.Unix(),
				ExpiresAt:    expiresAt,
				Data:         data,
			}
			m.putEntry(key, entry)
			m.ledger.RecordOutcome(false)
			observ.IncCounter("history_fetch_total", map[string]string{"status": CacheMiss, "provider": store.ProviderAlpha})
			return data, Meta{
				Provider:     store.ProviderAlpha,
				SourceSymbol: req.Symbol,
				FetchedAt:    entry.FetchedAt,
				ExpiresAt:    expiresAt,
				CacheStatus:  CacheMiss,
				StooqError:   stooqErr,
			}
		}

		alphaErr = marketdata.ErrorString(err)
		observ.Log("alpha_fetch_failed", map[string]any{"symbol": req.Symbol, "error": alphaErr})
	}

	// Stale degradation: expired data beats no data.
	if haveCached {
		m.ledger.RecordOutcome(true)
		observ.IncCounter("history_fetch_total", map[string]string{"status": CacheStale})
		return cached.Data, staleMeta(cached, stooqErr, alphaErr)
	}

	m.ledger.RecordOutcome(false)
	observ.IncCounter("history_fetch_total", map[string]string{"status": "none"})
	return nil, Meta{
		SourceSymbol: req.StooqSymbol,
		CacheStatus:  CacheMiss,
		StooqError:   stooqErr,
		AlphaError:   alphaErr,
	}
}

func staleMeta(cached store.Entry, stooqErr, alphaErr string) Meta {
	return Meta{
		Provider:     cached.Provider,
		SourceSymbol: cached.SourceSymbol,
		FetchedAt:    cached.FetchedAt,
		ExpiresAt:    cached.ExpiresAt,
		IsStale:      true,
		CacheStatus:  CacheStale,
		StooqError:   stooqErr,
		AlphaError:   alphaErr,
	}
}

func (m *Manager) putEntry(key string, entry store.Entry) {
	if err := m.cache.Put(key, entry); err != nil {
		observ.Log("cache_put_error", map[string]any{"key": key, "error": err.Error()})
	}
}

// waitPace blocks until the limiter grants a slot, pacing provider calls.
// Context cancellation just stops the wait; the fetch that follows will
// fail on the same context anyway.
func (m *Manager) waitPace(ctx context.Context, lim *rate.Limiter) {
	_ = lim.Wait(ctx)
}

// insufficient flags short responses that cannot back the requested display
// window: daily interval, window of at most 90 points, fewer than 25 rows
// in the tail slice. The 25/90 constants are tuned to Stooq's observed
// partial-response failure mode; do not change them casually.
func insufficient(data []marketdata.Bar, interval string, chartPoints int) bool {
	if !marketdata.IsDaily(interval) {
		return false
	}
	if chartPoints > 90 {
		return false
	}
	return len(marketdata.Tail(data, chartPoints)) < 25
}

// JitterMinutes derives a stable 0-30 minute offset from the cache key with
// a fixed-seed FNV-1a checksum, so the same symbol refreshes at the same
// offset every run and symbols spread out instead of herding at the hour.
func JitterMinutes(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % 31)
}

// expiryFor computes the next-day refresh deadline: 01:00 local for Stooq
// (free, refresh eagerly) and 06:00 local for Alpha Vantage (hold cached
// data longer to conserve quota), both plus the per-key jitter.
func (m *Manager) expiryFor(provider, key string, now time.Time) int64 {
	hour := 1
	if provider == store.ProviderAlpha {
		hour = 6
	}
	tomorrow := now.AddDate(0, 0, 1)
	target := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, 0, 0, 0, now.Location())
	return target.Add(time.Duration(JitterMinutes(key)) * time.Minute).Unix()
}
