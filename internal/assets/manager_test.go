package assets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fcemil/market-analyzer/internal/marketdata"
	"github.com/fcemil/market-analyzer/internal/store"
)

type fakePrimary struct {
	calls int
	bars  []marketdata.Bar
	err   error
}

func (f *fakePrimary) FetchDaily(ctx context.Context, symbol, stooqSymbol string) ([]marketdata.Bar, error) {
	f.calls++
	return f.bars, f.err
}

type fakeFallback struct {
	calls int
	bars  []marketdata.Bar
	err   error
}

func (f *fakeFallback) FetchDaily(ctx context.Context, symbol, outputSize string) ([]marketdata.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func dailyBars(n int) []marketdata.Bar {
	bars := make([]marketdata.Bar, 0, n)
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		bars = append(bars, marketdata.Bar{
			Date:   day,
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: 1_000_000,
		})
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

func newTestManager(p PrimaryProvider, f FallbackProvider, cache Cache, ledger UsageLedger) *Manager {
	m := NewManager(p, f, cache, ledger, Config{
		AlphaKey:         "test-key",
		StooqDelay:       time.Millisecond,
		AlphaMinInterval: time.Millisecond,
	})
	m.now = func() time.Time { return time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC) }
	return m
}

func testLedger() *store.Ledger {
	return store.NewLedger("", map[string]store.Budget{
		store.ProviderAlpha: {Daily: 10, PerMinute: 5},
	})
}

func testRequest() FetchRequest {
	return FetchRequest{
		Symbol:      "AAPL",
		StooqSymbol: "aapl.us",
		Interval:    marketdata.IntervalDaily,
		ChartPoints: 60,
		OutputSize:  marketdata.OutputCompact,
		Mode:        ModeDaily,
	}
}

func TestFetchHistory_CacheHitSkipsProviders(t *testing.T) {
	primary := &fakePrimary{bars: dailyBars(60)}
	fallback := &fakeFallback{}
	cache := store.NewMemCache()
	m := newTestManager(primary, fallback, cache, testLedger())

	key := store.CacheKey("stock", "AAPL", "daily")
	cached := dailyBars(40)
	cache.Put(key, store.Entry{
		Provider:     store.ProviderStooq,
		SourceSymbol: "aapl.us",
		FetchedAt:    m.now().Add(-time.Hour).Unix(),
		ExpiresAt:    m.now().Add(time.Hour).Unix(),
		Data:         cached,
	})

	for i := 0; i < 3; i++ {
		bars, meta := m.FetchHistory(context.Background(), testRequest())
		if len(bars) != len(cached) {
			t.Fatalf("call %d: got %d bars, want %d", i, len(bars), len(cached))
		}
		if meta.CacheStatus != CacheHit {
			t.Fatalf("call %d: cache status %q, want %q", i, meta.CacheStatus, CacheHit)
		}
		if meta.Provider != store.ProviderStooq {
			t.Fatalf("call %d: provider %q, want stooq", i, meta.Provider)
		}
		if meta.IsStale {
			t.Fatalf("call %d: hit marked stale", i)
		}
	}
	if primary.calls != 0 || fallback.calls != 0 {
		t.Fatalf("providers touched on cache hit: primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestFetchHistory_MissFetchesPrimaryAndCaches(t *testing.T) {
	primary := &fakePrimary{bars: dailyBars(60)}
	fallback := &fakeFallback{}
	cache := store.NewMemCache()
	m := newTestManager(primary, fallback, cache, testLedger())

	bars, meta := m.FetchHistory(context.Background(), testRequest())
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called on primary success")
	}
	if len(bars) != 60 {
		t.Fatalf("got %d bars, want 60", len(bars))
	}
	if meta.Provider != store.ProviderStooq || meta.CacheStatus != CacheMiss {
		t.Fatalf("meta = %+v, want stooq/miss", meta)
	}
	if meta.SourceSymbol != "aapl.us" {
		t.Fatalf("source symbol %q, want aapl.us", meta.SourceSymbol)
	}

	// Entry persisted with a next-day 01:xx local expiry.
	entry, ok := cache.Get(store.CacheKey("stock", "AAPL", "daily"))
	if !ok {
		t.Fatal("entry not cached")
	}
	exp := time.Unix(entry.ExpiresAt, 0).UTC()
	if exp.Day() != 11 || exp.Hour() != 1 {
		t.Fatalf("expiry %v, want tomorrow 01:xx", exp)
	}
	wantMin := JitterMinutes("AAPL")
	if exp.Minute() != wantMin {
		t.Fatalf("expiry minute %d, want jitter %d", exp.Minute(), wantMin)
	}

	// Second call is now a hit.
	_, meta2 := m.FetchHistory(context.Background(), testRequest())
	if meta2.CacheStatus != CacheHit {
		t.Fatalf("second call status %q, want hit", meta2.CacheStatus)
	}
	if primary.calls != 1 {
		t.Fatalf("primary refetched after caching: calls=%d", primary.calls)
	}
}

func TestFetchHistory_FallbackOnPrimaryError(t *testing.T) {
	primary := &fakePrimary{err: marketdata.NewNetworkError("AAPL", "request failed", errors.New("dial tcp: timeout"))}
	fallback := &fakeFallback{bars: dailyBars(100)}
	cache := store.NewMemCache()
	m := newTestManager(primary, fallback, cache, testLedger())

	bars, meta := m.FetchHistory(context.Background(), testRequest())
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.calls)
	}
	if len(bars) != 100 {
		t.Fatalf("got %d bars, want 100", len(bars))
	}
	if meta.Provider != store.ProviderAlpha {
		t.Fatalf("provider %q, want alpha", meta.Provider)
	}
	if meta.StooqError != "network" {
		t.Fatalf("stooq error %q, want bare class %q", meta.StooqError, "network")
	}

	exp := time.Unix(meta.ExpiresAt, 0).UTC()
	if exp.Hour() != 6 {
		t.Fatalf("alpha expiry hour %d, want 6", exp.Hour())
	}
}

func TestFetchHistory_FallbackOnInsufficientPrimary(t *testing.T) {
	// 10 daily rows cannot back a 60-point window.
	primary := &fakePrimary{bars: dailyBars(10)}
	fallback := &fakeFallback{bars: dailyBars(100)}
	m := newTestManager(primary, fallback, store.NewMemCache(), testLedger())

	_, meta := m.FetchHistory(context.Background(), testRequest())
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.calls)
	}
	if meta.StooqError != "insufficient" {
		t.Fatalf("stooq error %q, want insufficient", meta.StooqError)
	}
}

func TestFetchHistory_StaleDegradation(t *testing.T) {
	primary := &fakePrimary{err: marketdata.NewNetworkError("AAPL", "request failed", errors.New("unreachable"))}
	fallback := &fakeFallback{err: marketdata.NewRateLimitError("AAPL", "rate limited")}
	cache := store.NewMemCache()
	m := newTestManager(primary, fallback, cache, testLedger())

	key := store.CacheKey("stock", "AAPL", "daily")
	old := dailyBars(30)
	cache.Put(key, store.Entry{
		Provider:     store.ProviderStooq,
		SourceSymbol: "aapl.us",
		FetchedAt:    m.now().Add(-48 * time.Hour).Unix(),
		ExpiresAt:    m.now().Add(-24 * time.Hour).Unix(),
		Data:         old,
	})

	bars, meta := m.FetchHistory(context.Background(), testRequest())
	if len(bars) != len(old) {
		t.Fatalf("got %d bars, want stale %d", len(bars), len(old))
	}
	if !meta.IsStale || meta.CacheStatus != CacheStale {
		t.Fatalf("meta = %+v, want stale", meta)
	}
	if meta.StooqError != "network" {
		t.Fatalf("stale meta lost the primary error: %q", meta.StooqError)
	}
	if meta.AlphaError != "rate limited" {
		t.Fatalf("stale meta lost the fallback error: %q", meta.AlphaError)
	}
	if meta.Provider != store.ProviderStooq {
		t.Fatalf("stale provider %q, want original stooq", meta.Provider)
	}
}

func TestFetchHistory_TotalFailure(t *testing.T) {
	primary := &fakePrimary{err: marketdata.NewSymbolNotFoundError("NOPE", "stooq")}
	fallback := &fakeFallback{err: marketdata.NewProviderError("NOPE", "missing time series", nil)}
	m := newTestManager(primary, fallback, store.NewMemCache(), testLedger())

	req := testRequest()
	req.Symbol = "NOPE"
	req.StooqSymbol = "nope.us"
	bars, meta := m.FetchHistory(context.Background(), req)
	if bars != nil {
		t.Fatalf("got %d bars, want none", len(bars))
	}
	if meta.Provider != "" {
		t.Fatalf("provider %q on total failure", meta.Provider)
	}
	if meta.StooqError != "symbol_not_found" {
		t.Fatalf("stooq error %q, want symbol_not_found", meta.StooqError)
	}
	if meta.AlphaError != "missing time series" {
		t.Fatalf("alpha error %q, want the provider message", meta.AlphaError)
	}
}

func TestFetchHistory_ForceBypassesFreshCache(t *testing.T) {
	primary := &fakePrimary{bars: dailyBars(60)}
	cache := store.NewMemCache()
	m := newTestManager(primary, &fakeFallback{}, cache, testLedger())

	cache.Put(store.CacheKey("stock", "AAPL", "daily"), store.Entry{
		Provider:  store.ProviderStooq,
		FetchedAt: m.now().Unix(),
		ExpiresAt: m.now().Add(time.Hour).Unix(),
		Data:      dailyBars(5),
	})

	req := testRequest()
	req.Mode = ModeForce
	bars, meta := m.FetchHistory(context.Background(), req)
	if primary.calls != 1 {
		t.Fatalf("force mode served cache; primary calls = %d", primary.calls)
	}
	if len(bars) != 60 || meta.CacheStatus != CacheMiss {
		t.Fatalf("got %d bars / %q, want refreshed 60 / miss", len(bars), meta.CacheStatus)
	}
}

func TestFetchHistory_NoFallbackWithoutKey(t *testing.T) {
	primary := &fakePrimary{err: marketdata.NewNetworkError("AAPL", "request failed", errors.New("down"))}
	fallback := &fakeFallback{bars: dailyBars(100)}
	m := NewManager(primary, fallback, store.NewMemCache(), testLedger(), Config{
		StooqDelay:       time.Millisecond,
		AlphaMinInterval: time.Millisecond,
	})

	bars, _ := m.FetchHistory(context.Background(), testRequest())
	if fallback.calls != 0 {
		t.Fatalf("fallback called with no API key")
	}
	if bars != nil {
		t.Fatalf("expected no data without key or cache")
	}
}

func TestFetchHistory_BudgetExhaustedSkipsFallback(t *testing.T) {
	primary := &fakePrimary{err: marketdata.NewNetworkError("AAPL", "request failed", errors.New("down"))}
	fallback := &fakeFallback{bars: dailyBars(100)}
	ledger := store.NewLedger("", map[string]store.Budget{
		store.ProviderAlpha: {Daily: 1, PerMinute: 5},
	})
	m := newTestManager(primary, fallback, store.NewMemCache(), ledger)

	ledger.RecordCall(store.ProviderAlpha, m.now())

	bars, _ := m.FetchHistory(context.Background(), testRequest())
	if fallback.calls != 0 {
		t.Fatalf("fallback called past daily budget")
	}
	if bars != nil {
		t.Fatalf("expected no data when budget exhausted and cache empty")
	}
}

func TestInsufficient(t *testing.T) {
	cases := []struct {
		name        string
		bars        int
		interval    string
		chartPoints int
		want        bool
	}{
		{"24 rows at 60 points", 24, marketdata.IntervalDaily, 60, true},
		{"25 rows at 60 points", 25, marketdata.IntervalDaily, 60, false},
		{"24 rows at 90 points", 24, marketdata.IntervalDaily, 90, true},
		{"24 rows at 91 points", 24, marketdata.IntervalDaily, 91, false},
		{"24 rows weekly", 24, marketdata.IntervalWeekly, 60, false},
		{"empty daily", 0, marketdata.IntervalDaily, 30, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := insufficient(dailyBars(tc.bars), tc.interval, tc.chartPoints)
			if got != tc.want {
				t.Fatalf("insufficient(%d bars, %s, %d) = %v, want %v",
					tc.bars, tc.interval, tc.chartPoints, got, tc.want)
			}
		})
	}
}

func TestJitterMinutes_StableAndBounded(t *testing.T) {
	for _, key := range []string{"AAPL", "MSFT", "stock:GLD:daily", ""} {
		first := JitterMinutes(key)
		for i := 0; i < 5; i++ {
			if got := JitterMinutes(key); got != first {
				t.Fatalf("jitter for %q not stable: %d then %d", key, first, got)
			}
		}
		if first < 0 || first > 30 {
			t.Fatalf("jitter for %q out of range: %d", key, first)
		}
	}
	if JitterMinutes("AAPL") == JitterMinutes("MSFT") && JitterMinutes("AAPL") == JitterMinutes("GLD") {
		t.Fatal("distinct keys all collided; hash looks broken")
	}
}
