package store

import (
	"context"
	"sync"
	"time"

	"github.com/fcemil/market-analyzer/internal/observ"
)

// Budget caps calls to a provider. Zero-valued means uncapped.
type Budget struct {
	Daily     int
	PerMinute int
}

// awaitSlotCeiling bounds how long AwaitSlot may block in total so a server
// request can never hang on the throttle indefinitely.
const awaitSlotCeiling = 65 * time.Second

type usageStats struct {
	Requests      int `json:"requests"`
	CacheHits     int `json:"cache_hits"`
	StooqFailures int `json:"stooq_failures"`
}

type usageDoc struct {
	Daily  map[string]map[string]int `json:"daily"`
	Minute map[string][]float64      `json:"minute"`
	Stats  usageStats                `json:"stats"`
}

func emptyUsage() usageDoc {
	return usageDoc{
		Daily:  map[string]map[string]int{},
		Minute: map[string][]float64{},
	}
}

// Ledger tracks provider call counts (daily plus a sliding 60s window) and
// aggregate request stats. With a path it is durable across restarts via
// whole-file read-modify-write; with an empty path it is memory-only, used
// by tests. It is advisory and process-local, not a distributed limiter.
type Ledger struct {
	mu      sync.Mutex
	path    string
	budgets map[string]Budget
	mem     usageDoc

	sleep func(time.Duration) // stubbed in tests
}

func NewLedger(path string, budgets map[string]Budget) *Ledger {
	if budgets == nil {
		budgets = map[string]Budget{}
	}
	return &Ledger{
		path:    path,
		budgets: budgets,
		mem:     emptyUsage(),
		sleep:   time.Sleep,
	}
}

// Snapshot is the usage summary served to callers.
type Snapshot struct {
	Alpha struct {
		UsedToday      int `json:"usedToday"`
		Budget         int `json:"budget"`
		UsedLastMinute int `json:"usedLastMinute"`
	} `json:"alpha"`
	Cache struct {
		HitRate float64 `json:"hitRate"`
	} `json:"cache"`
	Stooq struct {
		Failures int `json:"failures"`
	} `json:"stooq"`
}

func dayKey(now time.Time) string {
	return now.Format("2006-01-02")
}

func (l *Ledger) load() usageDoc {
	if l.path == "" {
		return l.mem
	}
	doc := emptyUsage()
	loadJSON(l.path, &doc)
	if doc.Daily == nil {
		doc.Daily = map[string]map[string]int{}
	}
	if doc.Minute == nil {
		doc.Minute = map[string][]float64{}
	}
	return doc
}

func (l *Ledger) save(doc usageDoc) {
	if l.path == "" {
		l.mem = doc
		return
	}
	if err := saveJSON(l.path, doc); err != nil {
		observ.Log("usage_save_error", map[string]any{"path": l.path, "error": err.Error()})
	}
}

// pruneMinute returns the timestamps still inside the trailing 60 seconds.
// It must not compact in place: in memory mode the input aliases the live
// Minute map, and readers that do not write the result back (AwaitSlot)
// would corrupt the shared window.
func pruneMinute(window []float64, now time.Time) []float64 {
	cutoff := float64(now.Unix()) - 60
	kept := make([]float64, 0, len(window))
	for _, ts := range window {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

// BudgetRemainingToday reports whether today's recorded calls are under the
// provider's daily budget. Providers without a configured budget are never
// exhausted.
func (l *Ledger) BudgetRemainingToday(provider string, now time.Time) bool {
	b, ok := l.budgets[provider]
	if !ok || b.Daily <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()
	return doc.Daily[provider][dayKey(now)] < b.Daily
}

// CallsInLastMinute counts calls in the trailing 60 seconds, pruning older
// timestamps as a side effect.
func (l *Ledger) CallsInLastMinute(provider string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()
	doc.Minute[provider] = pruneMinute(doc.Minute[provider], now)
	n := len(doc.Minute[provider])
	l.save(doc)
	return n
}

// MayCall reports whether both the daily budget and per-minute window have
// room for another call right now.
func (l *Ledger) MayCall(provider string, now time.Time) bool {
	if !l.BudgetRemainingToday(provider, now) {
		return false
	}
	b, ok := l.budgets[provider]
	if !ok || b.PerMinute <= 0 {
		return true
	}
	return l.CallsInLastMinute(provider, now) < b.PerMinute
}

// AwaitSlot sleeps in bounded increments until the per-minute window has
// room. It returns immediately when the daily budget is already exhausted;
// callers must re-check MayCall before relying on the slot. This is a
// courtesy throttle for a mostly sequential workload, not a reservation:
// racing callers can both observe the same free slot.
func (l *Ledger) AwaitSlot(ctx context.Context, provider string) {
	b, ok := l.budgets[provider]
	if !ok || b.PerMinute <= 0 {
		return
	}
	deadline := time.Now().Add(awaitSlotCeiling)
	for {
		now := time.Now()
		if !l.BudgetRemainingToday(provider, now) {
			return
		}
		l.mu.Lock()
		doc := l.load()
		window := pruneMinute(doc.Minute[provider], now)
		l.mu.Unlock()
		if len(window) < b.PerMinute {
			return
		}
		oldest := window[0]
		for _, ts := range window[1:] {
			if ts < oldest {
				oldest = ts
			}
		}
		wait := time.Duration((60-(float64(now.Unix())-oldest))*1000) * time.Millisecond
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if now.Add(wait).After(deadline) {
			observ.Log("usage_await_slot_ceiling", map[string]any{"provider": provider})
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.sleep(wait)
	}
}

// RecordCall adds a provider call to today's counter and the minute window.
func (l *Ledger) RecordCall(provider string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()
	if doc.Daily[provider] == nil {
		doc.Daily[provider] = map[string]int{}
	}
	doc.Daily[provider][dayKey(now)]++
	doc.Minute[provider] = append(pruneMinute(doc.Minute[provider], now), float64(now.Unix()))
	l.save(doc)
	observ.IncCounter("provider_calls_total", map[string]string{"provider": provider})
}

// RecordOutcome counts one orchestrated request and, when served from
// cache (fresh or stale), a cache hit.
func (l *Ledger) RecordOutcome(cacheHit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()
	doc.Stats.Requests++
	if cacheHit {
		doc.Stats.CacheHits++
	}
	l.save(doc)
}

// RecordPrimaryFailure bumps the diagnostic counter for failed or
// insufficient primary-provider fetches.
func (l *Ledger) RecordPrimaryFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()
	doc.Stats.StooqFailures++
	l.save(doc)
	observ.IncCounter("stooq_failures_total", nil)
}

func (l *Ledger) UsedToday(provider string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load().Daily[provider][dayKey(now)]
}

func (l *Ledger) SnapshotNow(now time.Time) Snapshot {
	used := l.UsedToday(ProviderAlpha, now)
	calls := l.CallsInLastMinute(ProviderAlpha, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.load()

	var s Snapshot
	s.Alpha.UsedToday = used
	s.Alpha.Budget = l.budgets[ProviderAlpha].Daily
	s.Alpha.UsedLastMinute = calls
	if doc.Stats.Requests > 0 {
		s.Cache.HitRate = float64(doc.Stats.CacheHits) / float64(doc.Stats.Requests)
	}
	s.Stooq.Failures = doc.Stats.StooqFailures
	return s
}
