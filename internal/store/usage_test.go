package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLedger_DailyBudget(t *testing.T) {
	l := NewLedger("", map[string]Budget{"alpha": {Daily: 2, PerMinute: 10}})
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	require.True(t, l.MayCall("alpha", now))
	l.RecordCall("alpha", now)
	require.True(t, l.MayCall("alpha", now))
	l.RecordCall("alpha", now)
	require.False(t, l.MayCall("alpha", now), "third call should exceed daily budget of 2")
	require.Equal(t, 2, l.UsedToday("alpha", now))

	// Budget resets on the next calendar day.
	tomorrow := now.AddDate(0, 0, 1)
	require.True(t, l.MayCall("alpha", tomorrow))
	require.Equal(t, 0, l.UsedToday("alpha", tomorrow))
}

func TestLedger_MinuteWindowPrunes(t *testing.T) {
	l := NewLedger("", map[string]Budget{"alpha": {Daily: 100, PerMinute: 2}})
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	l.RecordCall("alpha", base)
	l.RecordCall("alpha", base.Add(10*time.Second))
	require.Equal(t, 2, l.CallsInLastMinute("alpha", base.Add(11*time.Second)))
	require.False(t, l.MayCall("alpha", base.Add(11*time.Second)))

	// First call ages out of the 60s window.
	require.Equal(t, 1, l.CallsInLastMinute("alpha", base.Add(61*time.Second)))
	require.True(t, l.MayCall("alpha", base.Add(61*time.Second)))
}

func TestLedger_AwaitSlotDoesNotCorruptWindow(t *testing.T) {
	l := NewLedger("", map[string]Budget{"alpha": {Daily: 10, PerMinute: 5}})
	now := time.Now()
	l.RecordCall("alpha", now.Add(-70*time.Second))
	l.RecordCall("alpha", now.Add(-50*time.Second))

	// Window has room, so this returns immediately; its internal prune must
	// not rearrange the live window in place.
	l.AwaitSlot(context.Background(), "alpha")

	require.Equal(t, 1, l.CallsInLastMinute("alpha", now),
		"only the -50s call is inside the window")
}

func TestLedger_UnknownProviderUncapped(t *testing.T) {
	l := NewLedger("", map[string]Budget{"alpha": {Daily: 1, PerMinute: 1}})
	now := time.Now()
	for i := 0; i < 50; i++ {
		require.True(t, l.MayCall("stooq", now))
		l.RecordCall("stooq", now)
	}
}

func TestLedger_SnapshotHitRate(t *testing.T) {
	l := NewLedger("", map[string]Budget{"alpha": {Daily: 10, PerMinute: 5}})
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	l.RecordOutcome(true)
	l.RecordOutcome(true)
	l.RecordOutcome(true)
	l.RecordOutcome(false)
	l.RecordPrimaryFailure()
	l.RecordCall("alpha", now)

	s := l.SnapshotNow(now)
	require.Equal(t, 1, s.Alpha.UsedToday)
	require.Equal(t, 10, s.Alpha.Budget)
	require.Equal(t, 1, s.Alpha.UsedLastMinute)
	require.InDelta(t, 0.75, s.Cache.HitRate, 1e-9)
	require.Equal(t, 1, s.Stooq.Failures)
}

func TestLedger_SnapshotEmpty(t *testing.T) {
	l := NewLedger("", nil)
	s := l.SnapshotNow(time.Now())
	require.Zero(t, s.Cache.HitRate)
	require.Zero(t, s.Alpha.UsedToday)
}

func TestLedger_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	l1 := NewLedger(path, map[string]Budget{"alpha": {Daily: 5, PerMinute: 5}})
	l1.RecordCall("alpha", now)
	l1.RecordOutcome(true)

	l2 := NewLedger(path, map[string]Budget{"alpha": {Daily: 5, PerMinute: 5}})
	require.Equal(t, 1, l2.UsedToday("alpha", now))
	s := l2.SnapshotNow(now)
	require.InDelta(t, 1.0, s.Cache.HitRate, 1e-9) // one request, one hit
}

func TestLedger_CorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := NewLedger(path, map[string]Budget{"alpha": {Daily: 5, PerMinute: 5}})
	now := time.Now()
	require.Equal(t, 0, l.UsedToday("alpha", now))
	require.True(t, l.MayCall("alpha", now))

	// Writes still work after the reset.
	l.RecordCall("alpha", now)
	require.Equal(t, 1, l.UsedToday("alpha", now))
}

func TestLedger_AwaitSlot(t *testing.T) {
	t.Run("immediate when window has room", func(t *testing.T) {
		l := NewLedger("", map[string]Budget{"alpha": {Daily: 10, PerMinute: 5}})
		var slept []time.Duration
		l.sleep = func(d time.Duration) { slept = append(slept, d) }
		l.AwaitSlot(context.Background(), "alpha")
		require.Empty(t, slept)
	})

	t.Run("immediate when daily budget exhausted", func(t *testing.T) {
		l := NewLedger("", map[string]Budget{"alpha": {Daily: 1, PerMinute: 5}})
		var slept []time.Duration
		l.sleep = func(d time.Duration) { slept = append(slept, d) }
		l.RecordCall("alpha", time.Now())
		l.AwaitSlot(context.Background(), "alpha")
		require.Empty(t, slept)
	})

	t.Run("sleeps until a slot ages out", func(t *testing.T) {
		l := NewLedger("", map[string]Budget{"alpha": {Daily: 10, PerMinute: 2}})
		now := time.Now()
		l.RecordCall("alpha", now.Add(-50*time.Second))
		l.RecordCall("alpha", now.Add(-5*time.Second))

		var slept []time.Duration
		l.sleep = func(d time.Duration) {
			slept = append(slept, d)
			// Age the window instead of actually sleeping.
			l.mu.Lock()
			doc := l.load()
			doc.Minute["alpha"] = doc.Minute["alpha"][1:]
			l.save(doc)
			l.mu.Unlock()
		}
		l.AwaitSlot(context.Background(), "alpha")
		require.Len(t, slept, 1)
		require.GreaterOrEqual(t, slept[0], 100*time.Millisecond)
		require.LessOrEqual(t, slept[0], 11*time.Second)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		l := NewLedger("", map[string]Budget{"alpha": {Daily: 10, PerMinute: 1}})
		l.RecordCall("alpha", time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var slept []time.Duration
		l.sleep = func(d time.Duration) { slept = append(slept, d) }
		l.AwaitSlot(ctx, "alpha")
		require.Empty(t, slept)
	})
}
