package marketdata

import "time"

// Supported chart intervals.
const (
	IntervalDaily   = "1d"
	IntervalWeekly  = "1w"
	IntervalMonthly = "1m"
)

// IsDaily reports whether interval names the daily granularity.
func IsDaily(interval string) bool {
	return interval == IntervalDaily || interval == "daily"
}

// Resample aggregates a daily series into weekly or monthly bars. Weekly
// buckets end on Friday, monthly buckets on the calendar month end. Per
// bucket: open=first, high=max, low=min, close=last, volume=sum. Local
// resampling means weekly/monthly data never needs a provider call.
func Resample(bars []Bar, interval string) []Bar {
	var bucketEnd func(time.Time) time.Time
	switch {
	case IsDaily(interval):
		return bars
	case interval == IntervalWeekly || interval == "weekly":
		bucketEnd = weekEndFriday
	case interval == IntervalMonthly || interval == "monthly":
		bucketEnd = monthEnd
	default:
		return bars
	}

	var out []Bar
	for _, src := range bars {
		b := backfillFromClose(src)
		end := bucketEnd(b.Date)
		if len(out) == 0 || !out[len(out)-1].Date.Equal(end) {
			out = append(out, Bar{
				Date: end, Open: b.Open, High: b.High, Low: b.Low,
				Close: b.Close, Volume: b.Volume,
			})
			continue
		}
		cur := &out[len(out)-1]
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	return out
}

// backfillFromClose reconstructs open/high/low for degenerate close-only
// series (FRED commodities report a single value per day).
func backfillFromClose(b Bar) Bar {
	if b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close != 0 {
		b.Open, b.High, b.Low = b.Close, b.Close, b.Close
	}
	return b
}

// weekEndFriday maps a date to the Friday ending its week. Weeks run
// Saturday through Friday, so Saturday rolls into the next bucket.
func weekEndFriday(d time.Time) time.Time {
	days := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, days)
}

func monthEnd(d time.Time) time.Time {
	firstOfNext := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
