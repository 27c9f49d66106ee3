package marketdata

import (
	"fmt"
	"sort"
	"time"
)

// Bar is one day of normalized OHLCV data from any provider.
type Bar struct {
	Date   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// DateKey returns the bar's calendar date as YYYY-MM-DD.
func (b Bar) DateKey() string {
	return b.Date.Format("2006-01-02")
}

// SortBars orders bars ascending by date in place.
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}

// MergeBars combines two ascending series into one. Later wins on a duplicate
// date, so pass the freshly fetched series second.
func MergeBars(older, newer []Bar) []Bar {
	byDate := make(map[string]Bar, len(older)+len(newer))
	for _, b := range older {
		byDate[b.DateKey()] = b
	}
	for _, b := range newer {
		byDate[b.DateKey()] = b
	}
	merged := make([]Bar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	SortBars(merged)
	return merged
}

// LatestClose extracts the most recent close and the fractional change from
// the prior close. Change is zero-valued (ok=false on price) when the series
// is empty; change alone is absent when there is a single bar.
func LatestClose(bars []Bar) (price float64, change float64, ok bool) {
	if len(bars) == 0 {
		return 0, 0, false
	}
	price = bars[len(bars)-1].Close
	if len(bars) > 1 {
		prev := bars[len(bars)-2].Close
		if prev != 0 {
			change = price/prev - 1
		}
	}
	return price, change, true
}

// Tail returns the last n bars, or the whole series when shorter.
func Tail(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// Error classes shared by all provider adapters.
const (
	ErrNetwork        = "network"
	ErrSymbolNotFound = "symbol_not_found"
	ErrMalformed      = "malformed"
	ErrRateLimit      = "rate_limit"
	ErrProvider       = "provider_error"
)

// FetchError classifies a provider failure so the orchestrator can decide
// whether to fall back, and preserves the upstream message for diagnostics.
type FetchError struct {
	Type    string
	Symbol  string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *FetchError {
	return &FetchError{Type: ErrNetwork, Symbol: symbol, Message: message, Cause: cause}
}

func NewSymbolNotFoundError(symbol, message string) *FetchError {
	return &FetchError{Type: ErrSymbolNotFound, Symbol: symbol, Message: message}
}

func NewMalformedError(symbol, message string) *FetchError {
	return &FetchError{Type: ErrMalformed, Symbol: symbol, Message: message}
}

func NewRateLimitError(symbol, message string) *FetchError {
	return &FetchError{Type: ErrRateLimit, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *FetchError {
	return &FetchError{Type: ErrProvider, Symbol: symbol, Message: message, Cause: cause}
}

// ErrorString flattens a fetch error to the short diagnostic form carried in
// fetch metadata: the bare class for classified errors, the message otherwise.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	if fe, ok := err.(*FetchError); ok {
		switch fe.Type {
		case ErrNetwork, ErrSymbolNotFound, ErrMalformed:
			return fe.Type
		}
		return fe.Message
	}
	return err.Error()
}
