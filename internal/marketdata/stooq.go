package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Exchange suffixes Stooq recognizes. Symbols already carrying one are used
// verbatim; anything else is treated as a US listing.
var stooqSuffixes = []string{
	".us", ".uk", ".de", ".to", ".trt", ".trv", ".lon",
	".as", ".pa", ".sw", ".mi", ".hk", ".ss", ".sz",
}

// StooqSymbol converts a symbol to Stooq request format: lowercase, dots in
// the ticker become dashes (BRK.B -> brk-b), default market suffix ".us".
func StooqSymbol(symbol string) string {
	base := strings.ToLower(symbol)
	for _, suf := range stooqSuffixes {
		if strings.HasSuffix(base, suf) {
			return base
		}
	}
	return strings.ReplaceAll(base, ".", "-") + ".us"
}

// StooqClient fetches daily history from Stooq's CSV export endpoint.
// Stooq is free and unauthenticated; it is the primary provider.
type StooqClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewStooqClient(baseURL string, timeout time.Duration) *StooqClient {
	if baseURL == "" {
		baseURL = "https://stooq.com/q/d/l/"
	}
	return &StooqClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// FetchDaily requests the full daily series for a symbol. stooqSymbol, when
// non-empty, bypasses the automatic symbol conversion (used for manual
// symbol mappings the automatic rule gets wrong).
func (c *StooqClient) FetchDaily(ctx context.Context, symbol, stooqSymbol string) ([]Bar, error) {
	code := stooqSymbol
	if code == "" {
		code = StooqSymbol(symbol)
	}
	code = strings.ToLower(code)

	params := url.Values{"s": {code}, "i": {"d"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewNetworkError(symbol, "failed to create request", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewNetworkError(symbol, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(symbol, "failed to read response", err)
	}

	text := strings.TrimSpace(string(body))
	if text == "" || strings.HasPrefix(strings.ToLower(text), "no data") {
		return nil, NewSymbolNotFoundError(symbol, "no data for "+code)
	}

	records, err := csv.NewReader(strings.NewReader(text)).ReadAll()
	if err != nil || len(records) < 2 {
		return nil, NewSymbolNotFoundError(symbol, "empty response for "+code)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["Date"]; !ok {
		return nil, NewMalformedError(symbol, "missing Date column")
	}

	bars := make([]Bar, 0, len(records)-1)
	dated := 0
	for _, rec := range records[1:] {
		if i, ok := col["Date"]; !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
			continue
		}
		dated++
		b, ok := parseStooqRow(rec, col)
		if !ok {
			continue // skip rows with unparseable numerics
		}
		bars = append(bars, b)
	}
	// A response with no dated rows at all is an empty (unknown symbol)
	// response; dated rows that all fail coercion are malformed data.
	if dated == 0 {
		return nil, NewSymbolNotFoundError(symbol, "empty response for "+code)
	}
	if len(bars) == 0 {
		return nil, NewMalformedError(symbol, "no parseable rows")
	}
	SortBars(bars)
	return bars, nil
}

func parseStooqRow(rec []string, col map[string]int) (Bar, bool) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	dateStr := field("Date")
	if dateStr == "" {
		return Bar{}, false
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return Bar{}, false
	}
	num := func(name string) (float64, bool) {
		s := field(name)
		if s == "" {
			return 0, true // absent column defaults to zero, same as close-only series
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	var b Bar
	b.Date = date
	var ok bool
	if b.Open, ok = num("Open"); !ok {
		return Bar{}, false
	}
	if b.High, ok = num("High"); !ok {
		return Bar{}, false
	}
	if b.Low, ok = num("Low"); !ok {
		return Bar{}, false
	}
	if b.Close, ok = num("Close"); !ok {
		return Bar{}, false
	}
	if b.Volume, ok = num("Volume"); !ok {
		return Bar{}, false
	}
	return b, true
}
