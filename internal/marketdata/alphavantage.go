package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Alpha Vantage output sizes. Compact returns roughly the last 100 points,
// full returns the complete history.
const (
	OutputCompact = "compact"
	OutputFull    = "full"
)

// AlphaVantageClient fetches daily history from the Alpha Vantage API.
// Access is authenticated and quota-limited, so the orchestrator only calls
// it as a fallback and accounts for every call in the usage ledger.
type AlphaVantageClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewAlphaVantageClient(baseURL, apiKey string, timeout time.Duration) *AlphaVantageClient {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co/query"
	}
	return &AlphaVantageClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// FetchDaily requests the adjusted daily series for a symbol. The symbol is
// passed verbatim (Alpha Vantage uses plain tickers, not Stooq codes).
func (c *AlphaVantageClient) FetchDaily(ctx context.Context, symbol, outputSize string) ([]Bar, error) {
	if c.APIKey == "" {
		return nil, NewProviderError(symbol, "ALPHA_VANTAGE_KEY not set", nil)
	}
	if outputSize == "" {
		outputSize = OutputCompact
	}
	params := url.Values{
		"function":   {"TIME_SERIES_DAILY_ADJUSTED"},
		"symbol":     {symbol},
		"apikey":     {c.APIKey},
		"outputsize": {outputSize},
	}
	payload, err := c.query(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	series := extractTimeSeries(payload)
	if series == nil {
		return nil, classifyAlphaFailure(symbol, payload)
	}

	bars := make([]Bar, 0, len(series))
	for dateStr, raw := range series {
		var fields map[string]string
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		b, ok := parseAlphaRow(dateStr, fields)
		if !ok {
			continue
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, NewMalformedError(symbol, "malformed Alpha Vantage response")
	}
	SortBars(bars)
	return bars, nil
}

// FetchQuote hits the lightweight GLOBAL_QUOTE endpoint for a latest price
// and change fraction. Still counts against the daily quota upstream, so
// use sparingly; best-effort, returns ok=false on any failure.
func (c *AlphaVantageClient) FetchQuote(ctx context.Context, symbol string) (price, change float64, ok bool) {
	if c.APIKey == "" {
		return 0, 0, false
	}
	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {c.APIKey},
	}
	payload, err := c.query(ctx, symbol, params)
	if err != nil {
		return 0, 0, false
	}
	var quote map[string]string
	if raw, exists := payload["Global Quote"]; exists {
		_ = json.Unmarshal(raw, &quote)
	}
	price, perr := strconv.ParseFloat(quote["05. price"], 64)
	if perr != nil {
		return 0, 0, false
	}
	if prev, perr := strconv.ParseFloat(quote["08. previous close"], 64); perr == nil && prev != 0 {
		change = price/prev - 1
	}
	return price, change, true
}

func (c *AlphaVantageClient) query(ctx context.Context, symbol string, params url.Values) (map[string]json.RawMessage, error) {
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
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, NewMalformedError(symbol, "failed to parse response")
	}
	return payload, nil
}

// extractTimeSeries finds the series value under whichever "Time Series ..."
// key the endpoint used.
func extractTimeSeries(payload map[string]json.RawMessage) map[string]json.RawMessage {
	for key, value := range payload {
		if strings.HasPrefix(key, "Time Series") {
			var series map[string]json.RawMessage
			if err := json.Unmarshal(value, &series); err != nil {
				return nil
			}
			return series
		}
	}
	return nil
}

// classifyAlphaFailure maps a series-less payload to an error. Note and
// Information carry quota / call frequency messages; Error Message is an
// invalid symbol or bad request.
func classifyAlphaFailure(symbol string, payload map[string]json.RawMessage) *FetchError {
	str := func(key string) string {
		raw, ok := payload[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	if note := str("Note"); note != "" {
		return NewRateLimitError(symbol, note)
	}
	if info := str("Information"); info != "" {
		return NewRateLimitError(symbol, info)
	}
	if msg := str("Error Message"); msg != "" {
		return NewProviderError(symbol, msg, nil)
	}
	return NewProviderError(symbol, "missing time series", nil)
}

func parseAlphaRow(dateStr string, fields map[string]string) (Bar, bool) {
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return Bar{}, false
	}
	num := func(keys ...string) (float64, bool) {
		for _, k := range keys {
			if s, ok := fields[k]; ok && s != "" {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return 0, false
				}
				return v, true
			}
		}
		return 0, true
	}
	var b Bar
	b.Date = date
	var ok bool
	if b.Open, ok = num("1. open"); !ok {
		return Bar{}, false
	}
	if b.High, ok = num("2. high"); !ok {
		return Bar{}, false
	}
	if b.Low, ok = num("3. low"); !ok {
		return Bar{}, false
	}
	if b.Close, ok = num("4. close"); !ok {
		return Bar{}, false
	}
	// adjusted series reports volume under "6. volume", plain daily under "5. volume"
	if b.Volume, ok = num("6. volume", "5. volume"); !ok {
		return Bar{}, false
	}
	return b, true
}
