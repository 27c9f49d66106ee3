package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FREDClient fetches commodity series from the Federal Reserve Economic Data
// API. FRED series are close-only; the resampler backfills open/high/low.
type FREDClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewFREDClient(baseURL, apiKey string, timeout time.Duration) *FREDClient {
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred/series/observations"
	}
	return &FREDClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *FREDClient) FetchSeries(ctx context.Context, seriesID string) ([]Bar, error) {
	if c.APIKey == "" {
		return nil, NewProviderError(seriesID, "FRED_API_KEY not set", nil)
	}
	params := url.Values{
		"series_id":         {seriesID},
		"api_key":           {c.APIKey},
		"file_type":         {"json"},
		"observation_start": {"2000-01-01"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewNetworkError(seriesID, "failed to create request", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(seriesID, "request failed", err)
	}
	defer resp.Body.Close()

	var payload struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, NewNetworkError(seriesID, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
		}
		return nil, NewMalformedError(seriesID, "failed to parse response")
	}
	if payload.ErrorCode != 0 || payload.ErrorMessage != "" {
		msg := payload.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("FRED error %d", payload.ErrorCode)
		}
		return nil, NewProviderError(seriesID, msg, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewNetworkError(seriesID, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	if len(payload.Observations) == 0 {
		return nil, NewSymbolNotFoundError(seriesID, "no observations returned")
	}

	bars := make([]Bar, 0, len(payload.Observations))
	for _, obs := range payload.Observations {
		date, err := time.Parse("2006-01-02", obs.Date)
		if err != nil {
			continue
		}
		// FRED reports missing values as "."
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{Date: date, Open: v, High: v, Low: v, Close: v})
	}
	if len(bars) == 0 {
		return nil, NewMalformedError(seriesID, "no parseable observations")
	}
	SortBars(bars)
	return bars, nil
}
