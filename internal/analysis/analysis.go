package analysis

import (
	"math"

	"github.com/fcemil/market-analyzer/internal/marketdata"
)

// Windows for feature computation, in trading days.
const (
	DefaultWindowDays         = 30
	DefaultDrawdownWindowDays = 63 // ~3 months
)

// Features are the technical inputs to scoring.
type Features struct {
	Ret30d      float64 `json:"ret_30d"`
	Vol30d      float64 `json:"vol_30d"`
	MA20Slope   float64 `json:"ma20_slope"`
	Drawdown3m  float64 `json:"drawdown_3m"`
}

// Contribution records one feature's impact on the score.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Impact  int     `json:"impact"`
}

// OHLCPoint is one candlestick for the chart payload.
type OHLCPoint struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Asset is a fully analyzed asset: signal, features, and chart data.
type Asset struct {
	Name          string         `json:"name"`
	Symbol        string         `json:"symbol"`
	AssetType     string         `json:"type"`
	Label         string         `json:"label"` // bullish | bearish | neutral
	Score         int            `json:"score"`
	Reasons       []string       `json:"reasons"`
	Features      Features       `json:"features"`
	LatestPrice   *float64       `json:"latest_price"`
	ChangePct     *float64       `json:"change_pct"`
	OHLC          []OHLCPoint    `json:"ohlc"`
	Series        []float64      `json:"series"`
	Dates         []string       `json:"dates"`
	Contributions []Contribution `json:"feature_contributions"`
}

// Neutral returns the placeholder row served when a symbol has no history,
// so one missing symbol never breaks the rest of the response.
func Neutral(name, symbol, assetType string) Asset {
	return Asset{
		Name:          name,
		Symbol:        symbol,
		AssetType:     assetType,
		Label:         "neutral",
		Reasons:       []string{"Missing data"},
		OHLC:          []OHLCPoint{},
		Series:        []float64{},
		Dates:         []string{},
		Contributions: []Contribution{},
	}
}

// Analyze computes features and a signal over the bar series and packages
// the tail chartPoints bars for charting.
func Analyze(name, symbol, assetType string, bars []marketdata.Bar, chartPoints int) Asset {
	feats := computeFeatures(bars)
	label, score, reasons, contributions := scoreFeatures(feats)

	tail := marketdata.Tail(bars, chartPoints)
	series := make([]float64, 0, len(tail))
	dates := make([]string, 0, len(tail))
	ohlc := make([]OHLCPoint, 0, len(tail))
	for _, b := range tail {
		series = append(series, math.Round(b.Close*1e4)/1e4)
		dates = append(dates, b.DateKey())
		ohlc = append(ohlc, OHLCPoint{
			Time: b.DateKey(), Open: b.Open, High: b.High, Low: b.Low,
			Close: b.Close, Volume: b.Volume,
		})
	}

	a := Asset{
		Name:          name,
		Symbol:        symbol,
		AssetType:     assetType,
		Label:         label,
		Score:         score,
		Reasons:       reasons,
		Features:      feats,
		OHLC:          ohlc,
		Series:        series,
		Dates:         dates,
		Contributions: contributions,
	}
	if price, change, ok := marketdata.LatestClose(bars); ok && len(bars) >= 2 {
		a.LatestPrice = &price
		a.ChangePct = &change
	}
	return a
}

func computeFeatures(bars []marketdata.Bar) Features {
	var f Features
	window := marketdata.Tail(bars, DefaultWindowDays)
	if len(window) == 0 {
		return f
	}
	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}

	if closes[0] != 0 {
		f.Ret30d = closes[len(closes)-1]/closes[0] - 1
	}
	f.Vol30d = annualizedVol(closes)
	f.MA20Slope = ma20Slope(closes)

	ddWindow := marketdata.Tail(bars, DefaultDrawdownWindowDays)
	f.Drawdown3m = maxDrawdown(ddWindow)
	return f
}

// annualizedVol is the sample stddev of daily returns scaled by sqrt(252).
func annualizedVol(closes []float64) float64 {
	var rets []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			rets = append(rets, closes[i]/closes[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(rets)-1))
	return std * math.Sqrt(252)
}

// ma20Slope is the fractional change in the 20-day moving average over the
// last 5 steps; zero when too few points exist.
func ma20Slope(closes []float64) float64 {
	var ma []float64
	for i := 19; i < len(closes); i++ {
		var sum float64
		for _, c := range closes[i-19 : i+1] {
			sum += c
		}
		ma = append(ma, sum/20)
	}
	if len(ma) < 5 || ma[len(ma)-5] == 0 {
		return 0
	}
	return (ma[len(ma)-1] - ma[len(ma)-5]) / ma[len(ma)-5]
}

func maxDrawdown(bars []marketdata.Bar) float64 {
	var peak, worst float64
	for _, b := range bars {
		if b.Close > peak {
			peak = b.Close
		}
		if peak != 0 {
			dd := b.Close/peak - 1
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func scoreFeatures(f Features) (label string, score int, reasons []string, contributions []Contribution) {
	reasons = []string{}
	contributions = []Contribution{}

	if f.Ret30d > 0.03 {
		score += 2
		reasons = append(reasons, "Positive 30-day return (over +3%).")
		contributions = append(contributions, Contribution{Feature: "Return(30D)", Value: f.Ret30d, Impact: 2})
	} else if f.Ret30d < -0.03 {
		score -= 2
		reasons = append(reasons, "Negative 30-day return (below -3%).")
		contributions = append(contributions, Contribution{Feature: "Return(30D)", Value: f.Ret30d, Impact: -2})
	}

	if f.MA20Slope > 0.01 {
		score++
		reasons = append(reasons, "Rising 20-day moving average.")
		contributions = append(contributions, Contribution{Feature: "MA20 Slope", Value: f.MA20Slope, Impact: 1})
	} else if f.MA20Slope < -0.01 {
		score--
		reasons = append(reasons, "Falling 20-day moving average.")
		contributions = append(contributions, Contribution{Feature: "MA20 Slope", Value: f.MA20Slope, Impact: -1})
	}

	if f.Drawdown3m < -0.08 {
		score--
		reasons = append(reasons, "Large 3-month drawdown.")
		contributions = append(contributions, Contribution{Feature: "Drawdown(3M)", Value: f.Drawdown3m, Impact: -1})
	}

	switch {
	case score >= 2:
		label = "bullish"
	case score <= -2:
		label = "bearish"
	default:
		label = "neutral"
	}
	return label, score, reasons, contributions
}
