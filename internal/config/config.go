package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Providers struct {
	AlphaDailyBudget       int     `yaml:"alpha_daily_budget"`
	AlphaPerMinuteBudget   int     `yaml:"alpha_per_minute_budget"`
	AlphaMinIntervalSecs   float64 `yaml:"alpha_min_interval_seconds"`
	StooqCourtesyDelaySecs float64 `yaml:"stooq_courtesy_delay_seconds"`
	TimeoutSeconds         int     `yaml:"timeout_seconds"`
	StooqBaseURL           string  `yaml:"stooq_base_url"`
	AlphaBaseURL           string  `yaml:"alpha_base_url"`
	FREDBaseURL            string  `yaml:"fred_base_url"`
}

type Analysis struct {
	WindowDays         int `yaml:"window_days"`
	DrawdownWindowDays int `yaml:"drawdown_window_days"`
}

type Storage struct {
	CachePath     string `yaml:"cache_path"`
	UsagePath     string `yaml:"usage_path"`
	WatchlistPath string `yaml:"watchlist_path"`
}

type Server struct {
	Addr            string `yaml:"addr"`
	RefreshSchedule string `yaml:"refresh_schedule"` // cron spec for the daily refresh pass
}

type Commodity struct {
	Name     string `yaml:"name"`
	SeriesID string `yaml:"series_id"`
}

// Keys holds provider credentials. They come from the environment (or a
// .env file), never from the config file.
type Keys struct {
	AlphaVantage string `yaml:"-"`
	FRED         string `yaml:"-"`
}

type Root struct {
	Keys          Keys        `yaml:"-"`
	Providers     Providers   `yaml:"providers"`
	Analysis      Analysis    `yaml:"analysis"`
	Storage       Storage     `yaml:"storage"`
	Server        Server      `yaml:"server"`
	PopularStocks []string    `yaml:"popular_stocks"`
	Commodities   []Commodity `yaml:"commodities"`
}

// LoadKeysFromEnv fills in provider credentials from the process
// environment. Missing keys are left empty; callers degrade rather
// than fail when a key is absent.
func (c *Root) LoadKeysFromEnv() {
	c.Keys.AlphaVantage = os.Getenv("ALPHA_VANTAGE_KEY")
	c.Keys.FRED = os.Getenv("FRED_API_KEY")
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns a config with all defaults applied, for running without a file.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.Providers.AlphaDailyBudget == 0 {
		c.Providers.AlphaDailyBudget = 10 // free tier allows 25/day, stay well under
	}
	if c.Providers.AlphaPerMinuteBudget == 0 {
		c.Providers.AlphaPerMinuteBudget = 5
	}
	if c.Providers.AlphaMinIntervalSecs == 0 {
		c.Providers.AlphaMinIntervalSecs = 1.1
	}
	if c.Providers.StooqCourtesyDelaySecs == 0 {
		c.Providers.StooqCourtesyDelaySecs = 0.2
	}
	if c.Providers.TimeoutSeconds == 0 {
		c.Providers.TimeoutSeconds = 20
	}
	if c.Providers.StooqBaseURL == "" {
		c.Providers.StooqBaseURL = "https://stooq.com/q/d/l/"
	}
	if c.Providers.AlphaBaseURL == "" {
		c.Providers.AlphaBaseURL = "https://www.alphavantage.co/query"
	}
	if c.Providers.FREDBaseURL == "" {
		c.Providers.FREDBaseURL = "https://api.stlouisfed.org/fred/series/observations"
	}
	if c.Analysis.WindowDays == 0 {
		c.Analysis.WindowDays = 30
	}
	if c.Analysis.DrawdownWindowDays == 0 {
		c.Analysis.DrawdownWindowDays = 63
	}
	if c.Storage.CachePath == "" {
		c.Storage.CachePath = "data/asset_cache.json"
	}
	if c.Storage.UsagePath == "" {
		c.Storage.UsagePath = "data/usage.json"
	}
	if c.Storage.WatchlistPath == "" {
		c.Storage.WatchlistPath = "data/watchlist.json"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.RefreshSchedule == "" {
		c.Server.RefreshSchedule = "30 8 * * *"
	}
	if len(c.PopularStocks) == 0 {
		c.PopularStocks = []string{
			"AAPL", "MSFT", "NVDA", "AMZN", "META", "GOOGL", "TSLA",
			"BRK.B", "JPM", "XOM", "UNH", "V", "MA",
			"GLD", "SLV",
		}
	}
	if len(c.Commodities) == 0 {
		c.Commodities = []Commodity{
			{Name: "WTI Crude", SeriesID: "DCOILWTICO"},
			{Name: "Brent Crude", SeriesID: "DCOILBRENTEU"},
			{Name: "Natural Gas", SeriesID: "DHHNGSP"},
		}
	}
}
