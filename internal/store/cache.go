package store

import (
	"fmt"
	"sync"

	"github.com/fcemil/market-analyzer/internal/marketdata"
)

// Provider names recorded in cache entries and the usage ledger.
const (
	ProviderStooq = "stooq"
	ProviderAlpha = "alpha"
)

// Entry is one cached series for a (type, symbol, granularity) key. The
// fetch orchestrator is its only writer; expiry is the orchestrator's call,
// the store itself has no TTL logic.
type Entry struct {
	Provider     string           `json:"provider"`
	SourceSymbol string           `json:"source_symbol,omitempty"`
	FetchedAt    int64            `json:"fetched_at"`
	ExpiresAt    int64            `json:"expires_at"`
	Data         []marketdata.Bar `json:"data"`
}

// CacheKey builds the canonical "<type>:<symbol>:<granularity>" key.
func CacheKey(assetType, symbol, granularity string) string {
	return fmt.Sprintf("%s:%s:%s", assetType, symbol, granularity)
}

// FileCache is a durable key -> Entry map backed by a single JSON file.
// Put is a whole-map read-modify-write; concurrent processes are last
// writer wins, which is accepted for a single-server deployment.
type FileCache struct {
	mu   sync.Mutex
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.load()
	e, ok := m[key]
	return e, ok
}

func (c *FileCache) Put(key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.load()
	m[key] = e
	return saveJSON(c.path, m)
}

func (c *FileCache) load() map[string]Entry {
	m := map[string]Entry{}
	loadJSON(c.path, &m)
	return m
}

// MemCache is an in-memory cache store for tests and ephemeral runs.
type MemCache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemCache() *MemCache {
	return &MemCache{entries: map[string]Entry{}}
}

func (c *MemCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *MemCache) Put(key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}
