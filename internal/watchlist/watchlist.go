package watchlist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fcemil/market-analyzer/internal/observ"
)

// Store keeps the user's stock watchlist in a JSON file. A missing or
// corrupt file falls back to the configured default list.
type Store struct {
	mu       sync.Mutex
	path     string
	defaults []string
}

func NewStore(path string, defaults []string) *Store {
	up := make([]string, 0, len(defaults))
	for _, s := range defaults {
		up = append(up, strings.ToUpper(s))
	}
	return &Store{path: path, defaults: up}
}

type payload struct {
	Stocks []string `json:"stocks"`
}

// Load returns the watchlist, uppercased.
func (s *Store) Load() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() []string {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return append([]string(nil), s.defaults...)
	}
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		observ.Log("watchlist_corrupt_reset", map[string]any{"path": s.path, "error": err.Error()})
		return append([]string(nil), s.defaults...)
	}
	items := make([]string, 0, len(p.Stocks))
	for _, sym := range p.Stocks {
		if sym != "" {
			items = append(items, strings.ToUpper(sym))
		}
	}
	return items
}

func (s *Store) save(items []string) error {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, sym := range items {
		sym = strings.ToUpper(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(payload{Stocks: out}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

// Add inserts a symbol and returns the updated list.
func (s *Store) Add(symbol string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	items := s.load()
	if symbol == "" {
		return items
	}
	for _, existing := range items {
		if existing == symbol {
			return items
		}
	}
	items = append(items, symbol)
	if err := s.save(items); err != nil {
		observ.Log("watchlist_save_error", map[string]any{"error": err.Error()})
	}
	return s.load()
}

// Remove drops a symbol and returns the updated list.
func (s *Store) Remove(symbol string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var kept []string
	for _, existing := range s.load() {
		if existing != symbol {
			kept = append(kept, existing)
		}
	}
	if err := s.save(kept); err != nil {
		observ.Log("watchlist_save_error", map[string]any{"error": err.Error()})
	}
	return s.load()
}
