package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fcemil/market-analyzer/internal/observ"
)

// loadJSON reads a whole persisted JSON document into v (a non-nil
// pointer). A missing file is empty state; an unreadable or corrupt file is
// reset to empty state and reported, never surfaced as an error.
// Availability wins over strict accounting here. Decoding goes through a
// scratch value because Unmarshal partially populates the target before
// reporting a type mismatch, and a reset must leave v untouched.
func loadJSON(path string, v any) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.Log("store_read_error", map[string]any{"path": path, "error": err.Error()})
		}
		return false
	}
	scratch := reflect.New(reflect.TypeOf(v).Elem())
	if err := json.Unmarshal(b, scratch.Interface()); err != nil {
		observ.Log("store_corrupt_reset", map[string]any{"path": path, "error": err.Error()})
		observ.IncCounter("store_corruption_total", map[string]string{"path": filepath.Base(path)})
		return false
	}
	reflect.ValueOf(v).Elem().Set(scratch.Elem())
	return true
}

// saveJSON persists v as the whole document, writing a temp file and
// renaming so readers never observe a partial write.
func saveJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
