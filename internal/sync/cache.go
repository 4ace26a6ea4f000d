package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Record is the persisted outcome of the last completed run. It exists only
// to short-circuit a second run on the same day over the same universe.
type Record struct {
	LastRunDate        string   `json:"last_run_date"`
	CoveredEntityCount int      `json:"covered_entity_count"`
	CoveredEntities    []string `json:"covered_entities"`
}

// Covers reports whether the record represents a completed run for date over
// exactly this universe.
func (r Record) Covers(date string, universe []string) bool {
	if r.LastRunDate != date || r.CoveredEntityCount != len(universe) {
		return false
	}
	if len(r.CoveredEntities) != len(universe) {
		return false
	}
	covered := make(map[string]struct{}, len(r.CoveredEntities))
	for _, e := range r.CoveredEntities {
		covered[e] = struct{}{}
	}
	for _, e := range universe {
		if _, ok := covered[e]; !ok {
			return false
		}
	}
	return true
}

// Cache persists the Record as a small JSON file.
type Cache struct {
	path string
}

// NewCache creates a cache at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Load reads the record. found is false when the file is absent or corrupt;
// a missing cache just means the next run does full work.
func (c *Cache) Load() (rec Record, found bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Record{}, false
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

// Save writes the record atomically. Called only after an uncancelled run
// reaches a terminal state.
func (c *Cache) Save(rec Record) error {
	sort.Strings(rec.CoveredEntities)
	rec.CoveredEntityCount = len(rec.CoveredEntities)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sync cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}
