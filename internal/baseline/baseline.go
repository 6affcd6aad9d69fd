// Package baseline persists the last observed value of each tracked resource
// between runs so drift can be detected on the next run.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Baseline maps a resource key ("<region>/<id>") to its last observed value.
type Baseline struct {
	Entries map[string]string `json:"entries"`
}

// Key builds the entry key for a resource.
func Key(region, id string) string {
	return region + "/" + id
}

// Load reads the baseline at path. A missing file yields an empty baseline.
func Load(path string) (*Baseline, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Baseline{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	if b.Entries == nil {
		b.Entries = map[string]string{}
	}
	return &b, nil
}

// Save writes the baseline to path through a temporary file and rename.
func (b *Baseline) Save(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create baseline dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".baseline-*")
	if err != nil {
		return fmt.Errorf("create temp baseline: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close baseline: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace baseline: %w", err)
	}
	return nil
}

// Lookup returns the recorded value for key.
func (b *Baseline) Lookup(key string) (string, bool) {
	v, ok := b.Entries[key]
	return v, ok
}

// ReplaceRegion drops every entry of region and stores current in its place.
// Entries of other regions are kept, so a region that could not be listed
// does not lose its history.
func (b *Baseline) ReplaceRegion(region string, current map[string]string) {
	if b.Entries == nil {
		b.Entries = map[string]string{}
	}
	prefix := region + "/"
	for k := range b.Entries {
		if strings.HasPrefix(k, prefix) {
			delete(b.Entries, k)
		}
	}
	for id, v := range current {
		b.Entries[Key(region, id)] = v
	}
}

// Keys returns the entry keys sorted.
func (b *Baseline) Keys() []string {
	keys := make([]string, 0, len(b.Entries))
	for k := range b.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
