// Package output persists scraped lesson records, one JSON file per subject,
// keyed by catalog section name.
package output

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/local"
)

// Collection is the in-memory view of one subject output file.
type Collection struct {
	mu       sync.Mutex
	path     string
	sections map[string][]lesson.Record
}

// Open loads path, or starts empty when the file does not exist.
func Open(path string) (*Collection, error) {
	c := &Collection{path: path, sections: make(map[string][]lesson.Record)}
	// #nosec G304 -- output paths come from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.sections); err != nil {
		return nil, fmt.Errorf("decode output %s: %w", path, err)
	}
	if c.sections == nil {
		c.sections = make(map[string][]lesson.Record)
	}
	return c, nil
}

// Path returns the backing file.
func (c *Collection) Path() string {
	return c.path
}

// Upsert stores rec under section, replacing any record with the same ID.
// A failed record never replaces a complete one; stored reports whether
// the collection changed. The file is rewritten after every change.
func (c *Collection) Upsert(section string, rec lesson.Record) (stored bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.sections[section]
	for i := range records {
		if records[i].ID != rec.ID {
			continue
		}
		if rec.IsFailed() && !records[i].IsFailed() {
			return false, nil
		}
		records[i] = rec
		return true, c.saveLocked()
	}
	c.sections[section] = append(records, rec)
	return true, c.saveLocked()
}

// Get returns the record for id within section.
func (c *Collection) Get(section, id string) (lesson.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.sections[section] {
		if r.ID == id {
			return r, true
		}
	}
	return lesson.Record{}, false
}

// Sections lists section names in sorted order.
func (c *Collection) Sections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns a copy of the records in section.
func (c *Collection) Records(section string) []lesson.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]lesson.Record(nil), c.sections[section]...)
}

// Complete returns only records without an error, grouped by section.
func (c *Collection) Complete() map[string][]lesson.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]lesson.Record, len(c.sections))
	for name, records := range c.sections {
		var kept []lesson.Record
		for _, r := range records {
			if !r.IsFailed() {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			out[name] = kept
		}
	}
	return out
}

// Update applies fn to the record for id in section and saves when found.
func (c *Collection) Update(section, id string, fn func(*lesson.Record)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := c.sections[section]
	for i := range records {
		if records[i].ID == id {
			fn(&records[i])
			return true, c.saveLocked()
		}
	}
	return false, nil
}

// Save rewrites the file.
func (c *Collection) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Collection) saveLocked() error {
	return WriteJSON(c.path, c.sections)
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := local.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
