package output

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/goccy/go-json"
)

// Diagram is a downloaded wiring diagram for one gallery build.
type Diagram struct {
	Build     string `json:"build"`
	LessonID  string `json:"lessonId"`
	PageURL   string `json:"pageUrl,omitempty"`
	ImageURL  string `json:"imageUrl"`
	Alt       string `json:"alt,omitempty"`
	LocalPath string `json:"localPath"`
}

// Diagrams persists wiring diagrams keyed by build id.
type Diagrams struct {
	mu    sync.Mutex
	path  string
	items map[string]Diagram
}

// OpenDiagrams loads path, or starts empty when it does not exist.
func OpenDiagrams(path string) (*Diagrams, error) {
	d := &Diagrams{path: path, items: make(map[string]Diagram)}
	// #nosec G304 -- output paths come from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read diagrams %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &d.items); err != nil {
		return nil, fmt.Errorf("decode diagrams %s: %w", path, err)
	}
	if d.items == nil {
		d.items = make(map[string]Diagram)
	}
	return d, nil
}

// Put stores diag and rewrites the file.
func (d *Diagrams) Put(diag Diagram) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[diag.Build] = diag
	return WriteJSON(d.path, d.items)
}

// Get returns the diagram for build.
func (d *Diagrams) Get(build string) (Diagram, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	diag, ok := d.items[build]
	return diag, ok
}

// All returns a copy of every diagram.
func (d *Diagrams) All() map[string]Diagram {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.items)
}
