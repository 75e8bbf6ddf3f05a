package phase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/buildingbit-scraper/internal/content"
	"github.com/JakeFAU/buildingbit-scraper/internal/download"
	"github.com/JakeFAU/buildingbit-scraper/internal/hash/sha256"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type noSleep struct{}

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

// spyTracker counts completions on top of a real checkpoint store.
type spyTracker struct {
	*state.Store
	mu        sync.Mutex
	completed []string
}

func (s *spyTracker) MarkComplete(identifier, assetType string) error {
	s.mu.Lock()
	s.completed = append(s.completed, identifier)
	s.mu.Unlock()
	return s.Store.MarkComplete(identifier, assetType)
}

func (s *spyTracker) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...)
}

func newTracker(t *testing.T) *spyTracker {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "scrape-state.json"), state.Options{Clock: fixedClock{}})
	require.NoError(t, err)
	return &spyTracker{Store: store}
}

func newDeps(tracker Tracker) Deps {
	return Deps{
		Tracker: tracker,
		Clock:   fixedClock{},
		Sleeper: noSleep{},
		Pause:   time.Millisecond,
		Retry:   retry.New(retry.Config{MaxRetries: 2, BaseDelayMs: 1, BackoffMultiplier: 2, MaxDelayMs: 2}, noSleep{}, nil),
	}
}

// stubFetcher serves pages by identifier and records calls.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fails map[string]error
	calls []string
}

func (f *stubFetcher) record(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
}

func (f *stubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *stubFetcher) Resolve(_ context.Context, id string) (string, error) {
	f.record(id)
	if err, ok := f.fails[id]; ok {
		return "", err
	}
	return "https://www.yahboom.net/public/upload/upload-html/" + id + ".html", nil
}

func (f *stubFetcher) Fetch(_ context.Context, id string) (content.Page, error) {
	f.record(id)
	if err, ok := f.fails[id]; ok {
		return content.Page{}, err
	}
	html, ok := f.pages[id]
	if !ok {
		return content.Page{}, errors.New("page not found")
	}
	return content.Page{URL: "https://www.yahboom.net/public/upload/upload-html/" + id + ".html", HTML: html}, nil
}

// stubBrowser renders fixed HTML and evaluates to fixed links.
type stubBrowser struct {
	mu        sync.Mutex
	html      map[string]string
	renderErr error
	links     []MenuLink
	evalErr   error
	shots     int
}

func (b *stubBrowser) Render(_ context.Context, url, _ string) (string, error) {
	if b.renderErr != nil {
		return "", b.renderErr
	}
	return b.html[url], nil
}

func (b *stubBrowser) Evaluate(_ context.Context, _, _, _ string, out any) error {
	if b.evalErr != nil {
		return b.evalErr
	}
	*(out.(*[]MenuLink)) = b.links
	return nil
}

func (b *stubBrowser) Screenshot(context.Context, string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shots++
	return []byte("png"), nil
}

// stubDownloader records saved object paths by source URL.
type stubDownloader struct {
	mu      sync.Mutex
	saved   map[string]string
	objects map[string]bool
	fails   map[string]bool
	calls   int
}

func newDownloader() *stubDownloader {
	return &stubDownloader{
		saved:   make(map[string]string),
		objects: make(map[string]bool),
		fails:   make(map[string]bool),
	}
}

func (d *stubDownloader) Exists(_ context.Context, objectPath string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects[objectPath], nil
}

func (d *stubDownloader) Save(_ context.Context, rawURL, objectPath string) (download.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fails[rawURL] {
		return download.Result{}, errors.New("HTTP 404")
	}
	d.saved[rawURL] = objectPath
	d.objects[objectPath] = true
	return download.Result{URI: "file://" + objectPath, ContentType: "image/png", Size: 3}, nil
}

func newHasher() Hasher {
	return sha256.New()
}
