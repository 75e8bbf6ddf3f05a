package phase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/catalog"
	"github.com/JakeFAU/buildingbit-scraper/internal/download"
	"github.com/JakeFAU/buildingbit-scraper/internal/lesson"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/parser"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/local"
)

// WiringScrape downloads the wiring diagram of every sensor build.
type WiringScrape struct {
	deps           Deps
	entries        []catalog.WiringTarget
	fetcher        ContentFetcher
	browser        Browser
	downloader     Downloader
	diagrams       *output.Diagrams
	screenshotsDir string
}

// NewWiringScrape builds the wiring phase.
func NewWiringScrape(
	deps Deps,
	entries []catalog.WiringTarget,
	fetcher ContentFetcher,
	browser Browser,
	downloader Downloader,
	diagrams *output.Diagrams,
	screenshotsDir string,
) *WiringScrape {
	return &WiringScrape{
		deps:           deps,
		entries:        entries,
		fetcher:        fetcher,
		browser:        browser,
		downloader:     downloader,
		diagrams:       diagrams,
		screenshotsDir: screenshotsDir,
	}
}

// Name implements Runner.
func (w *WiringScrape) Name() string {
	return Wiring
}

// Run implements Runner.
func (w *WiringScrape) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	log := w.deps.logger().With(zap.String("phase", Wiring))

	for _, entry := range w.entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if w.deps.Tracker.IsComplete(entry.Build, Wiring) {
			summary.Skipped++
			observe(Wiring, "skipped")
			continue
		}
		if err := w.deps.Tracker.SetBuildStatus(entry.Build, Wiring, state.InProgress); err != nil {
			return summary, err
		}
		itemLog := log.With(zap.String("target_id", entry.Build), zap.String("section", entry.Section))

		diag, found, err := w.scrape(ctx, entry)
		switch {
		case err != nil:
			if isCanceled(ctx, err) {
				return summary, ctx.Err()
			}
			itemLog.Error("Wiring scrape failed", zap.Error(err))
			if markErr := w.deps.Tracker.MarkFailed(entry.Build, Wiring, err.Error()); markErr != nil {
				return summary, markErr
			}
			summary.Failed++
			observe(Wiring, "failed")
		case !found:
			itemLog.Warn("No wiring diagram found", zap.String("url", diag.PageURL))
			w.captureScreenshot(ctx, itemLog, entry.Build, diag.PageURL)
			if markErr := w.deps.Tracker.SetBuildStatus(entry.Build, Wiring, state.NotFound); markErr != nil {
				return summary, markErr
			}
			summary.NotFound++
			observe(Wiring, "not_found")
		default:
			if putErr := w.diagrams.Put(diag); putErr != nil {
				return summary, putErr
			}
			if markErr := w.deps.Tracker.MarkComplete(entry.Build, Wiring); markErr != nil {
				return summary, markErr
			}
			itemLog.Info("Wiring diagram stored", zap.String("url", diag.ImageURL), zap.String("path", diag.LocalPath))
			summary.Processed++
			observe(Wiring, "complete")
		}

		if err := w.deps.pause(ctx); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (w *WiringScrape) scrape(ctx context.Context, entry catalog.WiringTarget) (output.Diagram, bool, error) {
	diag := output.Diagram{Build: entry.Build, LessonID: entry.LessonID}
	pageURL, err := w.fetcher.Resolve(ctx, entry.LessonID)
	if err != nil {
		return diag, false, err
	}
	diag.PageURL = pageURL

	html, err := withBrowser(ctx, w.deps, "render "+pageURL, func(ctx context.Context) (string, error) {
		return w.browser.Render(ctx, pageURL, "body")
	})
	if err != nil {
		return diag, false, err
	}
	images, err := parser.Images(html, pageURL)
	if err != nil {
		return diag, false, err
	}
	img, ok := PickWiringImage(images)
	if !ok {
		return diag, false, nil
	}

	objectPath := fmt.Sprintf("wiring/%s-wiring%s", entry.Build, download.Extension(img.URL, ""))
	if _, err := w.downloader.Save(ctx, img.URL, objectPath); err != nil {
		return diag, false, err
	}
	diag.ImageURL = img.URL
	diag.Alt = img.Alt
	diag.LocalPath = objectPath
	return diag, true, nil
}

// captureScreenshot saves a debugging screenshot. Failures are only logged.
func (w *WiringScrape) captureScreenshot(ctx context.Context, log *zap.Logger, build, pageURL string) {
	if w.screenshotsDir == "" || pageURL == "" {
		return
	}
	shot, err := withBrowser(ctx, w.deps, "screenshot "+pageURL, func(ctx context.Context) ([]byte, error) {
		return w.browser.Screenshot(ctx, pageURL)
	})
	if err != nil {
		log.Warn("Screenshot failed", zap.Error(err))
		return
	}
	path := filepath.Join(w.screenshotsDir, build+"-wiring.png")
	if err := local.WriteFile(path, shot, 0o644); err != nil {
		log.Warn("Failed to save screenshot", zap.String("path", path), zap.Error(err))
		return
	}
	log.Info("Saved debug screenshot", zap.String("path", path))
}

// PickWiringImage prefers an image classified as wiring, then one whose URL
// or alt text mentions wiring or a circuit.
func PickWiringImage(images []lesson.Image) (lesson.Image, bool) {
	for _, img := range images {
		if img.Type == lesson.ImageWiring {
			return img, true
		}
	}
	for _, img := range images {
		hay := strings.ToLower(img.URL + " " + img.Alt)
		if strings.Contains(hay, "wiring") || strings.Contains(hay, "circuit") {
			return img, true
		}
	}
	return lesson.Image{}, false
}
