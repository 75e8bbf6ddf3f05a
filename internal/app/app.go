// Package app initializes and holds long-lived scraper services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/catalog"
	"github.com/JakeFAU/buildingbit-scraper/internal/clock/system"
	"github.com/JakeFAU/buildingbit-scraper/internal/config"
	"github.com/JakeFAU/buildingbit-scraper/internal/content"
	"github.com/JakeFAU/buildingbit-scraper/internal/download"
	"github.com/JakeFAU/buildingbit-scraper/internal/fetcher/api"
	collyfetcher "github.com/JakeFAU/buildingbit-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/buildingbit-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/buildingbit-scraper/internal/hash/sha256"
	"github.com/JakeFAU/buildingbit-scraper/internal/id/uuid"
	"github.com/JakeFAU/buildingbit-scraper/internal/orchestrator"
	"github.com/JakeFAU/buildingbit-scraper/internal/output"
	"github.com/JakeFAU/buildingbit-scraper/internal/phase"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/gcs"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/local"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/memory"
)

// browser is the headless capability plus its lifecycle.
type browser interface {
	phase.Browser
	Close()
}

// App holds the shared, long-lived services for one scraper invocation.
type App struct {
	logger       *zap.Logger
	cfg          config.Config
	clock        *system.Clock
	store        *state.Store
	orchestrator *orchestrator.Orchestrator
	browser      browser
	gcsClient    *gcsstorage.Client
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Orchestrator returns the phase sequencer.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Clock returns the wall clock.
func (a *App) Clock() *system.Clock {
	return a.clock
}

// New builds every service from cfg. It fails fast when the catalog or an
// output file cannot be loaded.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing scraper services")

	cat, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	store, err := state.Open(cfg.Paths.StateFile, state.Options{
		FailOnSaveError: cfg.State.FailOnSaveError,
		Clock:           clock,
		Logger:          logger.Named("state"),
	})
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	a := &App{logger: logger, cfg: cfg, clock: clock, store: store}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	limiter := ratelimit.New(cfg.RateLimiter())
	policy := retry.New(cfg.Retry, clock, logger.Named("retry"))
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	resolver, err := api.New(api.Config{
		APIURL:         cfg.Site.APIURL,
		Host:           cfg.Site.Host,
		Referer:        cfg.Site.BaseURL,
		UserAgent:      cfg.Site.UserAgent,
		AcceptLanguage: cfg.Site.AcceptLanguage,
		Timeout:        cfg.HTTPTimeout(),
	}, httpClient)
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Site.UserAgent,
		AcceptLanguage: cfg.Site.AcceptLanguage,
		Referer:        cfg.Site.BaseURL,
		Timeout:        cfg.HTTPTimeout(),
	})
	fetcher := content.New(resolver, pages, limiter, policy, logger.Named("content"))

	if cfg.Headless.Enabled {
		b, err := headless.NewChromedp(headless.Config{
			ExecPath:           cfg.Headless.ExecPath,
			UserAgent:          cfg.Site.UserAgent,
			Headers:            http.Header{"Accept-Language": []string{cfg.Site.AcceptLanguage}},
			NavigationTimeout:  cfg.NavigationTimeout(),
			ElementWaitTimeout: cfg.ElementWaitTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless browser: %w", err)
		}
		a.browser = b
	} else {
		logger.Info("Headless browser disabled; discovery and wiring will record failures")
		a.browser = headless.NewNoop()
	}

	blobs, err := a.newBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	downloader, err := download.New(download.Config{
		UserAgent: cfg.Site.UserAgent,
		Referer:   cfg.Site.BaseURL,
		Timeout:   cfg.HTTPTimeout(),
	}, httpClient, limiter, policy, blobs, logger.Named("download"))
	if err != nil {
		return nil, fmt.Errorf("init downloader: %w", err)
	}

	collections := make(map[string]*output.Collection, len(cat.Subjects))
	for _, subject := range cat.Subjects {
		c, err := output.Open(filepath.Join(cfg.Paths.OutputDir, subject.OutputFile))
		if err != nil {
			return nil, err
		}
		collections[subject.Name] = c
	}
	diagrams, err := output.OpenDiagrams(cfg.Paths.Diagrams)
	if err != nil {
		return nil, err
	}

	deps := phase.Deps{
		Tracker: store,
		Clock:   clock,
		Sleeper: clock,
		Pause:   cfg.ItemPause(),
		Limiter: limiter,
		Retry:   policy,
		Logger:  logger,
	}
	phases, err := buildPhases(deps, cfg, cat, fetcher, a.browser, downloader, collections, diagrams)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(phases, store, uuid.New(), clock, logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	a.orchestrator = orch

	ok = true
	logger.Info("Scraper services initialized", zap.Strings("phases", orch.Names()))
	return a, nil
}

func (a *App) newBlobStore(ctx context.Context) (storage.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.ProviderGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		a.logger.Info("Using GCS blob store", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return gcs.New(client, a.cfg.Storage.GCS)
	case config.ProviderMemory:
		a.logger.Info("Using in-memory blob store; downloads are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		store, err := local.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	}
}

// buildPhases registers the total order and its dependencies.
func buildPhases(
	deps phase.Deps,
	cfg config.Config,
	cat *catalog.Catalog,
	fetcher *content.Fetcher,
	b phase.Browser,
	downloader *download.Downloader,
	collections map[string]*output.Collection,
	diagrams *output.Diagrams,
) ([]orchestrator.Phase, error) {
	hasher := sha256.New()
	lessonPhase := func(name string) (phase.Runner, error) {
		subject, ok := cat.Subject(name)
		if !ok {
			return nil, fmt.Errorf("catalog has no %q subject", name)
		}
		return phase.NewLessonScrape(deps, subject, fetcher, hasher, collections[name]), nil
	}

	var lessons [3]phase.Runner
	for i, name := range []string{phase.MakeCode, phase.Python, phase.Sensors} {
		r, err := lessonPhase(name)
		if err != nil {
			return nil, err
		}
		lessons[i] = r
	}
	imageSources := []*output.Collection{
		collections[phase.MakeCode],
		collections[phase.Python],
		collections[phase.Sensors],
	}

	return []orchestrator.Phase{
		{
			Name:   phase.Discover,
			Runner: phase.NewCourseDiscovery(deps, cat, b, cfg.Site.BaseURL, cfg.Paths.CourseMappings),
		},
		{Name: phase.MakeCode, Dependencies: []string{phase.Discover}, Runner: lessons[0]},
		{Name: phase.Python, Dependencies: []string{phase.Discover}, Runner: lessons[1]},
		{Name: phase.Sensors, Dependencies: []string{phase.Discover}, Runner: lessons[2]},
		{
			Name:         phase.Wiring,
			Dependencies: []string{phase.Sensors},
			Runner:       phase.NewWiringScrape(deps, cat.Wiring, fetcher, b, downloader, diagrams, cfg.Paths.ScreenshotsDir),
		},
		{
			Name:         phase.Images,
			Dependencies: []string{phase.MakeCode, phase.Python, phase.Sensors},
			Runner:       phase.NewImageDownload(deps, imageSources, downloader, hasher, cfg.Storage.Prefix),
		},
		{
			Name:         phase.Integrate,
			Dependencies: []string{phase.MakeCode, phase.Python, phase.Images},
			Runner: phase.NewGalleryIntegration(deps, cat, collections, diagrams,
				cfg.Paths.BuildsJSON, cfg.Paths.PublicSensors, phase.Sensors),
		},
	}, nil
}

// Close releases the browser and storage client and flushes the logger.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("Error closing GCS client", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Save(); err != nil {
			a.logger.Warn("Error saving state on shutdown", zap.Error(err))
		}
	}
}
