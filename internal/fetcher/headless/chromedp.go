// Package headless drives a headless Chrome for pages that need script
// execution: the course menu used by discovery and the wiring lesson pages.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
)

// Config controls the browser.
type Config struct {
	ExecPath           string
	UserAgent          string
	Headers            http.Header
	NavigationTimeout  time.Duration
	ElementWaitTimeout time.Duration
}

// StatusError reports a document response with a non-2xx status.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("navigate %s: HTTP %d", e.URL, e.Status)
}

// Browser renders pages with chromedp. Each call uses a fresh tab.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a Browser. Chrome is started lazily on first use.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout < 0 || cfg.ElementWaitTimeout < 0 {
		return nil, fmt.Errorf("timeouts must be >= 0")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// Render navigates to url, waits for waitSelector (body when empty) and
// returns the rendered DOM.
func (b *Browser) Render(ctx context.Context, url, waitSelector string) (string, error) {
	var html string
	err := b.run(ctx, url, waitSelector, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return html, nil
}

// Evaluate navigates to url, waits for waitSelector and decodes the result
// of script into out.
func (b *Browser) Evaluate(ctx context.Context, url, waitSelector, script string, out any) error {
	return b.run(ctx, url, waitSelector, chromedp.Evaluate(script, out))
}

// Screenshot navigates to url and captures the full page as PNG.
func (b *Browser) Screenshot(ctx context.Context, url string) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, url, "", chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Browser) run(ctx context.Context, url, waitSelector string, capture chromedp.Action) error {
	// Tie the tab to both the browser and the caller.
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	if waitSelector == "" {
		waitSelector = "body"
	}
	// Allocate the tab without a deadline; timeouts below bound only the actions.
	if err := chromedp.Run(taskCtx); err != nil {
		return fmt.Errorf("start browser: %w", b.cause(ctx, err))
	}
	metrics.ObserveRequest(url)

	navCtx, navCancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer navCancel()
	if err := chromedp.Run(navCtx, b.networkSetupAction(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, b.cause(ctx, err))
	}
	if status, _ := meta.snapshot(); status >= 400 {
		return &StatusError{Status: status, URL: url}
	}

	waitCtx, waitCancel := context.WithTimeout(taskCtx, b.waitTimeout())
	defer waitCancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(waitSelector, chromedp.ByQuery), capture); err != nil {
		return fmt.Errorf("wait for %q on %s: %w", waitSelector, url, b.cause(ctx, err))
	}
	return nil
}

// cause prefers the caller's cancellation over chromedp's own error.
func (b *Browser) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 60 * time.Second
}

func (b *Browser) waitTimeout() time.Duration {
	if b.cfg.ElementWaitTimeout > 0 {
		return b.cfg.ElementWaitTimeout
	}
	return 30 * time.Second
}

// responseMeta remembers the main document's status.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the page itself; later ones are frames.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
