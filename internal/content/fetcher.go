// Package content resolves catalog identifiers to lesson HTML.
//
// Both the API resolve and the page fetch are wrapped individually in the
// retry policy, and every attempt first waits on the shared rate limiter.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/fetcher/api"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
)

// ErrNoEmbeddedContent reports an API payload without a lesson page reference.
var ErrNoEmbeddedContent = api.ErrNoEmbeddedContent

// Resolver maps an identifier to a lesson page URL.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (string, error)
}

// HTMLFetcher downloads a page as text.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Page is a fetched lesson.
type Page struct {
	URL  string
	HTML string
}

// Fetcher combines resolution and download under one rate limiter and retry policy.
type Fetcher struct {
	resolver Resolver
	html     HTMLFetcher
	limiter  Waiter
	retry    *retry.Policy
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(resolver Resolver, html HTMLFetcher, limiter Waiter, policy *retry.Policy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		resolver: resolver,
		html:     html,
		limiter:  limiter,
		retry:    policy,
		logger:   logger,
	}
}

// Resolve returns the lesson page URL for identifier. A payload without an
// embedded reference fails with ErrNoEmbeddedContent and is not retried.
func (f *Fetcher) Resolve(ctx context.Context, identifier string) (string, error) {
	label := fmt.Sprintf("resolve %s", identifier)
	return retry.Do(ctx, f.retry, label, func(ctx context.Context) (string, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
		url, err := f.resolver.Resolve(ctx, identifier)
		if errors.Is(err, ErrNoEmbeddedContent) {
			return "", retry.Permanent(fmt.Errorf("%w for %s", err, identifier))
		}
		return url, err
	})
}

// FetchHTML downloads url.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	return retry.Do(ctx, f.retry, "fetch "+url, func(ctx context.Context) (string, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return f.html.FetchHTML(ctx, url)
	})
}

// Fetch resolves identifier and downloads the lesson page.
func (f *Fetcher) Fetch(ctx context.Context, identifier string) (Page, error) {
	url, err := f.Resolve(ctx, identifier)
	if err != nil {
		return Page{}, err
	}
	f.logger.Debug("Resolved lesson page", zap.String("target_id", identifier), zap.String("url", url))

	html, err := f.FetchHTML(ctx, url)
	if err != nil {
		return Page{}, err
	}
	return Page{URL: url, HTML: html}, nil
}
