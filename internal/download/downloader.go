// Package download fetches binary assets (lesson images, wiring diagrams)
// into a BlobStore.
package download

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage"
)

// HTTPError is a non-2xx asset response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Config controls request headers and timeouts.
type Config struct {
	UserAgent string
	Referer   string
	Timeout   time.Duration
}

// Result describes a stored asset.
type Result struct {
	URI         string
	ContentType string
	Size        int
}

// Downloader retrieves assets under the shared limiter and retry policy.
type Downloader struct {
	client  *resty.Client
	limiter Waiter
	retry   *retry.Policy
	store   storage.BlobStore
	logger  *zap.Logger
}

// New builds a Downloader. A nil httpClient uses resty's default transport.
func New(cfg Config, httpClient *http.Client, limiter Waiter, policy *retry.Policy, store storage.BlobStore, logger *zap.Logger) (*Downloader, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var client *resty.Client
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	} else {
		client = resty.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client.SetTimeout(cfg.Timeout).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Referer != "" {
		client.SetHeader("Referer", cfg.Referer)
	}
	return &Downloader{client: client, limiter: limiter, retry: policy, store: store, logger: logger}, nil
}

type payload struct {
	body        []byte
	contentType string
}

// Fetch downloads rawURL fully into memory.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	p, err := retry.Do(ctx, d.retry, "download "+rawURL, func(ctx context.Context) (payload, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return payload{}, err
		}
		metrics.ObserveRequest(rawURL)
		resp, err := d.client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return payload{}, fmt.Errorf("request %s: %w", rawURL, err)
		}
		if !resp.IsSuccess() {
			return payload{}, &HTTPError{Status: resp.StatusCode(), URL: rawURL}
		}
		return payload{body: resp.Body(), contentType: resp.Header().Get("Content-Type")}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return p.body, p.contentType, nil
}

// Save downloads rawURL and writes it to objectPath. The body is buffered
// completely before the single store write, so a retried download never
// leaves a partial object behind.
func (d *Downloader) Save(ctx context.Context, rawURL, objectPath string) (Result, error) {
	body, contentType, err := d.Fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	uri, err := d.store.PutObject(ctx, objectPath, contentType, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("store %s: %w", objectPath, err)
	}
	d.logger.Debug("Stored asset", zap.String("url", rawURL), zap.String("path", objectPath), zap.Int("bytes", len(body)))
	return Result{URI: uri, ContentType: contentType, Size: len(body)}, nil
}

// Exists reports whether objectPath is already stored.
func (d *Downloader) Exists(ctx context.Context, objectPath string) (bool, error) {
	return d.store.Exists(ctx, objectPath)
}

// Extension picks a file extension from the URL path, falling back to the
// content type and finally ".png".
func Extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); isImageExt(ext) {
			return ext
		}
	}
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mediaType {
			case "image/jpeg":
				return ".jpg"
			case "image/png":
				return ".png"
			case "image/gif":
				return ".gif"
			case "image/webp":
				return ".webp"
			case "image/svg+xml":
				return ".svg"
			}
		}
	}
	return ".png"
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp":
		return true
	}
	return false
}
