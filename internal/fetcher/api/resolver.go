// Package api resolves catalog identifiers to lesson page URLs through the
// site's build API.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
)

// ErrNoEmbeddedContent reports a payload without an embedded lesson page.
var ErrNoEmbeddedContent = errors.New("no embedded content reference")

var (
	srcPattern  = regexp.MustCompile(`src=["']?([^"'>]*upload-html[^"'>]*)`)
	pathPattern = regexp.MustCompile(`/public/upload/upload-html/[^"'>]+?\.html`)
	unescaper   = strings.NewReplacer(`\/`, "/", `\"`, `"`)
	spaceEscape = strings.NewReplacer(" ", "%20")
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api request %s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Config controls the API client.
type Config struct {
	APIURL         string
	Host           string
	Referer        string
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Resolver calls GET <api>?id=<identifier>.
type Resolver struct {
	cfg    Config
	client *resty.Client
}

// New builds a Resolver. A nil httpClient uses resty's default transport.
func New(cfg Config, httpClient *http.Client) (*Resolver, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("site host is required")
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
		SetHeader("Accept", "application/json, text/plain, */*")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.AcceptLanguage != "" {
		client.SetHeader("Accept-Language", cfg.AcceptLanguage)
	}
	if cfg.Referer != "" {
		client.SetHeader("Referer", cfg.Referer)
	}
	return &Resolver{cfg: cfg, client: client}, nil
}

// Resolve returns the absolute URL of the lesson page embedded for identifier.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	metrics.ObserveRequest(r.cfg.APIURL)
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("id", identifier).
		Get(r.cfg.APIURL)
	if err != nil {
		return "", fmt.Errorf("request build %s: %w", identifier, err)
	}
	if !resp.IsSuccess() {
		return "", &HTTPError{Status: resp.StatusCode(), URL: resp.Request.URL}
	}
	content, err := embeddedContent(resp.Body())
	if err != nil {
		return "", fmt.Errorf("decode build %s: %w", identifier, err)
	}
	return ExtractEmbeddedURL(content, r.cfg.Host)
}

type buildPayload struct {
	Content string `json:"content"`
}

// embeddedContent reads the content field of either the first array element
// or a bare object.
func embeddedContent(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []buildPayload
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "", nil
		}
		return items[0].Content, nil
	}
	var item buildPayload
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return "", err
	}
	return item.Content, nil
}

// ExtractEmbeddedURL finds the iframe-style reference in content. Escaped
// separators are normalized and relative paths are joined to host.
func ExtractEmbeddedURL(content, host string) (string, error) {
	host = strings.TrimRight(host, "/")
	content = unescaper.Replace(content)
	if m := srcPattern.FindStringSubmatch(content); m != nil {
		path := spaceEscape.Replace(strings.TrimSpace(m[1]))
		if strings.HasPrefix(path, "http") {
			return path, nil
		}
		return host + path, nil
	}
	if m := pathPattern.FindString(content); m != "" {
		return host + spaceEscape.Replace(m), nil
	}
	return "", ErrNoEmbeddedContent
}
