// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/buildingbit-scraper/internal/logging"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/buildingbit-scraper/internal/policy/retry"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/gcs"
	"github.com/JakeFAU/buildingbit-scraper/internal/storage/local"
)

// DefaultUserAgent mimics a desktop Chrome; the content host rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Storage providers.
const (
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config  `mapstructure:"logging"`
	Site      SiteConfig      `mapstructure:"site"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     retry.Config    `mapstructure:"retry"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Storage   StorageConfig   `mapstructure:"storage"`
	State     StateConfig     `mapstructure:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SiteConfig describes the remote content host.
type SiteConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	APIURL         string `mapstructure:"api_url" validate:"required,url"`
	Host           string `mapstructure:"host" validate:"required,url"`
	UserAgent      string `mapstructure:"user_agent" validate:"required"`
	AcceptLanguage string `mapstructure:"accept_language"`
}

// RateLimitConfig spaces requests and logical work items.
type RateLimitConfig struct {
	RequestsPerMinute   int `mapstructure:"requests_per_minute" validate:"gte=0"`
	PauseBetweenItemsMs int `mapstructure:"pause_between_items_ms" validate:"gte=0"`
}

// TimeoutsConfig bounds individual network operations.
type TimeoutsConfig struct {
	HTTPSeconds        int `mapstructure:"http_seconds" validate:"gt=0"`
	NavigationSeconds  int `mapstructure:"navigation_seconds" validate:"gt=0"`
	ElementWaitSeconds int `mapstructure:"element_wait_seconds" validate:"gt=0"`
}

// HeadlessConfig configures the browser used by discovery and wiring.
type HeadlessConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	ExecPath string `mapstructure:"exec_path"`
}

// PathsConfig locates every file the scraper reads or writes.
type PathsConfig struct {
	Catalog        string `mapstructure:"catalog" validate:"required"`
	StateFile      string `mapstructure:"state_file" validate:"required"`
	CourseMappings string `mapstructure:"course_mappings" validate:"required"`
	Report         string `mapstructure:"report" validate:"required"`
	OutputDir      string `mapstructure:"output_dir" validate:"required"`
	Diagrams       string `mapstructure:"diagrams" validate:"required"`
	BuildsJSON     string `mapstructure:"builds_json" validate:"required"`
	PublicSensors  string `mapstructure:"public_sensors"`
	ScreenshotsDir string `mapstructure:"screenshots_dir"`
}

// StorageConfig selects where downloaded images land.
type StorageConfig struct {
	Provider string       `mapstructure:"provider" validate:"oneof=local gcs memory"`
	Prefix   string       `mapstructure:"prefix"`
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// StateConfig tunes checkpoint persistence.
type StateConfig struct {
	FailOnSaveError bool `mapstructure:"fail_on_save_error"`
}

// MetricsConfig enables the optional metrics server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("site.base_url", "https://www.yahboom.net/study/buildingbit-super-kit")
	v.SetDefault("site.api_url", "https://www.yahboom.net/build")
	v.SetDefault("site.host", "https://www.yahboom.net")
	v.SetDefault("site.user_agent", DefaultUserAgent)
	v.SetDefault("site.accept_language", "en-US,en;q=0.9")
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.pause_between_items_ms", 3000)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 2000)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("timeouts.http_seconds", 30)
	v.SetDefault("timeouts.navigation_seconds", 60)
	v.SetDefault("timeouts.element_wait_seconds", 30)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("paths.catalog", "configs/catalog.yaml")
	v.SetDefault("paths.state_file", "data/scrape-state.json")
	v.SetDefault("paths.course_mappings", "data/course-mappings.json")
	v.SetDefault("paths.report", "data/scrape-report.json")
	v.SetDefault("paths.output_dir", "data")
	v.SetDefault("paths.diagrams", "data/wiring-diagrams.json")
	v.SetDefault("paths.builds_json", "public/data/builds.json")
	v.SetDefault("paths.public_sensors", "public/data/sensor-principles.json")
	v.SetDefault("paths.screenshots_dir", "data/screenshots")
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.prefix", "lessons")
	v.SetDefault("storage.local.base_dir", "public/images")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("state.fail_on_save_error", false)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces struct tags plus cross-field rules.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	var errs []error
	if c.Storage.Provider == ProviderGCS && c.Storage.GCS.Bucket == "" {
		errs = append(errs, fmt.Errorf("storage.gcs.bucket must be set when storage.provider is gcs"))
	}
	if c.Storage.Provider == ProviderLocal && c.Storage.Local.BaseDir == "" {
		errs = append(errs, fmt.Errorf("storage.local.base_dir must be set when storage.provider is local"))
	}
	if u, err := url.Parse(c.Site.APIURL); err == nil && u.RawQuery != "" {
		errs = append(errs, fmt.Errorf("site.api_url must not carry a query string"))
	}
	return errors.Join(errs...)
}

// RateLimiter converts the request budget for ratelimit.New.
func (c Config) RateLimiter() ratelimit.Config {
	return ratelimit.Config{RequestsPerMinute: c.RateLimit.RequestsPerMinute}
}

// ItemPause is the courtesy delay between logical work items.
func (c Config) ItemPause() time.Duration {
	return time.Duration(c.RateLimit.PauseBetweenItemsMs) * time.Millisecond
}

// HTTPTimeout bounds a single HTTP request.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Timeouts.HTTPSeconds) * time.Second
}

// NavigationTimeout bounds a browser navigation.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Timeouts.NavigationSeconds) * time.Second
}

// ElementWaitTimeout bounds waiting for a selector after navigation.
func (c Config) ElementWaitTimeout() time.Duration {
	return time.Duration(c.Timeouts.ElementWaitSeconds) * time.Second
}
