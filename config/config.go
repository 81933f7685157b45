package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds crawler tuning knobs. Per-run input (target URL, product cap,
// output directory) travels separately in models.Request.
type Config struct {
	PageSize         int
	MaxPages         int
	ByIDBatchSize    int
	VariationWorkers int
	ImageWorkers     int
	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	RequestsPerSec   float64
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	MaxBodySize      int
	DedupeMaxSize    int
	DefaultOutputDir string
	UserAgent        string
	Verbose          bool
	MetricsAddr      string
}

// DefaultConfig returns the defaults used against public storefront APIs.
func DefaultConfig() *Config {
	return &Config{
		PageSize:         100,
		MaxPages:         100,
		ByIDBatchSize:    20,
		VariationWorkers: 3,
		ImageWorkers:     4,
		Parallelism:      8,
		Delay:            0,
		RandomDelay:      0,
		Timeout:          25 * time.Second,
		RequestsPerSec:   0,
		MaxRetries:       1,
		RetryBackoff:     250 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
		MaxBodySize:      64 << 20,
		DedupeMaxSize:    50000,
		DefaultOutputDir: defaultOutputDir(),
		UserAgent:        "Mozilla/5.0 (compatible; CatalogExportBot/1.0; +https://localhost)",
		Verbose:          false,
		MetricsAddr:      "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.ByIDBatchSize <= 0 {
		return fmt.Errorf("by-id batch size must be positive")
	}
	if c.VariationWorkers <= 0 {
		return fmt.Errorf("variation workers must be positive")
	}
	if c.ImageWorkers <= 0 {
		return fmt.Errorf("image workers must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestsPerSec < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// ValidateSiteURL checks that raw is an absolute http(s) URL with a host.
func ValidateSiteURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("site URL cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid site URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("site URL must use http:// or https://")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("site URL must include a host")
	}
	return parsed, nil
}

// ResolveOutputDir expands "~" and makes dir absolute. An empty dir falls
// back to fallback.
func ResolveOutputDir(dir, fallback string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fallback
	}
	home, _ := os.UserHomeDir()
	if dir == "~" && home != "" {
		return home
	}
	if strings.HasPrefix(dir, "~/") && home != "" {
		return filepath.Join(home, dir[2:])
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "catalog-exports")
	}
	return filepath.Join(home, "Downloads", "catalog-exports")
}
