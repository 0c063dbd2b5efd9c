// Package config holds crawler settings, their defaults and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultBaseURL is the catalog the built-in category entry points live under.
const DefaultBaseURL = "https://inkafarma.pe"

// DefaultUserAgent identifies the crawler to the catalog operator.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PharmacyCatalogScraper/1.0; +https://github.com/aluiziolira/go-scrape-pharmacy)"

// DefaultCategoryPaths are crawled when no categories are configured.
var DefaultCategoryPaths = []string{
	"/categoria/farmacia",
	"/categoria/cuidado-personal",
	"/categoria/bienestar",
}

// Config holds crawler configuration.
type Config struct {
	BaseURL     string   `mapstructure:"base_url" validate:"required,url"`
	Categories  []string `mapstructure:"categories" validate:"omitempty,dive,url"`
	MaxProducts int      `mapstructure:"max" validate:"gte=0"`
	StopOnLimit bool     `mapstructure:"stop_on_limit"`
	MaxPages    int      `mapstructure:"max_pages" validate:"gte=0"`

	Delay           time.Duration `mapstructure:"delay" validate:"gte=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max" validate:"gte=0"`

	UsePlaywright   bool              `mapstructure:"use_playwright"`
	InstallBrowsers bool              `mapstructure:"install_browsers"`
	Headless        bool              `mapstructure:"headless"`
	ReadySelector   string            `mapstructure:"ready_selector"`
	ReadyTimeout    time.Duration     `mapstructure:"ready_timeout" validate:"gte=0"`
	SettleDelay     time.Duration     `mapstructure:"settle_delay" validate:"gte=0"`
	UserAgent       string            `mapstructure:"user_agent" validate:"required"`
	Headers         map[string]string `mapstructure:"headers"`

	OutputFile         string `mapstructure:"output" validate:"required"`
	OutputFormat       string `mapstructure:"format" validate:"oneof=csv json dual"`
	PipelineBufferSize int    `mapstructure:"pipeline_buffer" validate:"gt=0"`
	BatchSize          int    `mapstructure:"batch_size" validate:"gt=0"`
	DedupeCacheSize    int    `mapstructure:"dedupe_cache" validate:"gt=0"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Verbose     bool   `mapstructure:"verbose"`
}

// DefaultConfig returns polite defaults for the target catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		MaxProducts:     800,
		StopOnLimit:     true,
		MaxPages:        200,
		Delay:           1500 * time.Millisecond,
		Timeout:         15 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		RetryBackoffMax: 10 * time.Second,
		Headless:        true,
		ReadySelector:   "a.link[href*='/producto/']",
		ReadyTimeout:    20 * time.Second,
		SettleDelay:     time.Second,
		UserAgent:       DefaultUserAgent,
		Headers: map[string]string{
			"Accept-Language": "es-PE,es;q=0.9,en;q=0.8",
		},
		OutputFile:         "output/productos.csv",
		OutputFormat:       "csv",
		PipelineBufferSize: 512,
		BatchSize:          32,
		DedupeCacheSize:    10000,
	}
}

// EntryPoints returns the configured categories, or the built-in ones under
// BaseURL.
func (c *Config) EntryPoints() []string {
	if len(c.Categories) > 0 {
		out := make([]string, len(c.Categories))
		copy(out, c.Categories)
		return out
	}
	base := strings.TrimRight(c.BaseURL, "/")
	out := make([]string, 0, len(DefaultCategoryPaths))
	for _, p := range DefaultCategoryPaths {
		out = append(out, base+p)
	}
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: must satisfy %s", fe.Field(), ruleText(fe))
		}
		return fmt.Errorf("validate config: %w", err)
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("invalid base_url: must include a host")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry_backoff (%s) cannot exceed retry_backoff_max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func ruleText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
