package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_MAX_PAGES.
const EnvPrefix = "SCRAPER"

// NewViper returns a viper instance seeded with DefaultConfig and reading
// SCRAPER_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("categories", []string{})
	v.SetDefault("max", d.MaxProducts)
	v.SetDefault("stop_on_limit", d.StopOnLimit)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("delay", d.Delay.Seconds())
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("use_playwright", d.UsePlaywright)
	v.SetDefault("install_browsers", d.InstallBrowsers)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("ready_selector", d.ReadySelector)
	v.SetDefault("ready_timeout", d.ReadyTimeout)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("headers", d.Headers)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("format", d.OutputFormat)
	v.SetDefault("pipeline_buffer", d.PipelineBufferSize)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("dedupe_cache", d.DedupeCacheSize)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
	return v
}

// BindFlags binds every flag in fs to the viper key of the same name with
// dashes turned into underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

// Load builds a Config from v, reading the file named by the "config" key
// first when one is set. The result is validated.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		BaseURL:     strings.TrimSpace(v.GetString("base_url")),
		Categories:  splitList(v.GetStringSlice("categories")),
		MaxProducts: v.GetInt("max"),
		StopOnLimit: v.GetBool("stop_on_limit"),
		MaxPages:    v.GetInt("max_pages"),

		Delay:           seconds(v.GetFloat64("delay")),
		Timeout:         v.GetDuration("timeout"),
		MaxRetries:      v.GetInt("max_retries"),
		RetryBackoff:    v.GetDuration("retry_backoff"),
		RetryBackoffMax: v.GetDuration("retry_backoff_max"),

		UsePlaywright:   v.GetBool("use_playwright"),
		InstallBrowsers: v.GetBool("install_browsers"),
		Headless:        v.GetBool("headless"),
		ReadySelector:   v.GetString("ready_selector"),
		ReadyTimeout:    v.GetDuration("ready_timeout"),
		SettleDelay:     v.GetDuration("settle_delay"),
		UserAgent:       v.GetString("user_agent"),
		Headers:         v.GetStringMapString("headers"),

		OutputFile:         v.GetString("output"),
		OutputFormat:       strings.ToLower(strings.TrimSpace(v.GetString("format"))),
		PipelineBufferSize: v.GetInt("pipeline_buffer"),
		BatchSize:          v.GetInt("batch_size"),
		DedupeCacheSize:    v.GetInt("dedupe_cache"),

		MetricsAddr: v.GetString("metrics_addr"),
		Verbose:     v.GetBool("verbose"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// splitList accepts both repeated values and comma separated ones.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
