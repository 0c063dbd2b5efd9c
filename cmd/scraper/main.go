package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-pharmacy/config"
	"github.com/aluiziolira/go-scrape-pharmacy/fetch"
	"github.com/aluiziolira/go-scrape-pharmacy/models"
	"github.com/aluiziolira/go-scrape-pharmacy/pipeline"
	"github.com/aluiziolira/go-scrape-pharmacy/scraper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	d := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "scraper",
		Short:         "Crawl pharmacy catalog categories into a product table",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Optional YAML config file")
	f.String("base-url", d.BaseURL, "Catalog base URL for the built-in categories")
	f.StringP("output", "o", d.OutputFile, "Output file path")
	f.StringP("format", "f", d.OutputFormat, "Output format: csv, json, or dual")
	f.Float64("delay", d.Delay.Seconds(), "Delay between requests (seconds)")
	f.Int("max", d.MaxProducts, "Maximum products to emit (0 = unbounded)")
	f.Bool("stop-on-limit", d.StopOnLimit, "Stop the crawl once --max products were emitted")
	f.StringSlice("categories", nil, "Category entry-point URLs (overrides the built-in list)")
	f.Bool("use-playwright", d.UsePlaywright, "Render pages in headless Chromium")
	f.Bool("install-browsers", d.InstallBrowsers, "Install the Chromium runtime before rendering")
	f.Int("max-pages", d.MaxPages, "Maximum listing pages per category (0 = unbounded)")
	f.Duration("timeout", d.Timeout, "Per-request timeout")
	f.Int("max-retries", d.MaxRetries, "Maximum retry attempts per URL")
	f.Duration("retry-backoff", d.RetryBackoff, "Initial retry backoff")
	f.Duration("retry-backoff-max", d.RetryBackoffMax, "Maximum retry backoff")
	f.String("user-agent", d.UserAgent, "User-Agent header")
	f.String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	f.BoolP("verbose", "v", d.Verbose, "Enable verbose logging")

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	runID := uuid.NewString()

	logger, level := newLogger(cfg.Verbose)
	logger = logger.With("run_id", runID)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := scraper.NewMetrics()

	mode := fetch.ModeStatic
	if cfg.UsePlaywright {
		mode = fetch.ModeRender
	}
	fetcher, err := fetch.New(mode, fetch.Options{
		UserAgent:       cfg.UserAgent,
		Headers:         cfg.Headers,
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		ReadySelector:   cfg.ReadySelector,
		ReadyTimeout:    cfg.ReadyTimeout,
		SettleDelay:     cfg.SettleDelay,
		Headless:        cfg.Headless,
		InstallBrowsers: cfg.InstallBrowsers,
		Recorder:        metrics,
		Logger:          logger,
	})
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			slog.Error("close fetcher", slog.Any("error", err))
		}
	}()

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMetricsRouter(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg).WithLogger(logger)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	crawler, err := scraper.NewCrawler(scraper.Options{
		Fetcher:     fetcher,
		Sink:        p,
		Delay:       cfg.Delay,
		Limit:       cfg.MaxProducts,
		StopOnLimit: cfg.StopOnLimit,
		MaxPages:    cfg.MaxPages,
		Metrics:     metrics,
		Logger:      logger,
		RunID:       runID,
	})
	if err != nil {
		slog.Error("initialising crawler", slog.Any("error", err))
		return err
	}

	result, crawlErr := crawler.Run(ctx, cfg.EntryPoints())
	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		slog.Error("crawl aborted", slog.Any("error", crawlErr))
	} else if crawlErr != nil {
		slog.Warn("crawl interrupted, keeping records emitted so far")
		crawlErr = nil
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return err
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		return err
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, cfg, p.GetMetrics())
	return crawlErr
}

func printSummary(result *models.CrawlResult, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")
	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Products:      %d\n", result.Emitted)
	if cfg.MaxProducts > 0 {
		fmt.Printf("  Limit:         %d (reached: %t)\n", cfg.MaxProducts, result.CapReached)
	}
	fmt.Printf("  Listing pages: %d\n", result.ListingPages)
	fmt.Printf("  Detail pages:  %d\n", result.DetailFetches)
	fmt.Printf("  Fallbacks:     %d\n", result.Fallbacks)
	fmt.Printf("  Fetch errors:  %d\n", result.FetchErrors)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Dropped:       %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	if cfg.OutputFormat == "dual" {
		fmt.Printf("  JSONL file:    %s\n", pipeline.JSONLPath(cfg.OutputFile))
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
