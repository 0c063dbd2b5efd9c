// Package scraper drives a crawl over category entry points: paginated
// listing traversal, product extraction and emission under a run-wide cap.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-pharmacy/fetch"
	"github.com/aluiziolira/go-scrape-pharmacy/models"
	"github.com/aluiziolira/go-scrape-pharmacy/parser"
)

// DefaultMaxPages bounds pagination within one category.
const DefaultMaxPages = 200

// Options configures a Crawler.
type Options struct {
	Fetcher     fetch.Fetcher
	Sink        Sink
	Extractor   *parser.Extractor
	Rules       *parser.ListingRules
	Delay       time.Duration
	Limit       int
	StopOnLimit bool
	MaxPages    int
	Metrics     *Metrics
	Logger      *slog.Logger
	RunID       string
}

// Crawler runs category traversals in entry-point order over shared state.
type Crawler struct {
	opts   Options
	logger *slog.Logger
}

// NewCrawler validates opts and builds a crawler.
func NewCrawler(opts Options) (*Crawler, error) {
	if opts.Fetcher == nil {
		return nil, &fetch.ConfigurationError{Reason: "no fetch strategy configured"}
	}
	if opts.Sink == nil {
		return nil, &fetch.ConfigurationError{Reason: "no output sink configured"}
	}
	if opts.Limit < 0 {
		return nil, &fetch.ConfigurationError{Reason: fmt.Sprintf("limit must be >= 0, got %d", opts.Limit)}
	}
	if opts.Extractor == nil {
		opts.Extractor = parser.NewExtractor(parser.DefaultProductRules())
	}
	if opts.Rules == nil {
		rules := parser.DefaultListingRules()
		opts.Rules = &rules
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "crawler")
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	return &Crawler{opts: opts, logger: logger}, nil
}

// Run crawls entryPoints in order and returns the run summary. A failing
// category is logged and skipped. The error is non-nil when the sink fails or
// ctx is canceled; the result still describes everything emitted before that.
func (c *Crawler) Run(ctx context.Context, entryPoints []string) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	state := NewRunState(c.opts.Limit, c.opts.StopOnLimit)
	stats := newRunStats()
	traversal := &Traversal{
		fetcher:   c.opts.Fetcher,
		extractor: c.opts.Extractor,
		rules:     *c.opts.Rules,
		sink:      c.opts.Sink,
		pacer:     NewPacer(c.opts.Delay),
		maxPages:  c.opts.MaxPages,
		metrics:   c.opts.Metrics,
		stats:     stats,
		now:       time.Now,
		logger:    c.logger,
	}

	result := &models.CrawlResult{
		RunID:     c.opts.RunID,
		StartTime: time.Now(),
	}
	finish := func(err error) (*models.CrawlResult, error) {
		stats.fill(result)
		result.Emitted = state.Count()
		result.CapReached = state.LimitReached()
		result.EndTime = time.Now()
		return result, err
	}

	c.logger.Info("crawl started",
		"entry_points", len(entryPoints),
		"strategy", c.opts.Fetcher.Mode(),
		"limit", c.opts.Limit,
		"delay", c.opts.Delay,
	)

	for _, entry := range entryPoints {
		if state.LimitReached() {
			c.logger.Info("product limit reached, stopping", "limit", c.opts.Limit)
			break
		}
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		cat := CategoryContext{Category: CategoryLabel(entry), URL: entry}
		err := c.runCategory(ctx, traversal, cat, state)

		var sinkErr *SinkError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return finish(ctx.Err())
		case errors.As(err, &sinkErr):
			c.logger.Error("output sink failed, aborting run", "error", err)
			return finish(err)
		default:
			c.logger.Error("category failed", "category", cat.Category, "url", entry, "error", err)
		}
	}

	return finish(nil)
}

func (c *Crawler) runCategory(ctx context.Context, t *Traversal, cat CategoryContext, state *RunState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("category panic stack", "category", cat.Category, "stack", string(debug.Stack()))
			err = fmt.Errorf("category %s panicked: %v", cat.Category, r)
		}
	}()

	start := time.Now()
	before := state.Count()
	c.logger.Info("category started", "category", cat.Category, "url", cat.URL)
	err = t.Run(ctx, cat, state)
	c.logger.Info("category finished",
		"category", cat.Category,
		"emitted", state.Count()-before,
		"total", state.Count(),
		"duration", time.Since(start),
	)
	return err
}

// CategoryLabel derives a category label from the last path segment of an
// entry-point URL.
func CategoryLabel(entry string) string {
	p := entry
	if u, err := url.Parse(entry); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}
