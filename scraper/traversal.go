package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-pharmacy/fetch"
	"github.com/aluiziolira/go-scrape-pharmacy/models"
	"github.com/aluiziolira/go-scrape-pharmacy/parser"
)

// Sink receives normalized records in emission order and reports how many it
// accepted. Only accepted records count towards the run limit.
type Sink interface {
	Process(records []*models.ProductRecord) (int, error)
}

// SinkError wraps a failure to hand a record to the sink. It aborts the run.
type SinkError struct {
	URL string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("emit %s: %v", e.URL, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// CategoryContext labels the records produced under one entry point.
type CategoryContext struct {
	Category    string
	Subcategory string
	URL         string
}

// Traversal walks one category: listing pages in pagination order, and every
// new product link on each page in document order.
type Traversal struct {
	fetcher   fetch.Fetcher
	extractor *parser.Extractor
	rules     parser.ListingRules
	sink      Sink
	pacer     *Pacer
	maxPages  int
	metrics   *Metrics
	stats     *runStats
	now       func() time.Time
	logger    *slog.Logger
}

// Run traverses cat until pagination is exhausted, the page bound is hit or
// the run-wide limit is reached. Fetch failures end only the affected branch;
// the returned error is non-nil only for sink failures and cancellation.
func (t *Traversal) Run(ctx context.Context, cat CategoryContext, state *RunState) error {
	logger := t.logger.With("category", cat.Category)

	pending := []string{cat.URL}
	seenPages := make(map[string]struct{})
	pages := 0

	for len(pending) > 0 {
		pageURL := pending[0]
		pending = pending[1:]

		if _, ok := seenPages[pageURL]; ok {
			logger.Warn("pagination loop detected", "url", pageURL)
			return nil
		}
		seenPages[pageURL] = struct{}{}
		if t.maxPages > 0 && pages >= t.maxPages {
			logger.Warn("page bound reached", "url", pageURL, "max_pages", t.maxPages)
			return nil
		}
		pages++

		markup, err := t.fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.stats.fetchFailed(pageURL, err)
			logger.Error("listing fetch failed", "url", pageURL, "error_type", fetch.ErrorType(err), "error", err)
			return nil
		}
		t.stats.listingFetched()
		t.metrics.IncPage("listing")

		doc, err := parser.ParseDocument(markup)
		if err != nil {
			logger.Error("listing parse failed", "url", pageURL, "error", err)
			return nil
		}

		links := t.rules.ProductLinks(doc, pageURL)
		logger.Debug("listing page", "url", pageURL, "page", pages, "links", len(links))

		for _, link := range links {
			if state.LimitReached() {
				return nil
			}
			if !state.MarkVisited(link) {
				continue
			}
			if err := t.visitProduct(ctx, link, cat, state, logger); err != nil {
				return err
			}
		}

		if state.LimitReached() {
			return nil
		}
		if next := t.rules.NextPage(doc, pageURL); next != "" {
			pending = append(pending, next)
		}
	}
	return nil
}

func (t *Traversal) visitProduct(ctx context.Context, link string, cat CategoryContext, state *RunState, logger *slog.Logger) error {
	markup, err := t.fetch(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.stats.fetchFailed(link, err)
		logger.Warn("product fetch failed", "url", link, "error_type", fetch.ErrorType(err), "error", err)
		return nil
	}
	t.stats.detailFetched()
	t.metrics.IncPage("detail")

	extraction := t.extractor.Extract(markup, link, cat.Category, cat.Subcategory)
	t.metrics.IncExtraction(string(extraction.Source))
	if extraction.Note != nil {
		t.stats.fallback()
		logger.Warn("product extraction degraded",
			"url", link,
			"source", extraction.Source,
			"error", extraction.Note,
		)
	}

	record := parser.NormalizeRecord(extraction.Record, t.now())
	accepted, err := t.sink.Process([]*models.ProductRecord{record})
	if err != nil {
		return &SinkError{URL: link, Err: err}
	}
	if accepted == 0 {
		logger.Warn("product dropped by sink", "url", link, "sku", record.SKU)
		return nil
	}
	total := state.Inc()
	t.metrics.IncItems()
	logger.Debug("product emitted", "url", link, "sku", record.SKU, "total", total)
	return nil
}

func (t *Traversal) fetch(ctx context.Context, pageURL string) (string, error) {
	if err := t.pacer.Wait(ctx); err != nil {
		return "", err
	}
	defer t.pacer.Done()
	return t.fetcher.Fetch(ctx, pageURL)
}

// runStats accumulates counters for the run summary.
type runStats struct {
	mu            sync.Mutex
	listingPages  int
	detailFetches int
	fetchErrors   int
	fallbacks     int
	failedURLs    []string
	errorsByType  map[string]int
}

func newRunStats() *runStats {
	return &runStats{errorsByType: make(map[string]int)}
}

func (s *runStats) listingFetched() {
	s.mu.Lock()
	s.listingPages++
	s.mu.Unlock()
}

func (s *runStats) detailFetched() {
	s.mu.Lock()
	s.detailFetches++
	s.mu.Unlock()
}

func (s *runStats) fallback() {
	s.mu.Lock()
	s.fallbacks++
	s.mu.Unlock()
}

func (s *runStats) fetchFailed(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErrors++
	s.failedURLs = append(s.failedURLs, url)
	s.errorsByType[fetch.ErrorType(err)]++
}

func (s *runStats) fill(result *models.CrawlResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.ListingPages = s.listingPages
	result.DetailFetches = s.detailFetches
	result.FetchErrors = s.fetchErrors
	result.Fallbacks = s.fallbacks
	result.FailedURLs = append([]string(nil), s.failedURLs...)
	result.ErrorsByType = make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		result.ErrorsByType[k] = v
	}
}
