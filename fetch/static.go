package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	bodyKey   = "body"
	statusKey = "status"
)

// Static fetches pages with plain HTTP GETs through a colly collector and
// retries transient failures with exponential backoff.
type Static struct {
	collector *colly.Collector
	opts      Options
	headers   http.Header
	retryOn   map[int]struct{}
	recorder  Recorder
}

// NewStatic builds the HTTP strategy.
func NewStatic(opts Options) (*Static, error) {
	if opts.UserAgent == "" {
		return nil, &ConfigurationError{Reason: "user agent cannot be empty"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryStatuses == nil {
		opts.RetryStatuses = DefaultRetryStatuses
	}

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(opts.Timeout)
	collector.IgnoreRobotsTxt = true
	// Every status reaches OnResponse; do decides what counts as success.
	collector.ParseHTTPErrorResponse = true
	if opts.Transport != nil {
		collector.WithTransport(opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(statusKey, r.StatusCode)
		r.Ctx.Put(bodyKey, string(r.Body))
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(statusKey, r.StatusCode)
		}
	})

	headers := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}
	retryOn := make(map[int]struct{}, len(opts.RetryStatuses))
	for _, code := range opts.RetryStatuses {
		retryOn[code] = struct{}{}
	}

	return &Static{
		collector: collector,
		opts:      opts,
		headers:   headers,
		retryOn:   retryOn,
		recorder:  opts.recorder(),
	}, nil
}

// Mode implements Fetcher.
func (s *Static) Mode() Mode { return ModeStatic }

// Close implements Fetcher.
func (s *Static) Close() error { return nil }

// Fetch issues a GET for pageURL. Retryable statuses and network failures are
// retried up to MaxRetries times; anything left over becomes a *FetchError.
func (s *Static) Fetch(ctx context.Context, pageURL string) (string, error) {
	logger := s.opts.logger("static_fetcher")
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", &FetchError{URL: pageURL, Attempts: attempt - 1, Err: err}
		}

		body, status, err := s.do(pageURL)
		if err == nil {
			return body, nil
		}

		classified := classifyError(err, status)
		s.recorder.IncError(ErrorType(classified))
		if attempt > s.opts.MaxRetries || !s.retryable(status, classified) {
			return "", &FetchError{URL: pageURL, StatusCode: status, Attempts: attempt, Err: classified}
		}

		delay := backoff(s.opts.RetryBackoff, s.opts.RetryBackoffMax, attempt)
		s.recorder.IncRetries()
		logger.Debug("retrying request",
			"url", pageURL,
			"attempt", attempt,
			"status", status,
			"delay", delay,
			"error", classified,
		)
		if err := sleepContext(ctx, delay); err != nil {
			return "", &FetchError{URL: pageURL, StatusCode: status, Attempts: attempt, Err: err}
		}
	}
}

func (s *Static) do(pageURL string) (string, int, error) {
	cctx := colly.NewContext()
	s.recorder.IncRequest("static")
	start := time.Now()
	err := s.collector.Request(http.MethodGet, pageURL, nil, cctx, s.headers.Clone())
	s.recorder.ObserveDuration(time.Since(start))

	status, _ := cctx.GetAny(statusKey).(int)
	if err != nil {
		return "", status, err
	}
	if status < 200 || status > 299 {
		return "", status, fmt.Errorf("http status %d: %s", status, http.StatusText(status))
	}
	return cctx.Get(bodyKey), status, nil
}

func (s *Static) retryable(status int, err error) bool {
	if _, ok := s.retryOn[status]; ok {
		return true
	}
	if status != 0 {
		return false
	}
	var timeout ErrTimeout
	var conn ErrConnection
	return errors.As(err, &timeout) || errors.As(err, &conn)
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
