package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Render loads pages in a headless Chromium so client-side rendered listings
// are captured after their product links appear.
type Render struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	opts     Options
	recorder Recorder
}

// NewRender starts the browser runtime. A missing driver or browser yields a
// *ConfigurationError so the run can stop before any fetch.
func NewRender(opts Options) (*Render, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 20 * time.Second
	}

	if opts.InstallBrowsers {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, &ConfigurationError{Reason: "install browser runtime", Err: err}
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, &ConfigurationError{Reason: "rendering requested but the browser runtime is unavailable", Err: err}
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-dev-shm-usage", "--no-sandbox"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, &ConfigurationError{Reason: "launch chromium", Err: err}
	}

	return &Render{
		pw:       pw,
		browser:  browser,
		opts:     opts,
		recorder: opts.recorder(),
	}, nil
}

// Mode implements Fetcher.
func (r *Render) Mode() Mode { return ModeRender }

// Fetch navigates to pageURL and returns the rendered markup. Only navigation
// failures are errors; a readiness wait that times out still returns whatever
// markup was produced.
func (r *Render) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{URL: pageURL, Err: err}
	}
	logger := r.opts.logger("render_fetcher")

	r.recorder.IncRequest("render")
	start := time.Now()
	defer func() { r.recorder.ObserveDuration(time.Since(start)) }()

	bctx, err := r.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(r.opts.UserAgent),
		ExtraHttpHeaders: r.opts.Headers,
	})
	if err != nil {
		return "", r.fail(pageURL, 0, fmt.Errorf("new browser context: %w", err))
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return "", r.fail(pageURL, 0, fmt.Errorf("new page: %w", err))
	}

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(r.opts.Timeout)),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return "", r.fail(pageURL, 0, ErrTimeout{Err: err})
		}
		return "", r.fail(pageURL, 0, ErrConnection{Err: err})
	}
	if resp != nil && resp.Status() >= http.StatusBadRequest {
		status := resp.Status()
		return "", r.fail(pageURL, status, classifyError(fmt.Errorf("navigation returned %d", status), status))
	}

	if r.opts.ReadySelector != "" {
		_, err := page.WaitForSelector(r.opts.ReadySelector, playwright.PageWaitForSelectorOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(millis(r.opts.ReadyTimeout)),
		})
		switch {
		case err != nil:
			logger.Warn("ready selector not visible, capturing partial markup",
				"url", pageURL,
				"selector", r.opts.ReadySelector,
				"timeout", errors.Is(err, playwright.ErrTimeout),
				"error", err,
			)
		case r.opts.SettleDelay > 0:
			if err := sleepContext(ctx, r.opts.SettleDelay); err != nil {
				return "", &FetchError{URL: pageURL, Attempts: 1, Err: err}
			}
		}
	}

	markup, err := page.Content()
	if err != nil {
		return "", r.fail(pageURL, 0, fmt.Errorf("read page content: %w", err))
	}
	return markup, nil
}

// Close shuts down the browser and its driver.
func (r *Render) Close() error {
	var errs []error
	if r.browser != nil {
		errs = append(errs, r.browser.Close())
	}
	if r.pw != nil {
		errs = append(errs, r.pw.Stop())
	}
	return errors.Join(errs...)
}

func (r *Render) fail(pageURL string, status int, err error) error {
	r.recorder.IncError(ErrorType(err))
	return &FetchError{URL: pageURL, StatusCode: status, Attempts: 1, Err: err}
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
