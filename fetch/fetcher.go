// Package fetch retrieves page markup through interchangeable strategies: a
// plain HTTP fetch with retries, or a headless browser render.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Mode selects a fetch strategy for the whole run.
type Mode string

const (
	ModeStatic Mode = "static"
	ModeRender Mode = "render"
)

// Fetcher returns the markup for a URL or a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Mode() Mode
	Close() error
}

// Recorder receives request telemetry.
type Recorder interface {
	IncRequest(phase string)
	ObserveDuration(d time.Duration)
	IncRetries()
	IncError(errorType string)
}

// DefaultRetryStatuses are the responses the static strategy retries.
var DefaultRetryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Options configures both strategies. Fields a strategy does not use are ignored.
type Options struct {
	UserAgent string
	Headers   map[string]string
	Timeout   time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RetryStatuses   []int
	Transport       http.RoundTripper

	ReadySelector   string
	ReadyTimeout    time.Duration
	SettleDelay     time.Duration
	Headless        bool
	InstallBrowsers bool

	Recorder Recorder
	Logger   *slog.Logger
}

// New builds the fetcher for mode. An unknown mode or an unavailable browser
// runtime yields a *ConfigurationError.
func New(mode Mode, opts Options) (Fetcher, error) {
	switch mode {
	case ModeStatic, "":
		return NewStatic(opts)
	case ModeRender:
		return NewRender(opts)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown fetch mode %q", mode)}
	}
}

func (o Options) recorder() Recorder {
	if o.Recorder == nil {
		return nopRecorder{}
	}
	return o.Recorder
}

func (o Options) logger(component string) *slog.Logger {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

type nopRecorder struct{}

func (nopRecorder) IncRequest(string)             {}
func (nopRecorder) ObserveDuration(time.Duration) {}
func (nopRecorder) IncRetries()                   {}
func (nopRecorder) IncError(string)               {}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
