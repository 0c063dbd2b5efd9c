package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "shop.test"}, statusCode: 0, expected: "connection"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "bad gateway", err: errors.New("Bad Gateway"), statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := ErrNotFound{Err: errors.New("Not Found")}
	err := fmt.Errorf("listing: %w", &FetchError{URL: "https://shop.test/x", StatusCode: 404, Attempts: 1, Err: cause})

	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound in chain: %v", err)
	}
	if got := ErrorType(err); got != "not_found" {
		t.Fatalf("ErrorType = %q, want not_found", got)
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Reason: "launch chromium", Err: errors.New("executable missing")}
	if got := err.Error(); got != "configuration: launch chromium: executable missing" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("expected configuration error to unwrap")
	}
}
