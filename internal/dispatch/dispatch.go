// Package dispatch delivers queued items to the backend over HTTP.
//
// A dispatcher makes exactly one attempt per call. Retry policy lives
// with the caller; this package only reports whether a single delivery
// succeeded and why it failed when it did not.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jdelhommeau/pointd/internal/credentials"
	"github.com/jdelhommeau/pointd/internal/queue"
)

// maxErrorBody caps how much of a response body is kept in error
// diagnostics.
const maxErrorBody = 512

// DeliveryError describes one failed delivery attempt. A zero
// StatusCode means the request never produced a response, for example
// a timeout, DNS failure, or missing credentials.
type DeliveryError struct {
	StatusCode int
	Cause      error
}

// Error returns a human-readable description of the failure.
func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed with status %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("delivery failed: %v", e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Config holds configuration for the HTTP dispatcher.
type Config struct {
	// BaseURL prefixes relative item endpoints, e.g. https://api.example.com.
	BaseURL string

	// Credentials supplies the bearer token for each request.
	Credentials credentials.Provider

	// Client overrides the HTTP client. Defaults to a 30s timeout.
	Client *http.Client

	// UserAgent is sent with every request.
	UserAgent string
}

// HTTP delivers items with single-attempt HTTP requests.
type HTTP struct {
	baseURL   string
	creds     credentials.Provider
	client    *http.Client
	userAgent string
}

// NewHTTP creates a dispatcher from config.
func NewHTTP(cfg Config) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credentials provider is required")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "pointd"
	}

	return &HTTP{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		creds:     cfg.Credentials,
		client:    client,
		userAgent: userAgent,
	}, nil
}

// Dispatch makes one delivery attempt for an item. Any 2xx response is
// success. Everything else, including credential and transport
// failures, comes back as a *DeliveryError.
func (h *HTTP) Dispatch(ctx context.Context, item *queue.Item) error {
	token, err := h.creds.Token(ctx)
	if err != nil {
		return &DeliveryError{Cause: fmt.Errorf("failed to load credentials: %w", err)}
	}

	var body io.Reader
	if len(item.Payload) > 0 && string(item.Payload) != "{}" {
		body = bytes.NewReader(item.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, item.Method, h.resolveURL(item.Endpoint), body)
	if err != nil {
		return &DeliveryError{Cause: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &DeliveryError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Cause:      fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
	}
}

// resolveURL joins a relative endpoint onto the base URL. Absolute
// endpoints pass through untouched.
func (h *HTTP) resolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return h.baseURL + endpoint
}
