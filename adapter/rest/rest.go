// Package rest implements an HTTP JSON dispatcher for the LMS API and the
// search index.
//
// Each request is sent once. Non-2xx responses are returned as *StatusError
// so the sequencer can record the status and body as a step failure;
// recovery is re-running the migration, never an in-process retry.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/iox"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response body is kept.
const maxBody = 1 << 20

// Config configures the dispatcher.
type Config struct {
	// BaseURL is prefixed to relative request targets (required).
	BaseURL string
	// Headers are added to every request before the request's own headers.
	Headers map[string]string
	// Timeout is the per-request timeout (default 15s).
	Timeout time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Dispatcher sends JSON requests over HTTP.
type Dispatcher struct {
	config Config
	client *http.Client
}

// New creates a dispatcher from the given config.
// Returns an error if the base URL is empty.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest dispatcher requires a base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Dispatcher{config: cfg, client: client}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// URL resolves a request target against the base URL.
func (d *Dispatcher) URL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return d.config.BaseURL + target
}

// Dispatch performs a single HTTP request and returns nil on 2xx.
func (d *Dispatcher) Dispatch(ctx context.Context, r types.Request) (types.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.URL(r.Target), body)
	if err != nil {
		return types.Response{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return types.Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	// Drain the rest to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	out := types.Response{Status: resp.StatusCode, Body: data}
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return out, nil
}

// Close releases idle connections.
func (d *Dispatcher) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// Verify Dispatcher implements the adapter interface.
var _ adapter.Dispatcher = (*Dispatcher)(nil)
