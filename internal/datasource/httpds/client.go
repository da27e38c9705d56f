// Package httpds implements the HTTP source adapter: a small client shared by
// remote dataset fetches and the REST sink, and the Remote source that streams
// a dataset file from a URL.
//
// The client sends every request exactly once. Transient statuses (429, 5xx)
// come back as a *StatusError carrying any Retry-After delay, so the caller
// that owns the retry policy can honour it.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultUserAgent is sent when neither BaseHeaders nor the request set one.
// Some open-data portals reject Go's default agent.
const DefaultUserAgent = "ecoetl/0.1"

// Config configures the HTTP client. A zero Timeout means 30s.
type Config struct {
	// Timeout bounds a whole exchange, including reading the body.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification. Some
	// government portals serve broken certificate chains.
	InsecureSkipVerify bool

	// BaseHeaders are headers added to every request. Per-request headers
	// take precedence.
	BaseHeaders http.Header

	// Transport is an optional custom RoundTripper. When nil, a default
	// *http.Transport is constructed based on the TLS settings.
	Transport http.RoundTripper

	// Logger receives one line per transient status. Nil means slog.Default().
	Logger *slog.Logger
}

// StatusError reports a transient response status: 429 or 5xx.
type StatusError struct {
	Method string
	URL    string
	Code   int
	// RetryAfter is the delay the server asked for, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("httpds: %s %s: status %d (retry after %s)", e.Method, e.URL, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("httpds: %s %s: status %d", e.Method, e.URL, e.Code)
}

// Client wraps an http.Client with default headers and status classification.
type Client struct {
	httpClient  *http.Client
	baseHeaders http.Header
	log         *slog.Logger
	now         func() time.Time
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	headers := cfg.BaseHeaders.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", DefaultUserAgent)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseHeaders: headers,
		log:         cfg.Logger.With("component", "httpds"),
		now:         time.Now,
	}
}

// Do sends one HTTP request with the given method, URL, and optional body.
//
// A transient status (429, 5xx) is returned as a *StatusError with the body
// already closed. Any other status returns the response, whose non-nil Body
// the caller must close.
func (c *Client) Do(
	ctx context.Context,
	method, url string,
	body []byte,
	headers http.Header,
) (*http.Response, error) {
	if method == "" {
		return nil, fmt.Errorf("httpds: method must not be empty")
	}
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if !isTransientStatus(resp.StatusCode) {
		return resp, nil
	}
	_ = resp.Body.Close()
	se := &StatusError{Method: method, URL: url, Code: resp.StatusCode}
	if d, ok := retryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
		se.RetryAfter = d
	}
	c.log.Warn("transient status", "method", method, "url", url, "status", se.Code, "retry_after", se.RetryAfter)
	return nil, se
}

// Get is a convenience wrapper over Do for HTTP GET. The caller must close
// the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// Post is a convenience wrapper over Do for HTTP POST. The caller must close
// the response body.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, headers)
}

// Delete is a convenience wrapper over Do for HTTP DELETE. The caller must
// close the response body.
func (c *Client) Delete(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil, headers)
}

// isTransientStatus treats 5xx and 429 as transient; everything else is final.
func isTransientStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// retryAfter parses a Retry-After value given either as delay seconds or as
// an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return max(t.Sub(now), 0), true
}
