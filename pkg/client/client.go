// Package client provides the Privlens API client.
//
// The client performs exactly one HTTP exchange per call. Retry pacing,
// backoff and give-up policy live in pkg/poll; errors returned here carry
// everything a retry policy needs (status code, human message, server
// retry hint).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/privlens/sdk/pkg/compress"
	"github.com/privlens/sdk/pkg/core"
	"github.com/privlens/sdk/pkg/errors"
	"github.com/privlens/sdk/pkg/metrics"
	"github.com/privlens/sdk/pkg/scan"
	"github.com/privlens/sdk/pkg/wire"
)

// Client is the Privlens API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	adapter    *wire.Adapter

	// tokens takes precedence over apiKey when set.
	tokens oauth2.TokenSource

	// limiter paces outgoing requests client-side; nil disables pacing.
	limiter *rate.Limiter

	acceptZstd bool
	verbose    bool
	logger     core.Logger
	collector  metrics.Collector
}

// Ensure Client implements core.Service
var _ core.Service = (*Client)(nil)

// Config holds client configuration.
type Config struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	APIVersion string        `yaml:"api_version" json:"api_version"` // "current" (default) or "legacy"
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	Verbose    bool          `yaml:"verbose" json:"verbose"`

	// Client-side request pacing. Zero disables the limiter.
	RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`   // requests per second
	BurstLimit int     `yaml:"burst_limit" json:"burst_limit"` // bucket size, default 1 when RateLimit is set

	// AcceptCompressed asks the server for zstd response bodies.
	AcceptCompressed bool `yaml:"accept_compressed" json:"accept_compressed"`
}

// DefaultConfig returns default client config.
func DefaultConfig() *Config {
	return &Config{
		APIVersion:       wire.DefaultMode.String(),
		Timeout:          30 * time.Second,
		AcceptCompressed: true,
	}
}

// New creates a new Privlens API client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return nil, errors.ErrMissingBaseURL
	}

	mode, err := wire.ParseMode(cfg.APIVersion)
	if err != nil {
		return nil, err
	}
	adapter, err := wire.NewAdapter(mode)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.BurstLimit
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		adapter:    adapter,
		limiter:    limiter,
		acceptZstd: cfg.AcceptCompressed,
		verbose:    cfg.Verbose,
		logger:     core.LoggerFromVerbose("privlens", cfg.Verbose),
		collector:  metrics.GetDefaultCollector(),
	}, nil
}

// =============================================================================
// Functional Options Pattern (AWS SDK style)
// =============================================================================

// Option is a function that configures the client.
type Option func(*Client)

// NewWithOptions creates a new client using functional options.
// Example:
//
//	c, err := client.NewWithOptions(
//	    client.WithBaseURL("https://api.privlens.io"),
//	    client.WithAPIKey("xxx"),
//	    client.WithTimeout(30 * time.Second),
//	)
func NewWithOptions(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		acceptZstd: true,
		logger:     core.GetDefaultLogger(),
		collector:  metrics.GetDefaultCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, errors.ErrMissingBaseURL
	}
	if c.adapter == nil {
		adapter, err := wire.NewAdapter(wire.DefaultMode)
		if err != nil {
			return nil, err
		}
		c.adapter = adapter
	}
	return c, nil
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIKey sets the API key sent as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithMode selects the wire contract version. Invalid modes leave the
// default in place.
func WithMode(mode wire.Mode) Option {
	return func(c *Client) {
		if adapter, err := wire.NewAdapter(mode); err == nil {
			c.adapter = adapter
		}
	}
}

// WithTokenSource authenticates requests with an OAuth2 token source
// instead of a static API key.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithStaticToken authenticates requests with a fixed OAuth2 access token.
func WithStaticToken(token string) Option {
	return WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// WithRateLimit paces outgoing requests to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCollector sets the metrics collector.
func WithCollector(col metrics.Collector) Option {
	return func(c *Client) {
		if col != nil {
			c.collector = col
		}
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(v bool) Option {
	return func(c *Client) {
		c.verbose = v
		c.logger = core.LoggerFromVerbose("privlens", v)
	}
}

// WithoutCompressedResponses stops advertising zstd support to the server.
func WithoutCompressedResponses() Option {
	return func(c *Client) {
		c.acceptZstd = false
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Mode returns the wire contract version in use.
func (c *Client) Mode() wire.Mode {
	return c.adapter.Mode()
}

// SetVerbose sets verbose mode.
func (c *Client) SetVerbose(v bool) {
	c.verbose = v
	c.logger = core.LoggerFromVerbose("privlens", v)
}

// =============================================================================
// Scan Operations
// =============================================================================

// SubmitScan starts a scan of the given website URL. When force is false
// the server may coalesce the request onto a scan already in flight for
// the same URL; Submission.Deduped reports that.
func (c *Client) SubmitScan(ctx context.Context, target string, force bool) (*scan.Submission, error) {
	const op = "client.SubmitScan"

	body, err := c.adapter.EncodeSubmitRequest(target, force)
	if err != nil {
		return nil, err
	}

	data, err := c.request(ctx, http.MethodPost, "submit", c.adapter.SubmitPath(), body)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	sub, err := c.adapter.DecodeSubmit(data)
	if err != nil {
		return nil, err
	}

	c.collector.CounterInc(metrics.ScansSubmittedTotal.Name, strconv.FormatBool(sub.Deduped))
	c.logger.Debug("scan submitted: id=%s slug=%s deduped=%v", sub.ScanID, sub.Slug, sub.Deduped)
	return &sub, nil
}

// ScanStatus fetches the current snapshot of scan scanID.
func (c *Client) ScanStatus(ctx context.Context, scanID string) (*scan.Job, error) {
	const op = "client.ScanStatus"

	if scanID == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "scan id is required")
	}

	data, err := c.request(ctx, http.MethodGet, "status", c.adapter.StatusPath(scanID), nil)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	job, err := c.adapter.DecodeStatus(scanID, data)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Report fetches the finished report published under slug.
func (c *Client) Report(ctx context.Context, slug string) (*scan.Report, error) {
	const op = "client.Report"

	if slug == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "report slug is required")
	}

	data, err := c.request(ctx, http.MethodGet, "report", c.adapter.ReportPath(slug), nil)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	report, err := c.adapter.DecodeReport(data)
	if err != nil {
		return nil, err
	}

	c.collector.CounterInc(metrics.ReportsFetchedTotal.Name, "api")
	return report, nil
}

// RecentReports lists the most recently generated public reports.
func (c *Client) RecentReports(ctx context.Context) ([]scan.RecentReport, error) {
	const op = "client.RecentReports"

	data, err := c.request(ctx, http.MethodGet, "recent", c.adapter.RecentPath(), nil)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	return c.adapter.DecodeRecentReports(data)
}

// Ping tests the API connection by listing recent reports and discarding
// the result.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.request(ctx, http.MethodGet, "recent", c.adapter.RecentPath(), nil); err != nil {
		return errors.Wrap(err, "client.Ping")
	}
	return nil
}

// =============================================================================
// HTTP Envelope
// =============================================================================

// request performs exactly one HTTP exchange and returns the raw response
// body. A failed exchange maps to exactly one error, never to a second
// request; retry policy is the caller's concern.
//
// endpoint is the low-cardinality route label used for metrics, not the
// request path. A nil, nil return means the server answered 2xx with no
// body.
func (c *Client) request(ctx context.Context, method, endpoint, path string, body []byte) ([]byte, error) {
	const op = "client.request"

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.E(errors.KindInvalidInput, op, "create request", err)
	}

	requestID := uuid.New().String()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", core.UserAgent())
	req.Header.Set("X-Request-ID", requestID)
	if c.acceptZstd {
		req.Header.Set("Accept-Encoding", "zstd")
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer(c.collector, metrics.HTTPRequestDuration.Name, method, endpoint)
	resp, err := c.httpClient.Do(req)
	timer.ObserveDuration()
	if err != nil {
		c.collector.CounterInc(metrics.HTTPRequestsTotal.Name, method, endpoint, "error")
		kind := errors.KindNetwork
		if ctx.Err() != nil {
			err = ctx.Err()
			if err == context.DeadlineExceeded {
				kind = errors.KindTimeout
			}
		}
		return nil, errors.E(kind, op, "http request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.collector.CounterInc(metrics.HTTPRequestsTotal.Name, method, endpoint, "error")
		return nil, errors.E(errors.KindNetwork, op, "read response body", err)
	}
	c.collector.CounterInc(metrics.HTTPRequestsTotal.Name, method, endpoint, strconv.Itoa(resp.StatusCode))

	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		decoded, err := compress.DecodeBody(enc, raw)
		if err != nil {
			return nil, errors.E(errors.KindSchema, op, "decode response body", err)
		}
		raw = decoded
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.collector.CounterInc(metrics.RateLimitedTotal.Name)
		}
		httpErr := newHTTPError(resp.StatusCode, resp.Header, raw, requestID)
		c.logger.Warn("%s %s failed: %v", method, path, httpErr)
		return nil, httpErr
	}

	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil, nil
	}
	if isJSONResponse(resp.Header) && !json.Valid(raw) {
		return nil, errors.E(errors.KindSchema, op, "response declared JSON but does not parse")
	}
	return raw, nil
}

// wait blocks on the client-side limiter when one is configured.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.E(errors.KindTimeout, "client.wait", "rate limiter wait", err)
	}
	return nil
}

// authorize sets the Authorization header. An explicit token source wins
// over the static API key.
func (c *Client) authorize(req *http.Request) error {
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return errors.E(errors.KindAuthentication, "client.authorize", "fetch access token", err)
		}
		tok.SetAuthHeader(req)
		return nil
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return nil
}

// isJSONResponse reports whether the response declares a JSON body.
func isJSONResponse(header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "application/json")
}

// =============================================================================
// Failure Envelope
// =============================================================================

// newHTTPError builds the uniform failure for a non-2xx response. The
// message fallback order and the retry-hint precedence live here and only
// here so every endpoint reports failures identically.
func newHTTPError(status int, header http.Header, raw []byte, requestID string) *errors.HTTPError {
	var body map[string]any
	decoded := json.Unmarshal(raw, &body) == nil && body != nil

	httpErr := &errors.HTTPError{
		StatusCode: status,
		Message:    failureMessage(body, raw),
		RequestID:  requestID,
		RetryAfter: retryAfterHint(header, body),
	}
	if decoded {
		httpErr.Body = body
	} else if len(raw) > 0 {
		httpErr.Body = string(raw)
	}
	return httpErr
}

// failureMessage extracts a human-readable message from a failure body.
// Candidate fields are tried in a fixed order; raw text and a generic
// message are the last resorts.
func failureMessage(body map[string]any, raw []byte) string {
	for _, key := range []string{"detail", "title", "error", "message"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "request failed"
}

// retryAfterHint resolves the server retry hint. A Retry-After header in
// whole seconds wins over a retryAfterMs body field.
func retryAfterHint(header http.Header, body map[string]any) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if ms, ok := body["retryAfterMs"].(float64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
