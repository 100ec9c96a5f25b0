// Package health runs local diagnostics for the Privlens client.
//
// A Runner executes registered Checkers and aggregates their results into
// a Report. Built-in checks cover API reachability, free disk space under
// the report cache, and cache database integrity. The doctor command
// prints the Report; long-running commands can serve it over HTTP next to
// the metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/privlens/sdk/pkg/cache"
	"github.com/privlens/sdk/pkg/errors"
)

// =============================================================================
// Checker Interface
// =============================================================================

// Checker is a single named diagnostic.
type Checker interface {
	// Name identifies the check in reports.
	Name() string

	// Check performs the diagnostic. Implementations honor ctx and report
	// failures through the Result rather than returning an error.
	Check(ctx context.Context) Result
}

// funcCheck adapts a plain function into a named Checker.
type funcCheck struct {
	name string
	fn   func(ctx context.Context) Result
}

func (c *funcCheck) Name() string                     { return c.name }
func (c *funcCheck) Check(ctx context.Context) Result { return c.fn(ctx) }

// =============================================================================
// Status Types
// =============================================================================

// Status classifies a check outcome.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result holds the outcome of one check.
type Result struct {
	// Name is the check name, stamped by the Runner.
	Name string `json:"name"`

	// Status is the check verdict.
	Status Status `json:"status"`

	// Message provides additional details.
	Message string `json:"message,omitempty"`

	// Error is the failure description when the check did not pass.
	Error string `json:"error,omitempty"`

	// DurationMS is how long the check took, in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Metadata holds check-specific data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Report is the aggregated outcome of a diagnostics run.
type Report struct {
	// Status is the overall verdict: unhealthy if any check is unhealthy,
	// degraded if any check is degraded, healthy otherwise. Unknown
	// results do not affect the overall verdict.
	Status Status `json:"status"`

	// Version is the client version the diagnostics ran under.
	Version string `json:"version,omitempty"`

	// Timestamp is when the run finished.
	Timestamp time.Time `json:"timestamp"`

	// Checks lists individual results in registration order.
	Checks []Result `json:"checks"`
}

// =============================================================================
// Runner
// =============================================================================

// DefaultTimeout bounds a whole diagnostics run.
const DefaultTimeout = 10 * time.Second

// Runner executes registered checks and aggregates their results.
type Runner struct {
	mu      sync.Mutex
	checks  []Checker
	timeout time.Duration
	version string
}

// Option configures a Runner.
type Option func(*Runner)

// WithVersion stamps reports with the given version string.
func WithVersion(version string) Option {
	return func(r *Runner) { r.version = version }
}

// WithTimeout bounds the diagnostics run. Zero keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRunner creates a Runner with no checks registered.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a check. Checks run and report in registration order.
func (r *Runner) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// RegisterFunc appends a check implemented by a plain function.
func (r *Runner) RegisterFunc(name string, fn func(ctx context.Context) Result) {
	r.Register(&funcCheck{name: name, fn: fn})
}

// Run executes all checks concurrently and aggregates their results.
func (r *Runner) Run(ctx context.Context) Report {
	r.mu.Lock()
	checks := make([]Checker, len(r.checks))
	copy(checks, r.checks)
	timeout := r.timeout
	version := r.version
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()

			start := time.Now()
			res := c.Check(ctx)
			res.Name = c.Name()
			res.DurationMS = time.Since(start).Milliseconds()
			if res.Status == "" {
				res.Status = StatusUnknown
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Report{
		Status:    overall,
		Version:   version,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	}
}

// Handler returns an HTTP handler that runs the checks and serves the
// Report as JSON. Unhealthy reports are served with 503 so the endpoint
// doubles as a probe target.
func (r *Runner) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}

// =============================================================================
// Built-in Checks
// =============================================================================

// Pinger is the part of the API client the reachability check uses.
// *client.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APICheck verifies the Privlens API answers authenticated requests.
type APICheck struct {
	// API issues the probe request. Usually a *client.Client.
	API Pinger

	// Target names the probed endpoint in report metadata.
	Target string
}

func (c *APICheck) Name() string { return "api" }

func (c *APICheck) Check(ctx context.Context) Result {
	result := Result{}
	if c.Target != "" {
		result.Metadata = map[string]any{"target": c.Target}
	}

	if c.API == nil {
		result.Status = StatusUnknown
		result.Message = "no API client configured"
		return result
	}

	err := c.API.Ping(ctx)
	switch {
	case err == nil:
		result.Status = StatusHealthy
		result.Message = "API reachable"
	case errors.IsAuthenticationError(err) || errors.IsAuthorizationError(err):
		// The service answered, so the wire is fine; the key is not.
		result.Status = StatusDegraded
		result.Message = "API reachable, credentials rejected"
		result.Error = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// DiskCheck verifies the filesystem holding the report cache has free
// space. Platforms without statfs report StatusUnknown.
type DiskCheck struct {
	// Path is the directory to stat. Defaults to the filesystem root.
	Path string

	// MinFreeBytes marks the check degraded below this many free bytes.
	// Low space degrades rather than fails: the client still works, the
	// cache just stops absorbing new reports.
	MinFreeBytes int64

	// MinFreePercent marks the check degraded below this free percentage
	// (0-100). Takes precedence over MinFreeBytes when set.
	MinFreePercent float64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Check(ctx context.Context) Result {
	result := Result{Metadata: make(map[string]any)}

	path := c.Path
	if path == "" {
		path = "/"
	}
	result.Metadata["path"] = path

	if !diskStatsSupported {
		result.Status = StatusUnknown
		result.Message = fmt.Sprintf("disk space stats unavailable on %s", runtime.GOOS)
		result.Metadata["platform"] = runtime.GOOS
		return result
	}

	total, free, err := diskFree(path)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("stat %s: %v", path, err)
		return result
	}

	freePercent := float64(free) / float64(total) * 100
	result.Metadata["total_bytes"] = total
	result.Metadata["free_bytes"] = free
	result.Metadata["free_percent"] = fmt.Sprintf("%.2f%%", freePercent)

	switch {
	case c.MinFreePercent > 0 && freePercent < c.MinFreePercent:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("free space %.2f%% is below %.2f%%", freePercent, c.MinFreePercent)
	case c.MinFreePercent <= 0 && c.MinFreeBytes > 0 && free < uint64(c.MinFreeBytes):
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("free space %d bytes is below %d bytes", free, c.MinFreeBytes)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%.2f%% free", freePercent)
	}
	return result
}

// CacheStore is the part of the report cache the integrity check uses.
// *cache.Store implements it.
type CacheStore interface {
	Check(ctx context.Context) error
	Stats(ctx context.Context) (*cache.Stats, error)
	Path() string
}

// CacheCheck verifies the local report cache passes its integrity check.
type CacheCheck struct {
	Store CacheStore
}

func (c *CacheCheck) Name() string { return "cache" }

func (c *CacheCheck) Check(ctx context.Context) Result {
	result := Result{}
	if c.Store == nil {
		result.Status = StatusUnknown
		result.Message = "cache not configured"
		return result
	}

	result.Metadata = map[string]any{"path": c.Store.Path()}

	if err := c.Store.Check(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}

	result.Status = StatusHealthy
	result.Message = "integrity ok"
	if stats, err := c.Store.Stats(ctx); err == nil {
		result.Metadata["reports"] = stats.Reports
		result.Metadata["payload_bytes"] = stats.PayloadBytes
		result.Message = fmt.Sprintf("integrity ok, %d reports cached", stats.Reports)
	}
	return result
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ Checker = (*APICheck)(nil)
	_ Checker = (*DiskCheck)(nil)
	_ Checker = (*CacheCheck)(nil)
	_ Checker = (*funcCheck)(nil)
)
