// Package poll drives a submitted scan to its terminal state.
//
// The watcher is a reducer over server status snapshots: lifecycle states
// are observed, never invented locally. All retry, backoff and give-up
// policy for status polling lives here; the HTTP client below performs
// exactly one exchange per request.
package poll

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/privlens/sdk/pkg/core"
	"github.com/privlens/sdk/pkg/errors"
	"github.com/privlens/sdk/pkg/metrics"
	"github.com/privlens/sdk/pkg/scan"
)

// StatusFetcher is the slice of the API client the watcher needs.
type StatusFetcher interface {
	ScanStatus(ctx context.Context, scanID string) (*scan.Job, error)
}

// Pacing and retry policy defaults.
const (
	// DefaultPreDataInterval paces polling until the first snapshot lands.
	DefaultPreDataInterval = 2 * time.Second

	// Progress-tiered intervals once data is known.
	DefaultEarlyInterval = 3 * time.Second         // progress < 30
	DefaultMidInterval   = 2500 * time.Millisecond // 30 <= progress < 70
	DefaultLateInterval  = 2 * time.Second         // progress >= 70

	// Rate-limit backoff doubles per consecutive 429, capped.
	DefaultRateLimitBase = 2 * time.Second
	DefaultRateLimitCap  = 15 * time.Second

	// DefaultExhaustionWindow bounds how long 429 retries may continue
	// without a data-bearing success before the watch gives up.
	DefaultExhaustionWindow = 5 * time.Minute

	// Transient-failure retry delays: min(base * 2^attempt, cap).
	DefaultRetryBase = 1 * time.Second
	DefaultRetryCap  = 5 * time.Second

	// DefaultMaxRetries bounds transient-failure retries per dry spell.
	DefaultMaxRetries = 3
)

// Progress tier boundaries.
const (
	earlyProgressCeiling = 30
	lateProgressFloor    = 70
)

// Config holds watcher pacing and retry policy.
type Config struct {
	PreDataInterval time.Duration `yaml:"pre_data_interval" json:"pre_data_interval"`
	EarlyInterval   time.Duration `yaml:"early_interval" json:"early_interval"`
	MidInterval     time.Duration `yaml:"mid_interval" json:"mid_interval"`
	LateInterval    time.Duration `yaml:"late_interval" json:"late_interval"`

	RateLimitBase    time.Duration `yaml:"rate_limit_base" json:"rate_limit_base"`
	RateLimitCap     time.Duration `yaml:"rate_limit_cap" json:"rate_limit_cap"`
	ExhaustionWindow time.Duration `yaml:"exhaustion_window" json:"exhaustion_window"`

	RetryBase  time.Duration `yaml:"retry_base" json:"retry_base"`
	RetryCap   time.Duration `yaml:"retry_cap" json:"retry_cap"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`

	// Jitter widens each delay by a random factor in [1-j, 1+j].
	// Zero keeps delays exact.
	Jitter float64 `yaml:"jitter" json:"jitter"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// DefaultConfig returns the default polling policy.
func DefaultConfig() *Config {
	return &Config{
		PreDataInterval:  DefaultPreDataInterval,
		EarlyInterval:    DefaultEarlyInterval,
		MidInterval:      DefaultMidInterval,
		LateInterval:     DefaultLateInterval,
		RateLimitBase:    DefaultRateLimitBase,
		RateLimitCap:     DefaultRateLimitCap,
		ExhaustionWindow: DefaultExhaustionWindow,
		RetryBase:        DefaultRetryBase,
		RetryCap:         DefaultRetryCap,
		MaxRetries:       DefaultMaxRetries,
	}
}

// PollInterval returns the pacing delay before the next status request.
func (c *Config) PollInterval(dataSeen bool, progress int) time.Duration {
	if !dataSeen {
		return c.PreDataInterval
	}
	switch {
	case progress < earlyProgressCeiling:
		return c.EarlyInterval
	case progress < lateProgressFloor:
		return c.MidInterval
	default:
		return c.LateInterval
	}
}

// RateLimitBackoff returns the delay after the nth consecutive rate-limit
// failure: min(base * 2^(n-1), cap).
func (c *Config) RateLimitBackoff(consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	if d := float64(c.RateLimitBase) * math.Pow(2, float64(consecutive-1)); d < float64(c.RateLimitCap) {
		return time.Duration(d)
	}
	return c.RateLimitCap
}

// RetryDelay returns the delay before transient retry number attempt
// (1-based): min(base * 2^attempt, cap).
func (c *Config) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if d := float64(c.RetryBase) * math.Pow(2, float64(attempt)); d < float64(c.RetryCap) {
		return time.Duration(d)
	}
	return c.RetryCap
}

// jittered widens d by the configured jitter factor.
func (c *Config) jittered(d time.Duration) time.Duration {
	if c.Jitter <= 0 || d <= 0 {
		return d
	}
	j := math.Min(c.Jitter, 1)
	spread := (rand.Float64()*2 - 1) * j * float64(d)
	return time.Duration(float64(d) + spread)
}

// Update is one event delivered by a watch: a snapshot or the terminal
// error that ended the watch. Exactly one field is set.
type Update struct {
	Job *scan.Job
	Err error
}

// Watcher drives scans to completion against a status endpoint.
// Watches are independent; a single Watcher may run any number of them
// concurrently.
type Watcher struct {
	client    StatusFetcher
	cfg       *Config
	logger    core.Logger
	collector metrics.Collector
}

// NewWatcher creates a watcher. A nil cfg uses DefaultConfig; zero fields
// in a partial cfg fall back to their defaults.
func NewWatcher(client StatusFetcher, cfg *Config) *Watcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.PreDataInterval <= 0 {
		cfg.PreDataInterval = def.PreDataInterval
	}
	if cfg.EarlyInterval <= 0 {
		cfg.EarlyInterval = def.EarlyInterval
	}
	if cfg.MidInterval <= 0 {
		cfg.MidInterval = def.MidInterval
	}
	if cfg.LateInterval <= 0 {
		cfg.LateInterval = def.LateInterval
	}
	if cfg.RateLimitBase <= 0 {
		cfg.RateLimitBase = def.RateLimitBase
	}
	if cfg.RateLimitCap <= 0 {
		cfg.RateLimitCap = def.RateLimitCap
	}
	if cfg.ExhaustionWindow <= 0 {
		cfg.ExhaustionWindow = def.ExhaustionWindow
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = def.RetryCap
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	return &Watcher{
		client:    client,
		cfg:       cfg,
		logger:    core.LoggerFromVerbose("poll", cfg.Verbose),
		collector: metrics.GetDefaultCollector(),
	}
}

// SetLogger replaces the watcher's logger.
func (w *Watcher) SetLogger(l core.Logger) {
	if l != nil {
		w.logger = l
	}
}

// SetCollector replaces the watcher's metrics collector.
func (w *Watcher) SetCollector(col metrics.Collector) {
	if col != nil {
		w.collector = col
	}
}

// Watch polls scanID until it reaches a terminal state, the retry policy
// gives up, or ctx is canceled. The returned channel delivers snapshots
// with non-decreasing progress and closes when the watch ends. A policy
// give-up arrives as a final Update with Err set; cancellation closes the
// channel silently, discarding any response that was in flight.
func (w *Watcher) Watch(ctx context.Context, scanID string) <-chan Update {
	updates := make(chan Update, 1)
	go func() {
		defer close(updates)
		w.collector.GaugeInc(metrics.PollActiveSessions.Name)
		defer w.collector.GaugeDec(metrics.PollActiveSessions.Name)

		outcome := w.run(ctx, scanID, updates)
		w.collector.CounterInc(metrics.PollSessionsTotal.Name, outcome)
	}()
	return updates
}

// run is the watch loop. It returns the session outcome label.
func (w *Watcher) run(ctx context.Context, scanID string, updates chan<- Update) string {
	s := newSession(time.Now())

	// The first request waits out the pre-data interval; a scan submitted
	// a moment ago has nothing to report yet.
	delay := w.cfg.PollInterval(false, 0)

	for {
		w.collector.HistogramObserve(metrics.PollBackoffSeconds.Name, delay.Seconds())
		timer := time.NewTimer(w.cfg.jittered(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "canceled"
		case <-timer.C:
		}

		job, err := w.client.ScanStatus(ctx, scanID)
		if ctx.Err() != nil {
			// The watch raced cancellation; whatever arrived is discarded.
			return "canceled"
		}

		var d decision
		s, d = step(w.cfg, s, job, err, time.Now())
		w.collector.CounterInc(metrics.PollRequestsTotal.Name, d.result)

		if d.emit {
			select {
			case updates <- Update{Job: d.job}:
			case <-ctx.Done():
				return "canceled"
			}
		}

		if d.final {
			if d.err != nil {
				w.logger.Warn("watch %s gave up: %v", scanID, d.err)
				select {
				case updates <- Update{Err: d.err}:
				case <-ctx.Done():
					return "canceled"
				}
				return d.result
			}
			w.logger.Debug("watch %s reached %s at %d%%", scanID, d.job.State, d.job.Progress)
			return "completed"
		}

		delay = d.delay
	}
}

// Wait drives scanID to completion and returns the terminal snapshot. It
// is the blocking convenience over Watch; every intermediate snapshot is
// passed to onProgress when non-nil. A scan that finishes in the error
// state is a completed watch: the snapshot is returned and the caller
// inspects Job.State.
func (w *Watcher) Wait(ctx context.Context, scanID string, onProgress func(*scan.Job)) (*scan.Job, error) {
	var last *scan.Job
	for u := range w.Watch(ctx, scanID) {
		if u.Err != nil {
			return nil, u.Err
		}
		last = u.Job
		if onProgress != nil {
			onProgress(u.Job)
		}
	}
	if last != nil && last.State.IsTerminal() {
		return last, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errors.E(errors.KindInternal, "poll.Wait", "watch ended without a terminal snapshot")
}
