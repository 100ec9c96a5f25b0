package poll

import (
	"time"

	"github.com/privlens/sdk/pkg/errors"
	"github.com/privlens/sdk/pkg/scan"
)

// session carries the counters for one watch. It is owned by exactly one
// watch loop and advanced only through step, so concurrent watches can
// never alias each other's state.
type session struct {
	// dataSeen flips once the first snapshot lands; progress-tiered pacing
	// applies from then on.
	dataSeen bool

	// progress is the highest progress delivered to the caller so far.
	progress int

	// consecutive429 counts back-to-back rate-limit failures. It survives
	// other failure kinds and resets only on a data-bearing success.
	consecutive429 int

	// retries counts transient-failure retries in the current dry spell.
	retries int

	// lastSuccess is the time of the last data-bearing response, seeded
	// with the watch start so a session that never succeeds still hits the
	// give-up window.
	lastSuccess time.Time
}

func newSession(start time.Time) session {
	return session{lastSuccess: start}
}

// decision is the reducer verdict for one status exchange.
type decision struct {
	emit  bool      // deliver job to the caller
	job   *scan.Job // snapshot to deliver when emit is set
	final bool      // the watch is over
	err   error     // terminal error, only when final

	// delay paces the next request; meaningful only when !final.
	delay time.Duration

	// result is the metrics label for this exchange, doubling as the
	// session outcome label when final.
	result string
}

// step advances the session with the outcome of one status exchange.
// States are observed, never invented: every transition delivered to the
// caller came from a server response.
func step(cfg *Config, s session, job *scan.Job, err error, now time.Time) (session, decision) {
	if err == nil {
		return stepSuccess(cfg, s, job, now)
	}

	switch {
	case errors.IsNotFoundError(err):
		// An unknown scan id never becomes known by asking again.
		return s, decision{final: true, err: err, result: "not_found"}

	case errors.IsRateLimitError(err):
		s.consecutive429++
		if now.Sub(s.lastSuccess) > cfg.ExhaustionWindow {
			return s, decision{final: true, err: errors.ErrRateLimitExhausted, result: "rate_limit_exhausted"}
		}
		return s, decision{delay: cfg.RateLimitBackoff(s.consecutive429), result: "rate_limited"}

	default:
		s.retries++
		if s.retries > cfg.MaxRetries {
			return s, decision{final: true, err: err, result: "error"}
		}
		return s, decision{delay: cfg.RetryDelay(s.retries), result: "error"}
	}
}

func stepSuccess(cfg *Config, s session, job *scan.Job, now time.Time) (session, decision) {
	// The failure counters and the success clock reset together; resetting
	// one without the others would leak a stale counter into the next
	// failure spell.
	s.consecutive429 = 0
	s.retries = 0
	s.lastSuccess = now

	stale := s.dataSeen && job.Progress < s.progress
	if job.Progress > s.progress {
		s.progress = job.Progress
	}
	s.dataSeen = true

	if job.State.IsTerminal() {
		// Terminal snapshots always reach the caller. Progress is floored
		// at the last delivered value so the observed sequence stays
		// non-decreasing even when the final body omits progress.
		if job.Progress < s.progress {
			lifted := *job
			lifted.Progress = s.progress
			job = &lifted
		}
		return s, decision{emit: true, job: job, final: true, result: "ok"}
	}

	if stale {
		return s, decision{delay: cfg.PollInterval(true, s.progress), result: "stale"}
	}
	return s, decision{emit: true, job: job, delay: cfg.PollInterval(true, s.progress), result: "ok"}
}
