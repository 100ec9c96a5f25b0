// Command privlens is the command-line interface for the Privlens website
// privacy scanner. It submits scan jobs, watches them to completion, fetches
// and renders privacy reports, and keeps a local report cache so finished
// reports stay readable offline.
//
// Usage:
//
//	privlens scan [flags] <url>      submit a scan and wait for the report
//	privlens status [flags] <id>     print the current state of a scan
//	privlens report [flags] <slug>   fetch a finished report by slug
//	privlens recent [flags]          list recently completed reports
//	privlens doctor [flags]          run local diagnostics
//	privlens version                 print the version
//
// Connection settings come from flags or PRIVLENS_* environment variables;
// the API key additionally falls back to the credentials store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/privlens/sdk/pkg/audit"
	"github.com/privlens/sdk/pkg/cache"
	"github.com/privlens/sdk/pkg/client"
	"github.com/privlens/sdk/pkg/core"
	"github.com/privlens/sdk/pkg/credentials"
	"github.com/privlens/sdk/pkg/health"
	"github.com/privlens/sdk/pkg/metrics"
	"github.com/privlens/sdk/pkg/poll"
	"github.com/privlens/sdk/pkg/scan"
	"github.com/privlens/sdk/pkg/score"
)

const (
	appName        = "privlens"
	defaultBaseURL = "https://api.privlens.io"

	// Free space required under the cache directory before doctor degrades.
	minCacheFreeBytes = 50 << 20

	recentLimit = 20

	separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "-version", "--version":
		fmt.Printf("%s %s\n", appName, core.Version)
		return
	case "help", "-h", "-help", "--help":
		usage()
		return
	}

	var run func(ctx context.Context, a *app, args []string) error
	switch cmd {
	case "scan":
		run = runScan
	case "status":
		run = runStatus
	case "report":
		run = runReport
	case "recent":
		run = runRecent
	case "doctor":
		run = runDoctor
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	var opts options
	fs := newFlagSet(cmd, &opts)
	fs.Parse(args)

	a, err := newApp(ctx, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Close before exiting so buffered audit events reach disk even on
	// failed runs; those are the runs worth auditing.
	err = run(ctx, a, fs.Args())
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s %s

Usage:
  %s <command> [flags] [args]

Commands:
  scan <url>      submit a privacy scan and wait for the report
  status <id>     print the current state of a scan
  report <slug>   fetch a finished report by slug
  recent          list recently completed reports
  doctor          run local diagnostics
  version         print the version

Flags (after the command):
  -base-url       service base URL (env PRIVLENS_BASE_URL)
  -api-version    API contract version, legacy or current (env PRIVLENS_API_VERSION)
  -api-key        API key (env PRIVLENS_API_KEY or the credentials store)
  -verbose        verbose logging to stderr
  -force          bypass the report cache and scan deduplication
  -json           print results as JSON
  -cache-dir      report cache directory
  -audit-log      audit log path (empty disables auditing)
  -metrics-addr   serve Prometheus metrics and health on this address
`, appName, core.Version, appName)
}

// =============================================================================
// Options
// =============================================================================

type options struct {
	baseURL     string
	apiVersion  string
	apiKey      string
	verbose     bool
	force       bool
	jsonOut     bool
	cacheDir    string
	auditLog    string
	metricsAddr string
}

func newFlagSet(name string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&opts.baseURL, "base-url", "", "service base URL (env PRIVLENS_BASE_URL)")
	fs.StringVar(&opts.apiVersion, "api-version", "", "API contract version, legacy or current (env PRIVLENS_API_VERSION)")
	fs.StringVar(&opts.apiKey, "api-key", "", "API key (env PRIVLENS_API_KEY or the credentials store)")
	fs.BoolVar(&opts.verbose, "verbose", false, "verbose logging to stderr")
	fs.BoolVar(&opts.force, "force", false, "bypass the report cache and scan deduplication")
	fs.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "report cache directory (default "+filepath.Dir(cache.DefaultPath())+")")
	fs.StringVar(&opts.auditLog, "audit-log", audit.DefaultPath(), "audit log path (empty disables auditing)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics and health on this address (e.g. :9090)")
	return fs
}

func getEnvOrFlag(flagVal, envName string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envName)
}

// =============================================================================
// App Wiring
// =============================================================================

// app bundles the pieces a subcommand may need. The cache store and the
// audit logger are optional: a nil store or logger means the feature is
// unavailable and subcommands skip it.
type app struct {
	opts   *options
	client *client.Client
	store  *cache.Store
	audit  *audit.Logger
	health *health.Runner
	msrv   *http.Server
}

func newApp(ctx context.Context, opts *options) (*app, error) {
	opts.baseURL = getEnvOrFlag(opts.baseURL, "PRIVLENS_BASE_URL")
	if opts.baseURL == "" {
		opts.baseURL = defaultBaseURL
	}
	opts.apiVersion = getEnvOrFlag(opts.apiVersion, "PRIVLENS_API_VERSION")

	// The collector must be in place before the client and the cache are
	// built; both capture the default collector at construction.
	collector := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{
		Namespace:              "privlens",
		Subsystem:              "cli",
		RegisterDefaultMetrics: true,
	})
	metrics.SetDefaultCollector(collector)

	apiKey, err := credentials.ResolveAPIKey(ctx, opts.apiKey, credentials.DefaultChain())
	if err != nil {
		if !errors.Is(err, credentials.ErrCredentialNotFound) {
			return nil, fmt.Errorf("resolve API key: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Warning: no API key configured; the service may reject requests")
	}

	c, err := client.New(&client.Config{
		BaseURL:    opts.baseURL,
		APIKey:     apiKey,
		APIVersion: opts.apiVersion,
		Verbose:    opts.verbose,
	})
	if err != nil {
		return nil, err
	}

	cacheCfg := cache.DefaultConfig()
	if opts.cacheDir != "" {
		cacheCfg.Path = filepath.Join(opts.cacheDir, cache.DefaultFileName)
	}
	cacheCfg.Verbose = opts.verbose
	store, err := cache.NewStore(cacheCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: report cache disabled: %v\n", err)
		store = nil
	}

	var auditor *audit.Logger
	if opts.auditLog != "" {
		auditor, err = audit.NewLogger(&audit.Config{
			LogFile: opts.auditLog,
			Source:  "cli",
			Verbose: opts.verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit log disabled: %v\n", err)
			auditor = nil
		} else {
			auditor.Start()
		}
	}

	runner := health.NewRunner(health.WithVersion(core.Version))
	runner.Register(&health.APICheck{API: c, Target: opts.baseURL})
	runner.Register(&health.DiskCheck{
		Path:         filepath.Dir(cacheCfg.Path),
		MinFreeBytes: minCacheFreeBytes,
	})
	cacheCheck := &health.CacheCheck{}
	if store != nil {
		// Assign only a live store; a typed nil inside the interface
		// would pass the nil check and panic in Check.
		cacheCheck.Store = store
	}
	runner.Register(cacheCheck)

	a := &app{
		opts:   opts,
		client: c,
		store:  store,
		audit:  auditor,
		health: runner,
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		mux.Handle("/healthz", runner.Handler())
		a.msrv = &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Warning: metrics listener: %v\n", err)
			}
		}()
	}

	return a, nil
}

func (a *app) close() {
	if a.msrv != nil {
		a.msrv.Close()
	}
	if a.audit != nil {
		if err := a.audit.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit log flush: %v\n", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// =============================================================================
// Subcommands
// =============================================================================

func runScan(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s scan [flags] <url>", appName)
	}
	target := args[0]
	started := time.Now()

	sub, err := a.client.SubmitScan(ctx, target, a.opts.force)
	if err != nil {
		return err
	}
	if a.audit != nil {
		a.audit.ScanSubmitted(sub.ScanID, target, sub.Deduped)
	}
	if sub.Deduped {
		fmt.Printf("Scan %s already in flight for %s; watching it\n", sub.ScanID, target)
	} else {
		fmt.Printf("Scan %s submitted for %s\n", sub.ScanID, target)
	}

	watcher := poll.NewWatcher(a.client, &poll.Config{Verbose: a.opts.verbose})
	job, err := watcher.Wait(ctx, sub.ScanID, func(j *scan.Job) {
		fmt.Printf("  %-8s %3d%%\n", j.State, j.Progress)
	})
	if err != nil {
		if a.audit != nil {
			a.audit.ScanFailed(sub.ScanID, err)
		}
		return err
	}
	if job.State == scan.StateError {
		if job.Message != "" {
			err = fmt.Errorf("scan %s failed: %s", job.ID, job.Message)
		} else {
			err = fmt.Errorf("scan %s failed", job.ID)
		}
		if a.audit != nil {
			a.audit.ScanFailed(job.ID, err)
		}
		return err
	}

	slug := job.Slug
	if slug == "" {
		slug = sub.Slug
	}
	if slug == "" {
		return fmt.Errorf("scan %s finished without a report slug", job.ID)
	}

	report, err := a.fetchReport(ctx, slug)
	if err != nil {
		return err
	}
	if a.audit != nil {
		a.audit.ScanCompleted(job.ID, slug, report.Scan.Score, time.Since(started))
	}
	fmt.Println()
	return a.renderReport(report)
}

func runStatus(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s status [flags] <scan-id>", appName)
	}
	job, err := a.client.ScanStatus(ctx, args[0])
	if err != nil {
		return err
	}
	if a.opts.jsonOut {
		return printJSON(job)
	}

	fmt.Printf("  %-10s %s\n", "Scan", job.ID)
	fmt.Printf("  %-10s %s\n", "Target", job.Input)
	fmt.Printf("  %-10s %s\n", "State", job.State)
	fmt.Printf("  %-10s %d%%\n", "Progress", job.Progress)
	if job.Score != nil {
		fmt.Printf("  %-10s %d (%s)\n", "Score", *job.Score, job.Label)
	}
	if job.Slug != "" {
		fmt.Printf("  %-10s %s\n", "Report", job.Slug)
	}
	if job.Message != "" {
		fmt.Printf("  %-10s %s\n", "Message", job.Message)
	}
	if job.UpdatedAt != nil {
		fmt.Printf("  %-10s %s\n", "Updated", job.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runReport(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s report [flags] <slug>", appName)
	}
	slug := args[0]

	if a.store != nil && !a.opts.force {
		cached, err := a.store.Get(ctx, slug)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "Warning: cache read: %v\n", err)
		case cached != nil:
			if a.audit != nil {
				a.audit.ReportFetched(slug, "cache")
			}
			if a.opts.verbose {
				fmt.Fprintln(os.Stderr, "Serving cached report; use -force to refetch")
			}
			return a.renderReport(cached)
		default:
			if a.audit != nil {
				a.audit.Info(audit.EventCacheMiss, "report not cached", map[string]any{"slug": slug})
			}
		}
	}

	report, err := a.fetchReport(ctx, slug)
	if err != nil {
		return err
	}
	return a.renderReport(report)
}

func runRecent(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: %s recent [flags]", appName)
	}

	source := "service"
	reports, err := a.client.RecentReports(ctx)
	if err != nil {
		if a.store == nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Warning: recent reports unavailable from the service (%v); listing the local cache\n", err)
		reports, err = a.store.ListRecent(ctx, recentLimit)
		if err != nil {
			return err
		}
		source = "cache"
	}

	if a.opts.jsonOut {
		return printJSON(reports)
	}
	if len(reports) == 0 {
		fmt.Println("No recent reports.")
		return nil
	}
	fmt.Printf("Recent reports (%s):\n", source)
	for _, r := range reports {
		fmt.Printf("  %-28s %5d  %-12s %-19s %s\n",
			r.Slug, r.Score, r.Label, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Domain)
	}
	return nil
}

func runDoctor(ctx context.Context, a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: %s doctor [flags]", appName)
	}

	rep := a.health.Run(ctx)
	if a.opts.jsonOut {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s doctor (version %s)\n", appName, rep.Version)
		fmt.Println(separator)
		for _, c := range rep.Checks {
			detail := c.Message
			if c.Error != "" {
				detail = c.Error
			}
			fmt.Printf("  %s %-7s %s (%dms)\n", statusMark(c.Status), c.Name, detail, c.DurationMS)
		}
		fmt.Println(separator)
		fmt.Printf("Overall: %s\n", rep.Status)
	}

	if rep.Status == health.StatusUnhealthy {
		return fmt.Errorf("diagnostics reported unhealthy")
	}
	return nil
}

// =============================================================================
// Report Fetching and Rendering
// =============================================================================

// fetchReport pulls the report from the service and, when the cache is
// available, stores it and prunes stale entries.
func (a *app) fetchReport(ctx context.Context, slug string) (*scan.Report, error) {
	report, err := a.client.Report(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.audit != nil {
		a.audit.ReportFetched(slug, "api")
	}
	if a.store != nil {
		if err := a.store.Put(ctx, report); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache write: %v\n", err)
		}
		a.cleanupCache(ctx)
	}
	return report, nil
}

func (a *app) cleanupCache(ctx context.Context) {
	removed, err := a.store.Cleanup(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache cleanup: %v\n", err)
	} else if removed > 0 && a.audit != nil {
		a.audit.CacheCleanup(removed, "age")
	}

	trimmed, err := a.store.CleanupToSize(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache cleanup: %v\n", err)
	} else if trimmed > 0 && a.audit != nil {
		a.audit.CacheCleanup(int64(trimmed), "size")
	}
}

func (a *app) renderReport(r *scan.Report) error {
	summary := score.Summarize(r)
	if a.opts.jsonOut {
		return printJSON(struct {
			Report  *scan.Report   `json:"report"`
			Summary *score.Summary `json:"summary"`
		}{r, summary})
	}
	printReport(r, summary)
	return nil
}

func printReport(r *scan.Report, s *score.Summary) {
	title := r.Scan.Input
	if title == "" {
		title = r.Scan.Slug
	}
	fmt.Printf("Privacy report for %s\n", title)
	fmt.Println(separator)

	fmt.Printf("  %-14s %d (%s)\n", "Score", s.Score, s.Label)
	fmt.Printf("  %-14s %s\n", "Data sharing", s.DataSharing)
	switch {
	case s.TLS.Unrated:
		fmt.Printf("  %-14s %s (unrated)\n", "TLS", s.TLS.Status)
	case s.TLS.Grade != "":
		fmt.Printf("  %-14s %s (grade %s)\n", "TLS", s.TLS.Status, s.TLS.Grade)
	default:
		fmt.Printf("  %-14s %s\n", "TLS", s.TLS.Status)
	}
	fmt.Printf("  %-14s %s\n", "Slug", r.Scan.Slug)
	if r.Meta != nil && r.Meta.GeneratedAt != nil {
		fmt.Printf("  %-14s %s\n", "Generated", r.Meta.GeneratedAt.Format(time.RFC3339))
	}

	if len(s.Breakdown) > 0 {
		fmt.Println("\nScore breakdown:")
		for _, row := range s.Breakdown {
			delta := fmt.Sprintf("%+d", row.Delta)
			if row.Positive && row.Delta == 0 {
				delta = "ok"
			}
			fmt.Printf("  %5s  %-22s %s\n", delta, row.Category, row.Description)
		}
	}

	total := 0
	for _, g := range s.Categories {
		total += len(g.Evidence)
	}
	if total > 0 {
		fmt.Printf("\nEvidence (%d findings):\n", total)
		for _, g := range s.Categories {
			fmt.Printf("  %s\n", g.Category)
			for _, ev := range g.Evidence {
				line := fmt.Sprintf("    [%s] %s", strings.ToLower(ev.Severity.Label()), ev.Title)
				if domain, ok := ev.Details.Domain(); ok {
					line += fmt.Sprintf(" (%s)", domain)
				}
				fmt.Println(line)
			}
		}
	}

	if len(r.Issues) > 0 {
		fmt.Println("\nIssues:")
		for _, issue := range r.Issues {
			fmt.Printf("  - %s\n", issue)
		}
	}
	if len(r.TopFixes) > 0 {
		fmt.Println("\nTop fixes:")
		for i, fix := range r.TopFixes {
			fmt.Printf("  %d. %s\n", i+1, fix)
		}
	}
}

func statusMark(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return "✓"
	case health.StatusDegraded:
		return "!"
	case health.StatusUnhealthy:
		return "✗"
	}
	return "?"
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
