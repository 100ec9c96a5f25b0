package core

import (
	"context"

	"github.com/privlens/sdk/pkg/scan"
)

// =============================================================================
// Service Interface - The Privlens API surface
// =============================================================================

// Service is the Privlens API surface consumed by the poller, the cache
// warmers and the CLI. *client.Client is the canonical implementation.
type Service interface {
	// SubmitScan starts (or joins) a scan for the given website URL
	SubmitScan(ctx context.Context, target string, force bool) (*scan.Submission, error)

	// ScanStatus fetches the current snapshot of a running scan
	ScanStatus(ctx context.Context, scanID string) (*scan.Job, error)

	// Report fetches a finished report by its public slug
	Report(ctx context.Context, slug string) (*scan.Report, error)

	// RecentReports lists the most recently generated public reports
	RecentReports(ctx context.Context) ([]scan.RecentReport, error)

	// Ping tests the API connection
	Ping(ctx context.Context) error
}
