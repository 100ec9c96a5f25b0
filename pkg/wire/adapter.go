// Package wire translates between the two Privlens backend contract versions
// and the normalized scan model. The backend speaks either the legacy v1
// contract or the current v2 contract; the Adapter hides the differences so
// everything above it sees one shape.
//
// The contract version is fixed when the Adapter is constructed and applied
// consistently to every request it touches. A response that does not match
// the shape of the adapter's own version is a schema error; the adapter never
// falls back to the other version's shape.
package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/privlens/sdk/pkg/errors"
	"github.com/privlens/sdk/pkg/scan"
)

// =============================================================================
// Mode
// =============================================================================

// Mode selects which backend contract version the adapter speaks.
type Mode string

const (
	// ModeLegacy speaks the v1 contract under /api/v1.
	ModeLegacy Mode = "legacy"

	// ModeCurrent speaks the v2 contract under /api/v2.
	ModeCurrent Mode = "current"
)

// DefaultMode is used when no contract version is configured.
const DefaultMode = ModeCurrent

// AllModes returns all supported contract modes.
func AllModes() []Mode {
	return []Mode{ModeLegacy, ModeCurrent}
}

// IsValid checks if the mode is supported.
func (m Mode) IsValid() bool {
	return slices.Contains(AllModes(), m)
}

// Prefix returns the URL path prefix for the mode.
func (m Mode) Prefix() string {
	if m == ModeLegacy {
		return "/api/v1"
	}
	return "/api/v2"
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode resolves a configuration value ("legacy", "v1", "current", "v2")
// to a Mode. An empty value resolves to DefaultMode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "":
		return DefaultMode, nil
	case "legacy", "v1":
		return ModeLegacy, nil
	case "current", "v2":
		return ModeCurrent, nil
	}
	return "", errors.E(errors.KindInvalidInput, "wire.ParseMode",
		fmt.Sprintf("unknown api version %q (want legacy, v1, current or v2)", s))
}

// =============================================================================
// Wire Types (current, v2)
// =============================================================================

// submitRequest is the POST body for submitting a scan. Both contract
// versions accept the same request shape.
type submitRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force,omitempty"`
}

// currentSubmit is the v2 response to a scan submission.
type currentSubmit struct {
	ScanID  string `json:"scanId"`
	Slug    string `json:"slug"`
	Deduped bool   `json:"deduped"`
}

// currentStatus is the v2 response of the status endpoint.
type currentStatus struct {
	Status    string     `json:"status"`
	Progress  *int       `json:"progress"`
	Score     *int       `json:"score"`
	Label     string     `json:"label"`
	Slug      string     `json:"slug"`
	Message   string     `json:"message"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// currentReport is the v2 response of the report endpoint.
type currentReport struct {
	Scan     currentReportScan `json:"scan"`
	Evidence []currentEvidence `json:"evidence"`
	Issues   []string          `json:"issues"`
	TopFixes []string          `json:"topFixes"`
	Meta     json.RawMessage   `json:"meta"`
}

// currentReportScan is the scan metadata block of a v2 report.
type currentReportScan struct {
	ID    string `json:"id"`
	Input string `json:"input"`
	Score int    `json:"score"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// currentEvidence is one v2 finding.
type currentEvidence struct {
	ID        string          `json:"id"`
	ScanID    string          `json:"scanId"`
	Kind      string          `json:"kind"`
	Severity  int             `json:"severity"`
	Title     string          `json:"title"`
	Details   json.RawMessage `json:"details"`
	CreatedAt *time.Time      `json:"createdAt"`
}

// currentRecent is the v2 response of the recent-reports endpoint.
type currentRecent struct {
	Items []currentRecentItem `json:"items"`
}

// currentRecentItem is one row of the v2 recent-reports listing.
type currentRecentItem struct {
	Slug          string     `json:"slug"`
	Score         int        `json:"score"`
	Label         string     `json:"label"`
	Domain        string     `json:"domain"`
	CreatedAt     *time.Time `json:"createdAt"`
	EvidenceCount int        `json:"evidenceCount"`
}

// =============================================================================
// Wire Types (legacy, v1)
// =============================================================================

// The legacy contract differs in field naming only: the report slug travels
// as "reportSlug", an evidence kind travels as "type", and recent-report rows
// carry no evidence count.

type legacySubmit struct {
	ScanID     string `json:"scanId"`
	ReportSlug string `json:"reportSlug"`
	Deduped    bool   `json:"deduped"`
}

type legacyStatus struct {
	Status     string     `json:"status"`
	Progress   *int       `json:"progress"`
	Score      *int       `json:"score"`
	Label      string     `json:"label"`
	ReportSlug string     `json:"reportSlug"`
	Message    string     `json:"message"`
	UpdatedAt  *time.Time `json:"updatedAt"`
}

type legacyReport struct {
	Scan     legacyReportScan `json:"scan"`
	Evidence []legacyEvidence `json:"evidence"`
	Issues   []string         `json:"issues"`
	TopFixes []string         `json:"topFixes"`
	Meta     json.RawMessage  `json:"meta"`
}

type legacyReportScan struct {
	ID         string `json:"id"`
	Input      string `json:"input"`
	Score      int    `json:"score"`
	Label      string `json:"label"`
	ReportSlug string `json:"reportSlug"`
}

type legacyEvidence struct {
	ID        string          `json:"id"`
	ScanID    string          `json:"scanId"`
	Type      string          `json:"type"`
	Severity  int             `json:"severity"`
	Title     string          `json:"title"`
	Details   json.RawMessage `json:"details"`
	CreatedAt *time.Time      `json:"createdAt"`
}

type legacyRecent struct {
	Items []legacyRecentItem `json:"items"`
}

type legacyRecentItem struct {
	ReportSlug string     `json:"reportSlug"`
	Score      int        `json:"score"`
	Label      string     `json:"label"`
	Domain     string     `json:"domain"`
	CreatedAt  *time.Time `json:"createdAt"`
}

// =============================================================================
// Adapter
// =============================================================================

// Adapter normalizes wire payloads of one contract version. Construct one per
// client; it is immutable and safe for concurrent use.
type Adapter struct {
	mode Mode
}

// NewAdapter creates an adapter for the given contract mode.
func NewAdapter(mode Mode) (*Adapter, error) {
	if mode == "" {
		mode = DefaultMode
	}
	if !mode.IsValid() {
		return nil, errors.E(errors.KindInvalidInput, "wire.NewAdapter",
			fmt.Sprintf("unknown contract mode %q", mode))
	}
	return &Adapter{mode: mode}, nil
}

// Mode returns the contract mode the adapter speaks.
func (a *Adapter) Mode() Mode {
	return a.mode
}

// Prefix returns the URL path prefix for the adapter's mode.
func (a *Adapter) Prefix() string {
	return a.mode.Prefix()
}

// SubmitPath returns the path of the scan submission endpoint.
func (a *Adapter) SubmitPath() string {
	return a.mode.Prefix() + "/scan/url"
}

// StatusPath returns the path of the status endpoint for a scan id.
func (a *Adapter) StatusPath(scanID string) string {
	return fmt.Sprintf("%s/scan/%s/status", a.mode.Prefix(), url.PathEscape(scanID))
}

// ReportPath returns the path of the report endpoint for a slug.
func (a *Adapter) ReportPath(slug string) string {
	return fmt.Sprintf("%s/report/%s", a.mode.Prefix(), url.PathEscape(slug))
}

// RecentPath returns the path of the recent-reports endpoint.
func (a *Adapter) RecentPath() string {
	return a.mode.Prefix() + "/reports/recent"
}

// =============================================================================
// Encoding
// =============================================================================

// EncodeSubmitRequest builds the POST body for submitting a target URL.
func (a *Adapter) EncodeSubmitRequest(target string, force bool) ([]byte, error) {
	if target == "" {
		return nil, errors.E(errors.KindInvalidInput, "wire.EncodeSubmitRequest", "target url is empty")
	}
	return json.Marshal(submitRequest{URL: target, Force: force})
}

// =============================================================================
// Decoding
// =============================================================================

// DecodeSubmit normalizes a submission response.
func (a *Adapter) DecodeSubmit(data []byte) (scan.Submission, error) {
	const op = "wire.DecodeSubmit"

	var sub scan.Submission
	switch a.mode {
	case ModeLegacy:
		var body legacySubmit
		if err := json.Unmarshal(data, &body); err != nil {
			return scan.Submission{}, schemaErr(op, a.mode, err)
		}
		sub = scan.Submission{ScanID: body.ScanID, Slug: body.ReportSlug, Deduped: body.Deduped}
	case ModeCurrent:
		var body currentSubmit
		if err := json.Unmarshal(data, &body); err != nil {
			return scan.Submission{}, schemaErr(op, a.mode, err)
		}
		sub = scan.Submission{ScanID: body.ScanID, Slug: body.Slug, Deduped: body.Deduped}
	default:
		return scan.Submission{}, badMode(op, a.mode)
	}

	if sub.ScanID == "" {
		return scan.Submission{}, errors.E(errors.KindSchema, op, "submit response has no scan id")
	}
	if sub.Slug == "" {
		return scan.Submission{}, errors.E(errors.KindSchema, op,
			fmt.Sprintf("submit response has no %s", slugField(a.mode)))
	}
	return sub, nil
}

// DecodeStatus normalizes a status response for the given scan id.
func (a *Adapter) DecodeStatus(scanID string, data []byte) (scan.Job, error) {
	const op = "wire.DecodeStatus"

	var f statusFields
	switch a.mode {
	case ModeLegacy:
		var body legacyStatus
		if err := json.Unmarshal(data, &body); err != nil {
			return scan.Job{}, schemaErr(op, a.mode, err)
		}
		f = statusFields{
			status:    body.Status,
			progress:  body.Progress,
			score:     body.Score,
			label:     body.Label,
			slug:      body.ReportSlug,
			message:   body.Message,
			updatedAt: body.UpdatedAt,
		}
	case ModeCurrent:
		var body currentStatus
		if err := json.Unmarshal(data, &body); err != nil {
			return scan.Job{}, schemaErr(op, a.mode, err)
		}
		f = statusFields{
			status:    body.Status,
			progress:  body.Progress,
			score:     body.Score,
			label:     body.Label,
			slug:      body.Slug,
			message:   body.Message,
			updatedAt: body.UpdatedAt,
		}
	default:
		return scan.Job{}, badMode(op, a.mode)
	}

	state := scan.State(f.status)
	if !state.IsValid() {
		return scan.Job{}, errors.E(errors.KindSchema, op,
			fmt.Sprintf("unknown scan state %q", f.status))
	}

	job := scan.Job{
		ID:        scanID,
		State:     state,
		Label:     f.label,
		Slug:      f.slug,
		Message:   f.message,
		UpdatedAt: f.updatedAt,
	}
	if f.progress != nil {
		job.Progress = scan.ClampProgress(*f.progress)
	}
	if f.score != nil {
		s := scan.ClampScore(*f.score)
		job.Score = &s
	}
	return job, nil
}

// DecodeReport normalizes a report response. Evidence details payloads are
// parsed best-effort and a malformed meta block is dropped, never fatal.
func (a *Adapter) DecodeReport(data []byte) (*scan.Report, error) {
	const op = "wire.DecodeReport"

	var f reportFields
	switch a.mode {
	case ModeLegacy:
		var body legacyReport
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, schemaErr(op, a.mode, err)
		}
		f = reportFields{
			info: scan.Info{
				ID:    body.Scan.ID,
				Input: body.Scan.Input,
				Score: body.Scan.Score,
				Label: body.Scan.Label,
				Slug:  body.Scan.ReportSlug,
			},
			issues:   body.Issues,
			topFixes: body.TopFixes,
			meta:     body.Meta,
		}
		for _, e := range body.Evidence {
			f.evidence = append(f.evidence, evidenceFields{
				id: e.ID, scanID: e.ScanID, kind: e.Type, severity: e.Severity,
				title: e.Title, details: e.Details, createdAt: e.CreatedAt,
			})
		}
	case ModeCurrent:
		var body currentReport
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, schemaErr(op, a.mode, err)
		}
		f = reportFields{
			info: scan.Info{
				ID:    body.Scan.ID,
				Input: body.Scan.Input,
				Score: body.Scan.Score,
				Label: body.Scan.Label,
				Slug:  body.Scan.Slug,
			},
			issues:   body.Issues,
			topFixes: body.TopFixes,
			meta:     body.Meta,
		}
		for _, e := range body.Evidence {
			f.evidence = append(f.evidence, evidenceFields{
				id: e.ID, scanID: e.ScanID, kind: e.Kind, severity: e.Severity,
				title: e.Title, details: e.Details, createdAt: e.CreatedAt,
			})
		}
	default:
		return nil, badMode(op, a.mode)
	}

	if f.info.ID == "" {
		return nil, errors.E(errors.KindSchema, op, "report response has no scan id")
	}
	return assembleReport(f), nil
}

// DecodeRecentReports normalizes a recent-reports listing.
func (a *Adapter) DecodeRecentReports(data []byte) ([]scan.RecentReport, error) {
	const op = "wire.DecodeRecentReports"

	var rows []scan.RecentReport
	switch a.mode {
	case ModeLegacy:
		var body legacyRecent
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, schemaErr(op, a.mode, err)
		}
		rows = make([]scan.RecentReport, 0, len(body.Items))
		for _, item := range body.Items {
			if item.ReportSlug == "" {
				return nil, errors.E(errors.KindSchema, op, "recent report row has no reportSlug")
			}
			rows = append(rows, scan.RecentReport{
				Slug:      item.ReportSlug,
				Score:     scan.ClampScore(item.Score),
				Label:     item.Label,
				Domain:    item.Domain,
				CreatedAt: timeOrZero(item.CreatedAt),
				// v1 rows carry no evidence count.
				EvidenceCount: 0,
			})
		}
	case ModeCurrent:
		var body currentRecent
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, schemaErr(op, a.mode, err)
		}
		rows = make([]scan.RecentReport, 0, len(body.Items))
		for _, item := range body.Items {
			if item.Slug == "" {
				return nil, errors.E(errors.KindSchema, op, "recent report row has no slug")
			}
			rows = append(rows, scan.RecentReport{
				Slug:          item.Slug,
				Score:         scan.ClampScore(item.Score),
				Label:         item.Label,
				Domain:        item.Domain,
				CreatedAt:     timeOrZero(item.CreatedAt),
				EvidenceCount: item.EvidenceCount,
			})
		}
	default:
		return nil, badMode(op, a.mode)
	}
	return rows, nil
}

// =============================================================================
// Assembly
// =============================================================================

// statusFields carries the version-independent pieces of a status response so
// both decode paths assemble the identical scan.Job.
type statusFields struct {
	status    string
	progress  *int
	score     *int
	label     string
	slug      string
	message   string
	updatedAt *time.Time
}

// reportFields carries the version-independent pieces of a report response.
type reportFields struct {
	info     scan.Info
	evidence []evidenceFields
	issues   []string
	topFixes []string
	meta     json.RawMessage
}

// evidenceFields carries one version-independent finding.
type evidenceFields struct {
	id        string
	scanID    string
	kind      string
	severity  int
	title     string
	details   json.RawMessage
	createdAt *time.Time
}

// assembleReport builds the normalized report from version-independent
// fields. Both decode paths funnel through here so equivalent legacy and
// current payloads produce deeply identical reports.
func assembleReport(f reportFields) *scan.Report {
	r := &scan.Report{
		Scan:     f.info,
		Evidence: make([]scan.Evidence, 0, len(f.evidence)),
		Issues:   f.issues,
		TopFixes: f.topFixes,
		Meta:     decodeMeta(f.meta),
	}
	r.Scan.Score = scan.ClampScore(r.Scan.Score)

	for _, e := range f.evidence {
		kind := scan.EvidenceKind(e.kind)
		owner := e.scanID
		if owner == "" {
			owner = f.info.ID
		}
		r.Evidence = append(r.Evidence, scan.Evidence{
			ID:        e.id,
			ScanID:    owner,
			Kind:      kind,
			Severity:  scan.ClampSeverity(e.severity),
			Title:     e.title,
			Details:   scan.ParseEvidenceDetails(kind, e.details),
			CreatedAt: timeOrZero(e.createdAt),
		})
	}
	return r
}

// decodeMeta parses an optional report metadata block. A block that does not
// match the expected shape is dropped, not surfaced as an error.
func decodeMeta(raw json.RawMessage) *scan.ReportMeta {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var m scan.ReportMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return &m
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func slugField(m Mode) string {
	if m == ModeLegacy {
		return "reportSlug"
	}
	return "slug"
}

func schemaErr(op string, mode Mode, err error) error {
	return errors.E(errors.KindSchema, op,
		fmt.Sprintf("response does not match the %s contract", mode), err)
}

func badMode(op string, mode Mode) error {
	return errors.E(errors.KindInternal, op, fmt.Sprintf("unsupported contract mode %q", mode))
}
