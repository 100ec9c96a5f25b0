// Package scan defines the normalized domain model for the Privlens
// privacy-scanning API: scan jobs, reports, evidence items, and the
// enumerations shared by every other package. Both backend API versions
// decode into these types; nothing here depends on a wire format.
package scan

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Scan Job
// =============================================================================

// State represents the lifecycle state of a scan job.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// AllStates returns all valid scan states.
func AllStates() []State {
	return []State{
		StateQueued,
		StateRunning,
		StateDone,
		StateError,
	}
}

// IsValid checks if the state is valid.
func (s State) IsValid() bool {
	return slices.Contains(AllStates(), s)
}

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// String returns the string representation.
func (s State) String() string {
	return string(s)
}

// Job is one asynchronous, server-tracked privacy scan. It is created when
// a scan is submitted and mutated only by applying server status responses.
type Job struct {
	// Unique identifier assigned by the service
	ID string `json:"id"`

	// The submitted target (URL)
	Input string `json:"input,omitempty"`

	// Lifecycle state: queued, running, done, error
	State State `json:"state"`

	// Completion progress 0-100, non-decreasing as observed by consumers
	Progress int `json:"progress"`

	// Overall privacy score 0-100, present once computed
	Score *int `json:"score,omitempty"`

	// Human-readable risk label (e.g. "High risk")
	Label string `json:"label,omitempty"`

	// Report slug, set as the job moves toward done
	Slug string `json:"slug,omitempty"`

	// Error detail for state=error
	Message string `json:"message,omitempty"`

	// Server-side timestamp of the last update
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Submission is the result of submitting a URL for scanning.
type Submission struct {
	// Identifier of the created (or deduplicated) scan job
	ScanID string `json:"scanId"`

	// Report slug, usable once the scan completes
	Slug string `json:"slug,omitempty"`

	// True when the service coalesced this submission with a recent scan
	Deduped bool `json:"deduped,omitempty"`
}

// =============================================================================
// Report
// =============================================================================

// Report is the finalized, immutable result bundle for a completed scan.
// Re-fetching produces a new value; a Report is never mutated in place.
type Report struct {
	// Scan metadata block
	Scan Info `json:"scan"`

	// Ordered findings; every item belongs to exactly this report
	Evidence []Evidence `json:"evidence"`

	// Optional summary issue descriptions
	Issues []string `json:"issues,omitempty"`

	// Optional recommended remediations, most impactful first
	TopFixes []string `json:"topFixes,omitempty"`

	// Optional metadata; dropped entirely when malformed
	Meta *ReportMeta `json:"meta,omitempty"`
}

// Info is the scan metadata block owned by a Report.
type Info struct {
	// Scan identifier
	ID string `json:"id"`

	// The scanned target (URL)
	Input string `json:"input,omitempty"`

	// Server-computed privacy score 0-100
	Score int `json:"score"`

	// Human-readable risk label
	Label string `json:"label,omitempty"`

	// Report slug
	Slug string `json:"slug"`
}

// ReportMeta is the optional, best-effort metadata block of a report.
type ReportMeta struct {
	// When the report was generated
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`

	// Scanning engine version
	EngineVersion string `json:"engineVersion,omitempty"`

	// Server-provided data sharing level; wins over the computed one
	DataSharingLevel string `json:"dataSharingLevel,omitempty"`

	// Scan duration in milliseconds
	ScanDurationMs int `json:"scanDurationMs,omitempty"`
}

// RecentReport is one row of the recent-reports listing.
type RecentReport struct {
	Slug          string    `json:"slug"`
	Score         int       `json:"score"`
	Label         string    `json:"label,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	EvidenceCount int       `json:"evidenceCount"`
}

// =============================================================================
// Evidence
// =============================================================================

// EvidenceKind classifies one finding within a report.
type EvidenceKind string

const (
	KindTracker      EvidenceKind = "tracker"
	KindThirdParty   EvidenceKind = "thirdparty"
	KindCookie       EvidenceKind = "cookie"
	KindHeader       EvidenceKind = "header"
	KindInsecure     EvidenceKind = "insecure"
	KindTLS          EvidenceKind = "tls"
	KindPolicy       EvidenceKind = "policy"
	KindFingerprint  EvidenceKind = "fingerprint"
	KindMixedContent EvidenceKind = "mixed-content"
)

// AllEvidenceKinds returns all known evidence kinds.
func AllEvidenceKinds() []EvidenceKind {
	return []EvidenceKind{
		KindTracker,
		KindThirdParty,
		KindCookie,
		KindHeader,
		KindInsecure,
		KindTLS,
		KindPolicy,
		KindFingerprint,
		KindMixedContent,
	}
}

// IsValid checks if the kind is one of the known enumeration values.
func (k EvidenceKind) IsValid() bool {
	return slices.Contains(AllEvidenceKinds(), k)
}

// String returns the string representation.
func (k EvidenceKind) String() string {
	return string(k)
}

// Display returns the human-readable label for the kind. Kinds outside the
// enumeration still render with a fallback label instead of failing.
func (k EvidenceKind) Display() string {
	switch k {
	case KindTracker:
		return "Tracker"
	case KindThirdParty:
		return "Third-Party Request"
	case KindCookie:
		return "Cookie"
	case KindHeader:
		return "Security Header"
	case KindInsecure:
		return "Insecure Content"
	case KindTLS:
		return "TLS/SSL"
	case KindPolicy:
		return "Privacy Policy"
	case KindFingerprint:
		return "Fingerprinting"
	case KindMixedContent:
		return "Mixed Content"
	}
	if k == "" {
		return "Other"
	}
	label := strings.ReplaceAll(string(k), "-", " ")
	label = strings.ReplaceAll(label, "_", " ")
	return strings.ToUpper(label[:1]) + label[1:]
}

// Severity is the 1-5 impact rating of an evidence item.
type Severity int

const (
	SeverityInfo     Severity = 1
	SeverityLow      Severity = 2
	SeverityMedium   Severity = 3
	SeverityHigh     Severity = 4
	SeverityCritical Severity = 5
)

// Label returns the display name of the severity.
func (s Severity) Label() string {
	switch ClampSeverity(int(s)) {
	case SeverityInfo:
		return "Info"
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	default:
		return "Critical"
	}
}

// Evidence is one discrete finding within a Report.
type Evidence struct {
	// Unique identifier within the report
	ID string `json:"id"`

	// Owning scan id
	ScanID string `json:"scanId,omitempty"`

	// Finding kind; values outside the enumeration are kept verbatim
	Kind EvidenceKind `json:"kind"`

	// Impact rating, always clamped to 1-5
	Severity Severity `json:"severity"`

	// Human-readable title
	Title string `json:"title"`

	// Structured payload, parsed defensively per kind
	Details EvidenceDetails `json:"details,omitempty"`

	// When the finding was recorded
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// Evidence Details
// =============================================================================

// TrackerDetails describes a detected tracker.
type TrackerDetails struct {
	// Tracker domain (e.g. "tracker.example.net")
	Domain string `json:"domain"`

	// Vendor operating the tracker
	Vendor string `json:"vendor,omitempty"`

	// Tracker category (analytics, advertising, social, ...)
	Category string `json:"category,omitempty"`
}

// ThirdPartyDetails describes requests to a third-party domain.
type ThirdPartyDetails struct {
	// Third-party domain contacted by the page
	Domain string `json:"domain"`

	// Declared or inferred purpose
	Purpose string `json:"purpose,omitempty"`

	// Number of requests observed
	RequestCount int `json:"requestCount,omitempty"`
}

// CookieDetails describes a cookie set by the page.
type CookieDetails struct {
	Name       string `json:"name"`
	Domain     string `json:"domain,omitempty"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
	HTTPOnly   bool   `json:"httpOnly,omitempty"`
	Secure     bool   `json:"secure,omitempty"`
	SameSite   string `json:"sameSite,omitempty"`
}

// HeaderDetails describes a missing or misconfigured security header.
type HeaderDetails struct {
	Header   string `json:"header"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// InsecureDetails describes content served without transport security.
type InsecureDetails struct {
	URL       string `json:"url,omitempty"`
	Mechanism string `json:"mechanism,omitempty"`
}

// TLSDetails describes the TLS configuration assessment.
type TLSDetails struct {
	// Letter grade A-F
	Grade    string `json:"grade,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
}

// PolicyDetails describes privacy-policy findings.
type PolicyDetails struct {
	URL    string   `json:"url,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// FingerprintDetails describes a browser-fingerprinting technique.
type FingerprintDetails struct {
	Technique string `json:"technique,omitempty"`
	Surface   string `json:"surface,omitempty"`
}

// MixedContentDetails describes an HTTP resource on an HTTPS page.
type MixedContentDetails struct {
	URL          string `json:"url,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
}

// EvidenceDetails is the tagged union of per-kind detail payloads. Exactly
// one variant pointer is set when the payload matched its kind's shape; Raw
// always keeps the original bytes so unknown or malformed payloads survive
// round trips unchanged.
type EvidenceDetails struct {
	Tracker      *TrackerDetails      `json:"-"`
	ThirdParty   *ThirdPartyDetails   `json:"-"`
	Cookie       *CookieDetails       `json:"-"`
	Header       *HeaderDetails       `json:"-"`
	Insecure     *InsecureDetails     `json:"-"`
	TLS          *TLSDetails          `json:"-"`
	Policy       *PolicyDetails       `json:"-"`
	Fingerprint  *FingerprintDetails  `json:"-"`
	MixedContent *MixedContentDetails `json:"-"`

	// Raw is the original payload as received
	Raw json.RawMessage `json:"-"`
}

// ParseEvidenceDetails decodes a raw details payload for the given kind.
// It never fails: a payload that does not match the kind's shape (or any
// unknown kind) yields a union with only Raw set.
func ParseEvidenceDetails(kind EvidenceKind, raw json.RawMessage) EvidenceDetails {
	d := EvidenceDetails{Raw: raw}
	if len(raw) == 0 {
		return d
	}

	switch kind {
	case KindTracker:
		var v TrackerDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Tracker = &v
		}
	case KindThirdParty:
		var v ThirdPartyDetails
		if json.Unmarshal(raw, &v) == nil {
			d.ThirdParty = &v
		}
	case KindCookie:
		var v CookieDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Cookie = &v
		}
	case KindHeader:
		var v HeaderDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Header = &v
		}
	case KindInsecure:
		var v InsecureDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Insecure = &v
		}
	case KindTLS:
		var v TLSDetails
		if json.Unmarshal(raw, &v) == nil {
			d.TLS = &v
		}
	case KindPolicy:
		var v PolicyDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Policy = &v
		}
	case KindFingerprint:
		var v FingerprintDetails
		if json.Unmarshal(raw, &v) == nil {
			d.Fingerprint = &v
		}
	case KindMixedContent:
		var v MixedContentDetails
		if json.Unmarshal(raw, &v) == nil {
			d.MixedContent = &v
		}
	}

	return d
}

// Domain returns the domain carried by tracker or third-party details.
// The second result is false when no domain is present.
func (d EvidenceDetails) Domain() (string, bool) {
	switch {
	case d.Tracker != nil && d.Tracker.Domain != "":
		return d.Tracker.Domain, true
	case d.ThirdParty != nil && d.ThirdParty.Domain != "":
		return d.ThirdParty.Domain, true
	}
	return "", false
}

// TLSGrade returns the normalized TLS letter grade, if present.
func (d EvidenceDetails) TLSGrade() (string, bool) {
	if d.TLS == nil {
		return "", false
	}
	grade := strings.ToUpper(strings.TrimSpace(d.TLS.Grade))
	if grade == "" {
		return "", false
	}
	return grade, true
}

// MarshalJSON writes the original payload back out verbatim so a report
// round-trips byte-identically through storage.
func (d EvidenceDetails) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	switch {
	case d.Tracker != nil:
		return json.Marshal(d.Tracker)
	case d.ThirdParty != nil:
		return json.Marshal(d.ThirdParty)
	case d.Cookie != nil:
		return json.Marshal(d.Cookie)
	case d.Header != nil:
		return json.Marshal(d.Header)
	case d.Insecure != nil:
		return json.Marshal(d.Insecure)
	case d.TLS != nil:
		return json.Marshal(d.TLS)
	case d.Policy != nil:
		return json.Marshal(d.Policy)
	case d.Fingerprint != nil:
		return json.Marshal(d.Fingerprint)
	case d.MixedContent != nil:
		return json.Marshal(d.MixedContent)
	}
	return []byte("null"), nil
}

// UnmarshalJSON stashes the payload; variants are populated afterwards by
// ParseEvidenceDetails because the union needs the evidence kind.
func (d *EvidenceDetails) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = EvidenceDetails{}
		return nil
	}
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// =============================================================================
// Clamps
// =============================================================================

// ClampSeverity clamps v to the valid severity range 1-5.
func ClampSeverity(v int) Severity {
	if v < 1 {
		return SeverityInfo
	}
	if v > 5 {
		return SeverityCritical
	}
	return Severity(v)
}

// ClampScore clamps v to the valid score range 0-100.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampProgress clamps v to the valid progress range 0-100.
func ClampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Rehydrate re-applies clamps and reparses every evidence details union
// from its raw payload. Used after loading a report from storage, where
// only the raw bytes survive serialization.
func (r *Report) Rehydrate() {
	r.Scan.Score = ClampScore(r.Scan.Score)
	for i := range r.Evidence {
		e := &r.Evidence[i]
		e.Severity = ClampSeverity(int(e.Severity))
		e.Details = ParseEvidenceDetails(e.Kind, e.Details.Raw)
	}
}

// =============================================================================
// Data Sharing Level
// =============================================================================

// DataSharingLevel is the coarse four-tier risk classification derived from
// evidence counts (or provided by the server).
type DataSharingLevel string

const (
	SharingNone   DataSharingLevel = "None"
	SharingLow    DataSharingLevel = "Low"
	SharingMedium DataSharingLevel = "Medium"
	SharingHigh   DataSharingLevel = "High"
)

// AllDataSharingLevels returns all valid levels.
func AllDataSharingLevels() []DataSharingLevel {
	return []DataSharingLevel{
		SharingNone,
		SharingLow,
		SharingMedium,
		SharingHigh,
	}
}

// IsValid checks if the level is valid.
func (l DataSharingLevel) IsValid() bool {
	return slices.Contains(AllDataSharingLevels(), l)
}

// String returns the string representation.
func (l DataSharingLevel) String() string {
	return string(l)
}

// ParseDataSharingLevel parses a server-provided level, case-insensitively.
func ParseDataSharingLevel(s string) (DataSharingLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return SharingNone, true
	case "low":
		return SharingLow, true
	case "medium", "moderate":
		return SharingMedium, true
	case "high":
		return SharingHigh, true
	}
	return "", false
}
