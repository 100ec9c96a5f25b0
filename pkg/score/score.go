// Package score derives the report view model from a normalized report:
// data-sharing level, TLS status, category grouping, and the explanatory
// score breakdown. Everything here is a pure function over *scan.Report;
// malformed evidence details degrade to defaults instead of failing, so a
// report that decoded at all always renders.
package score

import (
	"fmt"

	"github.com/privlens/sdk/pkg/scan"
)

// =============================================================================
// Data Sharing Level
// =============================================================================

// Weights and tier bounds of the data-sharing index.
const (
	trackerDomainWeight = 2

	sharingLowMax    = 4
	sharingMediumMax = 8
)

// DataSharing derives the four-tier data-sharing level. A server-provided
// level that parses to a known tier wins verbatim; otherwise the level is
// computed as 2x distinct tracker domains + distinct third-party domains +
// cookie findings.
func DataSharing(r *scan.Report) scan.DataSharingLevel {
	if r == nil {
		return scan.SharingNone
	}
	if r.Meta != nil {
		if level, ok := scan.ParseDataSharingLevel(r.Meta.DataSharingLevel); ok {
			return level
		}
	}

	index := sharingIndex(r.Evidence)
	switch {
	case index == 0:
		return scan.SharingNone
	case index <= sharingLowMax:
		return scan.SharingLow
	case index <= sharingMediumMax:
		return scan.SharingMedium
	default:
		return scan.SharingHigh
	}
}

// sharingIndex computes the weighted evidence index. Tracker and
// third-party items without a domain in their details are excluded from
// the distinct sets.
func sharingIndex(evidence []scan.Evidence) int {
	trackerDomains := make(map[string]struct{})
	thirdPartyDomains := make(map[string]struct{})
	cookies := 0

	for _, e := range evidence {
		switch e.Kind {
		case scan.KindTracker:
			if d, ok := e.Details.Domain(); ok {
				trackerDomains[d] = struct{}{}
			}
		case scan.KindThirdParty:
			if d, ok := e.Details.Domain(); ok {
				thirdPartyDomains[d] = struct{}{}
			}
		case scan.KindCookie:
			cookies++
		}
	}

	return trackerDomainWeight*len(trackerDomains) + len(thirdPartyDomains) + cookies
}

// =============================================================================
// TLS Status
// =============================================================================

// TLSStatus is the coarse transport-security verdict.
type TLSStatus string

const (
	TLSValid   TLSStatus = "Valid"
	TLSWeak    TLSStatus = "Weak"
	TLSInvalid TLSStatus = "Invalid"
)

// weakGrades are the TLS letter grades that downgrade the verdict.
var weakGrades = map[string]bool{"C": true, "D": true, "F": true}

// TLSAssessment is the derived transport-security view.
type TLSAssessment struct {
	Status TLSStatus `json:"status"`

	// First letter grade found in tls-kind evidence, if any
	Grade string `json:"grade,omitempty"`

	// Unrated is set when the report carries no tls-kind evidence at all;
	// the status is Valid by absence, not by assessment.
	Unrated bool `json:"unrated,omitempty"`
}

// TLS derives the transport-security verdict. Any insecure-kind evidence
// makes it Invalid; else a tls-kind grade of C, D or F makes it Weak; else
// Valid. Grades are read defensively, so tls evidence with missing or
// malformed details simply carries no grade.
func TLS(r *scan.Report) TLSAssessment {
	a := TLSAssessment{Status: TLSValid, Unrated: true}
	if r == nil {
		return a
	}

	insecure := false
	weak := false
	for _, e := range r.Evidence {
		switch e.Kind {
		case scan.KindInsecure:
			insecure = true
		case scan.KindTLS:
			a.Unrated = false
			if grade, ok := e.Details.TLSGrade(); ok {
				if a.Grade == "" {
					a.Grade = grade
				}
				if weakGrades[grade] {
					weak = true
				}
			}
		}
	}

	switch {
	case insecure:
		a.Status = TLSInvalid
	case weak:
		a.Status = TLSWeak
	}
	return a
}

// =============================================================================
// Score Breakdown
// =============================================================================

// Per-category deduction weights and caps.
const (
	baselinePoints = 100

	trackerPenalty = 5
	trackerCap     = 30

	thirdPartyPenalty = 2
	thirdPartyCap     = 20

	cookiePenalty = 1
	cookieCap     = 10

	headerPenalty = 2
	headerCap     = 10

	mixedContentPenalty = 3
	mixedContentCap     = 15

	tlsInvalidPenalty = 25
	tlsWeakPenalty    = 10
)

// BreakdownRow is one explanatory line of the score table.
type BreakdownRow struct {
	Category    string `json:"category"`
	Description string `json:"description"`

	// Signed point delta; the baseline row carries +100
	Delta int `json:"delta"`

	// Positive marks baseline and "no issues" rows
	Positive bool `json:"positive"`
}

// Breakdown builds the explanatory score table: a 100-point baseline row,
// then one row per evidence category present, each deduction capped. The
// trackers and TLS rows appear even when clean, as positive rows. The table
// explains the score shape; it never replaces the server-computed score.
func Breakdown(r *scan.Report) []BreakdownRow {
	rows := []BreakdownRow{{
		Category:    "Baseline",
		Description: "Every site starts at 100 points",
		Delta:       baselinePoints,
		Positive:    true,
	}}
	if r == nil {
		return rows
	}

	counts := make(map[scan.EvidenceKind]int)
	for _, e := range r.Evidence {
		counts[e.Kind]++
	}

	if n := counts[scan.KindTracker]; n > 0 {
		rows = append(rows, BreakdownRow{
			Category:    "Trackers",
			Description: fmt.Sprintf("%d tracker(s) detected", n),
			Delta:       -cappedPenalty(n, trackerPenalty, trackerCap),
		})
	} else {
		rows = append(rows, BreakdownRow{
			Category:    "Trackers",
			Description: "No trackers detected",
			Positive:    true,
		})
	}

	tls := TLS(r)
	switch tls.Status {
	case TLSInvalid:
		rows = append(rows, BreakdownRow{
			Category:    "TLS/SSL",
			Description: "Insecure content or invalid TLS configuration",
			Delta:       -tlsInvalidPenalty,
		})
	case TLSWeak:
		rows = append(rows, BreakdownRow{
			Category:    "TLS/SSL",
			Description: fmt.Sprintf("Weak TLS configuration (grade %s)", tls.Grade),
			Delta:       -tlsWeakPenalty,
		})
	default:
		rows = append(rows, BreakdownRow{
			Category:    "TLS/SSL",
			Description: "No TLS issues detected",
			Positive:    true,
		})
	}

	if n := counts[scan.KindMixedContent]; n > 0 {
		rows = append(rows, BreakdownRow{
			Category:    "Mixed Content",
			Description: fmt.Sprintf("%d resource(s) loaded over HTTP", n),
			Delta:       -cappedPenalty(n, mixedContentPenalty, mixedContentCap),
		})
	}
	if n := counts[scan.KindHeader]; n > 0 {
		rows = append(rows, BreakdownRow{
			Category:    "Security Headers",
			Description: fmt.Sprintf("%d header issue(s)", n),
			Delta:       -cappedPenalty(n, headerPenalty, headerCap),
		})
	}
	if n := counts[scan.KindThirdParty]; n > 0 {
		rows = append(rows, BreakdownRow{
			Category:    "Third-Party Requests",
			Description: fmt.Sprintf("%d third-party domain request(s)", n),
			Delta:       -cappedPenalty(n, thirdPartyPenalty, thirdPartyCap),
		})
	}
	if n := counts[scan.KindCookie]; n > 0 {
		rows = append(rows, BreakdownRow{
			Category:    "Cookies",
			Description: fmt.Sprintf("%d cookie(s) set", n),
			Delta:       -cappedPenalty(n, cookiePenalty, cookieCap),
		})
	}

	return rows
}

func cappedPenalty(count, perItem, limit int) int {
	if p := count * perItem; p < limit {
		return p
	}
	return limit
}

// =============================================================================
// Summary
// =============================================================================

// Summary bundles every derived view of one report.
type Summary struct {
	// Server-computed score, clamped to 0-100; never recomputed locally
	Score int    `json:"score"`
	Label string `json:"label,omitempty"`

	DataSharing scan.DataSharingLevel `json:"dataSharing"`
	TLS         TLSAssessment         `json:"tls"`
	Categories  []Group               `json:"categories,omitempty"`
	Breakdown   []BreakdownRow        `json:"breakdown"`
}

// Summarize derives the full view model for one report.
func Summarize(r *scan.Report) *Summary {
	s := &Summary{
		DataSharing: DataSharing(r),
		TLS:         TLS(r),
		Categories:  Categories(r),
		Breakdown:   Breakdown(r),
	}
	if r != nil {
		s.Score = scan.ClampScore(r.Scan.Score)
		s.Label = r.Scan.Label
	}
	return s
}
