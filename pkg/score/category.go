package score

import (
	"sort"
	"strings"

	"github.com/privlens/sdk/pkg/scan"
)

// Category is one semantic bucket of the report view.
type Category string

const (
	CategoryTracking   Category = "Tracking & Privacy"
	CategorySecurity   Category = "Security"
	CategoryCompliance Category = "Policy & Compliance"
	CategoryOther      Category = "Other"
)

// AllCategories returns the buckets in display order.
func AllCategories() []Category {
	return []Category{
		CategoryTracking,
		CategorySecurity,
		CategoryCompliance,
		CategoryOther,
	}
}

// String returns the string representation.
func (c Category) String() string {
	return string(c)
}

// kindBuckets assigns every known evidence kind to its bucket.
var kindBuckets = map[scan.EvidenceKind]Category{
	scan.KindTracker:      CategoryTracking,
	scan.KindThirdParty:   CategoryTracking,
	scan.KindCookie:       CategoryTracking,
	scan.KindFingerprint:  CategoryTracking,
	scan.KindTLS:          CategorySecurity,
	scan.KindInsecure:     CategorySecurity,
	scan.KindHeader:       CategorySecurity,
	scan.KindMixedContent: CategorySecurity,
	scan.KindPolicy:       CategoryCompliance,
}

// titleHints classify evidence whose kind falls outside the enumeration.
// Order matters: the first matching hint wins, so the assignment stays
// stable across scans.
var titleHints = []struct {
	substrings []string
	category   Category
}{
	{[]string{"tracker", "tracking", "fingerprint", "cookie", "third-party", "third party", "analytics", "beacon", "pixel", "advert"}, CategoryTracking},
	{[]string{"tls", "ssl", "certificate", "https", "insecure", "header", "mixed content", "csp", "hsts"}, CategorySecurity},
	{[]string{"policy", "consent", "gdpr", "ccpa", "compliance"}, CategoryCompliance},
}

// Categorize assigns an evidence item to exactly one bucket. Kind match
// first, title substring second, default bucket last; this order must not
// change or bucket assignment drifts between scans of the same site.
func Categorize(e scan.Evidence) Category {
	if c, ok := kindBuckets[e.Kind]; ok {
		return c
	}

	title := strings.ToLower(e.Title)
	for _, hint := range titleHints {
		for _, sub := range hint.substrings {
			if strings.Contains(title, sub) {
				return hint.category
			}
		}
	}

	return CategoryOther
}

// Group is one rendered bucket: its evidence sorted by descending severity,
// original report order preserved among equals.
type Group struct {
	Category Category        `json:"category"`
	Evidence []scan.Evidence `json:"evidence"`
}

// Categories groups a report's evidence into buckets. Only buckets with
// evidence appear, in the fixed display order.
func Categories(r *scan.Report) []Group {
	if r == nil {
		return nil
	}

	byCategory := make(map[Category][]scan.Evidence)
	for _, e := range r.Evidence {
		c := Categorize(e)
		byCategory[c] = append(byCategory[c], e)
	}

	var groups []Group
	for _, c := range AllCategories() {
		items := byCategory[c]
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Severity > items[j].Severity
		})
		groups = append(groups, Group{Category: c, Evidence: items})
	}
	return groups
}
