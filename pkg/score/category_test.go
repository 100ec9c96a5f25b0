package score

import (
	"testing"

	"github.com/privlens/sdk/pkg/scan"
)

func TestCategorize_KnownKinds(t *testing.T) {
	tests := []struct {
		kind scan.EvidenceKind
		want Category
	}{
		{scan.KindTracker, CategoryTracking},
		{scan.KindThirdParty, CategoryTracking},
		{scan.KindCookie, CategoryTracking},
		{scan.KindFingerprint, CategoryTracking},
		{scan.KindTLS, CategorySecurity},
		{scan.KindInsecure, CategorySecurity},
		{scan.KindHeader, CategorySecurity},
		{scan.KindMixedContent, CategorySecurity},
		{scan.KindPolicy, CategoryCompliance},
	}

	for _, tt := range tests {
		e := scan.Evidence{Kind: tt.kind, Title: "x"}
		if got := Categorize(e); got != tt.want {
			t.Errorf("Categorize(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestCategorize_TitleHeuristic(t *testing.T) {
	tests := []struct {
		name  string
		kind  scan.EvidenceKind
		title string
		want  Category
	}{
		{"tracking pixel", "beacon", "Tracking pixel from ad network", CategoryTracking},
		{"certificate", "transport", "Certificate chain incomplete", CategorySecurity},
		{"consent banner", "ux", "Consent banner missing opt-out", CategoryCompliance},
		{"no match", "widget", "Widget loads slowly", CategoryOther},
		{"empty title", "widget", "", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := scan.Evidence{Kind: tt.kind, Title: tt.title}
			if got := Categorize(e); got != tt.want {
				t.Errorf("Categorize(%s, %q) = %s, want %s", tt.kind, tt.title, got, tt.want)
			}
		})
	}
}

func TestCategorize_KindBeatsTitle(t *testing.T) {
	// A known kind wins even when the title hints elsewhere.
	e := scan.Evidence{Kind: scan.KindPolicy, Title: "Tracker policy statement"}
	if got := Categorize(e); got != CategoryCompliance {
		t.Errorf("Categorize() = %s, want kind match to win over title", got)
	}
}

func TestCategories_GroupOrderAndSorting(t *testing.T) {
	r := report(
		ev(scan.KindPolicy, 2, "Privacy policy missing topics", `{}`),
		ev(scan.KindTLS, 3, "TLS assessment", `{"grade":"B"}`),
		ev(scan.KindTracker, 2, "Tracker detected", `{"domain":"a.example.net"}`),
		ev(scan.KindCookie, 5, "Persistent cookie", `{"name":"uid"}`),
		ev(scan.KindInsecure, 5, "Password form over HTTP", `{}`),
	)

	groups := Categories(r)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	wantOrder := []Category{CategoryTracking, CategorySecurity, CategoryCompliance}
	for i, want := range wantOrder {
		if groups[i].Category != want {
			t.Errorf("group %d = %s, want %s", i, groups[i].Category, want)
		}
	}

	// Within Tracking & Privacy, the severity-5 cookie sorts before the
	// severity-2 tracker.
	tracking := groups[0]
	if tracking.Evidence[0].Kind != scan.KindCookie || tracking.Evidence[1].Kind != scan.KindTracker {
		t.Errorf("tracking group order = [%s %s], want severity-descending",
			tracking.Evidence[0].Kind, tracking.Evidence[1].Kind)
	}
}

func TestCategories_StableAmongEqualSeverity(t *testing.T) {
	r := report(
		ev(scan.KindTracker, 3, "First tracker", `{"domain":"a.example.net"}`),
		ev(scan.KindTracker, 3, "Second tracker", `{"domain":"b.example.net"}`),
		ev(scan.KindTracker, 3, "Third tracker", `{"domain":"c.example.net"}`),
	)

	groups := Categories(r)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	titles := []string{"First tracker", "Second tracker", "Third tracker"}
	for i, want := range titles {
		if groups[0].Evidence[i].Title != want {
			t.Errorf("position %d = %q, want %q (report order preserved)", i, groups[0].Evidence[i].Title, want)
		}
	}
}

func TestCategories_EmptyReport(t *testing.T) {
	if groups := Categories(report()); len(groups) != 0 {
		t.Errorf("got %d groups for empty report, want 0", len(groups))
	}
	if groups := Categories(nil); groups != nil {
		t.Errorf("got %v for nil report, want nil", groups)
	}
}
