package scan

import (
	"encoding/json"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateQueued, false},
		{StateRunning, false},
		{StateDone, true},
		{StateError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("State(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	for _, s := range AllStates() {
		if !s.IsValid() {
			t.Errorf("State %q should be valid", s)
		}
	}
	if State("pending").IsValid() {
		t.Error("unknown state should not be valid")
	}
}

func TestEvidenceKind_Display(t *testing.T) {
	tests := []struct {
		name string
		kind EvidenceKind
		want string
	}{
		{"tracker", KindTracker, "Tracker"},
		{"thirdparty", KindThirdParty, "Third-Party Request"},
		{"cookie", KindCookie, "Cookie"},
		{"header", KindHeader, "Security Header"},
		{"insecure", KindInsecure, "Insecure Content"},
		{"tls", KindTLS, "TLS/SSL"},
		{"policy", KindPolicy, "Privacy Policy"},
		{"fingerprint", KindFingerprint, "Fingerprinting"},
		{"mixed content", KindMixedContent, "Mixed Content"},
		// Unknown kinds must still render with a fallback label.
		{"unknown kind", EvidenceKind("beacon"), "Beacon"},
		{"unknown hyphenated", EvidenceKind("web-bug"), "Web bug"},
		{"empty kind", EvidenceKind(""), "Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Display(); got != tt.want {
				t.Errorf("Display() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvidenceKind_IsValid(t *testing.T) {
	for _, k := range AllEvidenceKinds() {
		if !k.IsValid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if EvidenceKind("beacon").IsValid() {
		t.Error("unknown kind should not be valid")
	}
}

func TestParseEvidenceDetails(t *testing.T) {
	tests := []struct {
		name        string
		kind        EvidenceKind
		raw         string
		wantVariant bool
		wantDomain  string
	}{
		{
			name:        "tracker with domain",
			kind:        KindTracker,
			raw:         `{"domain":"tracker.example.net","vendor":"AdCo"}`,
			wantVariant: true,
			wantDomain:  "tracker.example.net",
		},
		{
			name:        "thirdparty with domain",
			kind:        KindThirdParty,
			raw:         `{"domain":"cdn.example.com","requestCount":7}`,
			wantVariant: true,
			wantDomain:  "cdn.example.com",
		},
		{
			name:        "tracker without domain field",
			kind:        KindTracker,
			raw:         `{"vendor":"AdCo"}`,
			wantVariant: true,
			wantDomain:  "",
		},
		{
			name:        "malformed details string payload",
			kind:        KindTracker,
			raw:         `"just a string"`,
			wantVariant: false,
		},
		{
			name:        "malformed details wrong types",
			kind:        KindCookie,
			raw:         `{"name":123,"ttlSeconds":"soon"}`,
			wantVariant: false,
		},
		{
			name:        "unknown kind keeps raw only",
			kind:        EvidenceKind("beacon"),
			raw:         `{"anything":"goes"}`,
			wantVariant: false,
		},
		{
			name:        "empty payload",
			kind:        KindTracker,
			raw:         "",
			wantVariant: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseEvidenceDetails(tt.kind, json.RawMessage(tt.raw))

			hasVariant := d.Tracker != nil || d.ThirdParty != nil || d.Cookie != nil ||
				d.Header != nil || d.Insecure != nil || d.TLS != nil ||
				d.Policy != nil || d.Fingerprint != nil || d.MixedContent != nil
			if hasVariant != tt.wantVariant {
				t.Errorf("variant parsed = %v, want %v", hasVariant, tt.wantVariant)
			}

			if tt.raw != "" && string(d.Raw) != tt.raw {
				t.Errorf("Raw = %s, want %s", d.Raw, tt.raw)
			}

			domain, ok := d.Domain()
			if tt.wantDomain == "" && ok {
				t.Errorf("Domain() = %q, want absent", domain)
			}
			if tt.wantDomain != "" && domain != tt.wantDomain {
				t.Errorf("Domain() = %q, want %q", domain, tt.wantDomain)
			}
		})
	}
}

func TestEvidenceDetails_TLSGrade(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantGrade string
		wantOK    bool
	}{
		{"grade present", `{"grade":"C"}`, "C", true},
		{"grade lowercased", `{"grade":" b "}`, "B", true},
		{"grade absent", `{"protocol":"TLS 1.2"}`, "", false},
		{"malformed payload", `"oops"`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseEvidenceDetails(KindTLS, json.RawMessage(tt.raw))
			grade, ok := d.TLSGrade()
			if ok != tt.wantOK || grade != tt.wantGrade {
				t.Errorf("TLSGrade() = (%q, %v), want (%q, %v)", grade, ok, tt.wantGrade, tt.wantOK)
			}
		})
	}
}

func TestEvidenceDetails_RoundTrip(t *testing.T) {
	raw := `{"domain":"tracker.example.net","vendor":"AdCo"}`
	ev := Evidence{
		ID:       "ev-1",
		Kind:     KindTracker,
		Severity: SeverityHigh,
		Title:    "Tracker detected",
		Details:  ParseEvidenceDetails(KindTracker, json.RawMessage(raw)),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back Evidence
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	// Only the raw payload survives serialization.
	if string(back.Details.Raw) != raw {
		t.Errorf("round-tripped raw = %s, want %s", back.Details.Raw, raw)
	}
	if back.Details.Tracker != nil {
		t.Error("variant should not be populated before rehydration")
	}

	r := Report{Evidence: []Evidence{back}}
	r.Rehydrate()
	if r.Evidence[0].Details.Tracker == nil {
		t.Fatal("Rehydrate() should repopulate the tracker variant")
	}
	if r.Evidence[0].Details.Tracker.Domain != "tracker.example.net" {
		t.Errorf("rehydrated domain = %q", r.Evidence[0].Details.Tracker.Domain)
	}
}

func TestClamps(t *testing.T) {
	tests := []struct {
		name string
		fn   func(int) int
		in   int
		want int
	}{
		{"severity below range", func(v int) int { return int(ClampSeverity(v)) }, 0, 1},
		{"severity above range", func(v int) int { return int(ClampSeverity(v)) }, 9, 5},
		{"severity in range", func(v int) int { return int(ClampSeverity(v)) }, 3, 3},
		{"score below range", ClampScore, -5, 0},
		{"score above range", ClampScore, 140, 100},
		{"score in range", ClampScore, 73, 73},
		{"progress below range", ClampProgress, -1, 0},
		{"progress above range", ClampProgress, 101, 100},
		{"progress in range", ClampProgress, 55, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("clamp(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSeverity_Label(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "Info"},
		{SeverityLow, "Low"},
		{SeverityMedium, "Medium"},
		{SeverityHigh, "High"},
		{SeverityCritical, "Critical"},
		{Severity(0), "Info"},      // clamped up
		{Severity(12), "Critical"}, // clamped down
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.Label(); got != tt.want {
				t.Errorf("Severity(%d).Label() = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestParseDataSharingLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   DataSharingLevel
		wantOK bool
	}{
		{"None", SharingNone, true},
		{"low", SharingLow, true},
		{"MEDIUM", SharingMedium, true},
		{"moderate", SharingMedium, true},
		{" High ", SharingHigh, true},
		{"extreme", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDataSharingLevel(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseDataSharingLevel(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
