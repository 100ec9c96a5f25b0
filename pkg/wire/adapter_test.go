package wire

import (
	"reflect"
	"testing"

	"github.com/privlens/sdk/pkg/errors"
	"github.com/privlens/sdk/pkg/scan"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"legacy", ModeLegacy, false},
		{"v1", ModeLegacy, false},
		{"current", ModeCurrent, false},
		{"v2", ModeCurrent, false},
		{"", DefaultMode, false},
		{"v3", "", true},
		{"Legacy", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMode_Prefix(t *testing.T) {
	if got := ModeLegacy.Prefix(); got != "/api/v1" {
		t.Errorf("legacy prefix = %q, want /api/v1", got)
	}
	if got := ModeCurrent.Prefix(); got != "/api/v2" {
		t.Errorf("current prefix = %q, want /api/v2", got)
	}
}

func TestNewAdapter(t *testing.T) {
	a, err := NewAdapter(ModeLegacy)
	if err != nil {
		t.Fatalf("NewAdapter(legacy) error = %v", err)
	}
	if a.Mode() != ModeLegacy {
		t.Errorf("Mode() = %q, want legacy", a.Mode())
	}

	a, err = NewAdapter("")
	if err != nil {
		t.Fatalf("NewAdapter(\"\") error = %v", err)
	}
	if a.Mode() != DefaultMode {
		t.Errorf("Mode() = %q, want default %q", a.Mode(), DefaultMode)
	}

	if _, err := NewAdapter("v9"); err == nil {
		t.Error("NewAdapter(v9) should fail")
	}
}

func TestAdapter_Paths(t *testing.T) {
	a := mustAdapter(t, ModeCurrent)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"submit", a.SubmitPath(), "/api/v2/scan/url"},
		{"status", a.StatusPath("scan-123"), "/api/v2/scan/scan-123/status"},
		{"status escaped", a.StatusPath("a/b c"), "/api/v2/scan/a%2Fb%20c/status"},
		{"report", a.ReportPath("example-com"), "/api/v2/report/example-com"},
		{"recent", a.RecentPath(), "/api/v2/reports/recent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("path = %q, want %q", tt.got, tt.want)
			}
		})
	}

	legacy := mustAdapter(t, ModeLegacy)
	if got := legacy.SubmitPath(); got != "/api/v1/scan/url" {
		t.Errorf("legacy submit path = %q, want /api/v1/scan/url", got)
	}
}

func TestEncodeSubmitRequest(t *testing.T) {
	a := mustAdapter(t, ModeCurrent)

	body, err := a.EncodeSubmitRequest("https://example.com", false)
	if err != nil {
		t.Fatalf("EncodeSubmitRequest() error = %v", err)
	}
	if string(body) != `{"url":"https://example.com"}` {
		t.Errorf("body = %s", body)
	}

	body, err = a.EncodeSubmitRequest("https://example.com", true)
	if err != nil {
		t.Fatalf("EncodeSubmitRequest(force) error = %v", err)
	}
	if string(body) != `{"url":"https://example.com","force":true}` {
		t.Errorf("forced body = %s", body)
	}

	if _, err := a.EncodeSubmitRequest("", false); err == nil {
		t.Error("empty target should fail")
	}
}

func TestDecodeSubmit(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		payload string
		want    scan.Submission
		wantErr bool
	}{
		{
			name:    "current shape",
			mode:    ModeCurrent,
			payload: `{"scanId":"scan-1","slug":"example-com","deduped":true}`,
			want:    scan.Submission{ScanID: "scan-1", Slug: "example-com", Deduped: true},
		},
		{
			name:    "legacy shape",
			mode:    ModeLegacy,
			payload: `{"scanId":"scan-1","reportSlug":"example-com"}`,
			want:    scan.Submission{ScanID: "scan-1", Slug: "example-com"},
		},
		{
			name:    "missing scan id",
			mode:    ModeCurrent,
			payload: `{"slug":"example-com"}`,
			wantErr: true,
		},
		{
			name:    "missing slug",
			mode:    ModeCurrent,
			payload: `{"scanId":"scan-1"}`,
			wantErr: true,
		},
		{
			name: "legacy payload rejected in current mode",
			mode: ModeCurrent,
			// reportSlug is not part of the v2 shape; no fallback happens.
			payload: `{"scanId":"scan-1","reportSlug":"example-com"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			mode:    ModeCurrent,
			payload: `{"scanId":`,
			wantErr: true,
		},
		{
			name:    "wrong field type",
			mode:    ModeCurrent,
			payload: `{"scanId":42,"slug":"x"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustAdapter(t, tt.mode)
			got, err := a.DecodeSubmit([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.IsSchemaError(err) {
					t.Errorf("error kind = %v, want schema error", errors.GetKind(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeSubmit() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeSubmit() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name         string
		mode         Mode
		payload      string
		wantState    scan.State
		wantProgress int
		wantSlug     string
		wantScore    *int
		wantErr      bool
	}{
		{
			name:         "current running",
			mode:         ModeCurrent,
			payload:      `{"status":"running","progress":45,"slug":"example-com"}`,
			wantState:    scan.StateRunning,
			wantProgress: 45,
			wantSlug:     "example-com",
		},
		{
			name:         "legacy slug rename",
			mode:         ModeLegacy,
			payload:      `{"status":"done","progress":100,"score":62,"reportSlug":"example-com"}`,
			wantState:    scan.StateDone,
			wantProgress: 100,
			wantSlug:     "example-com",
			wantScore:    intPtr(62),
		},
		{
			name:         "missing progress defaults to zero",
			mode:         ModeCurrent,
			payload:      `{"status":"queued"}`,
			wantState:    scan.StateQueued,
			wantProgress: 0,
		},
		{
			name:         "progress clamped",
			mode:         ModeCurrent,
			payload:      `{"status":"running","progress":250}`,
			wantState:    scan.StateRunning,
			wantProgress: 100,
		},
		{
			name:         "score clamped",
			mode:         ModeCurrent,
			payload:      `{"status":"done","progress":100,"score":-3}`,
			wantState:    scan.StateDone,
			wantProgress: 100,
			wantScore:    intPtr(0),
		},
		{
			name:    "unknown state",
			mode:    ModeCurrent,
			payload: `{"status":"paused"}`,
			wantErr: true,
		},
		{
			name:    "missing state",
			mode:    ModeCurrent,
			payload: `{"progress":10}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			mode:    ModeLegacy,
			payload: `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustAdapter(t, tt.mode)
			got, err := a.DecodeStatus("scan-1", []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.IsSchemaError(err) {
					t.Errorf("error kind = %v, want schema error", errors.GetKind(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStatus() error = %v", err)
			}
			if got.ID != "scan-1" {
				t.Errorf("ID = %q, want scan-1", got.ID)
			}
			if got.State != tt.wantState {
				t.Errorf("State = %q, want %q", got.State, tt.wantState)
			}
			if got.Progress != tt.wantProgress {
				t.Errorf("Progress = %d, want %d", got.Progress, tt.wantProgress)
			}
			if got.Slug != tt.wantSlug {
				t.Errorf("Slug = %q, want %q", got.Slug, tt.wantSlug)
			}
			if (got.Score == nil) != (tt.wantScore == nil) {
				t.Fatalf("Score presence = %v, want %v", got.Score != nil, tt.wantScore != nil)
			}
			if got.Score != nil && *got.Score != *tt.wantScore {
				t.Errorf("Score = %d, want %d", *got.Score, *tt.wantScore)
			}
		})
	}
}

func TestDecodeReport(t *testing.T) {
	a := mustAdapter(t, ModeCurrent)

	payload := `{
		"scan": {"id":"scan-1","input":"https://example.com","score":140,"label":"Medium risk","slug":"example-com"},
		"evidence": [
			{"id":"ev-1","scanId":"scan-1","kind":"tracker","severity":9,"title":"Tracker detected","details":{"domain":"ads.example.net"},"createdAt":"2025-01-02T15:04:05Z"},
			{"id":"ev-2","kind":"tls","severity":2,"title":"Weak TLS","details":{"grade":"C"}}
		],
		"issues": ["Trackers present"],
		"meta": {"engineVersion":"2.3.1","dataSharingLevel":"medium","scanDurationMs":5400}
	}`

	r, err := a.DecodeReport([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeReport() error = %v", err)
	}

	if r.Scan.ID != "scan-1" || r.Scan.Slug != "example-com" {
		t.Errorf("scan info = %+v", r.Scan)
	}
	if r.Scan.Score != 100 {
		t.Errorf("score = %d, want clamped 100", r.Scan.Score)
	}
	if len(r.Evidence) != 2 {
		t.Fatalf("evidence count = %d, want 2", len(r.Evidence))
	}
	if r.Evidence[0].Severity != 5 {
		t.Errorf("severity = %d, want clamped 5", r.Evidence[0].Severity)
	}
	if r.Evidence[0].Details.Tracker == nil || r.Evidence[0].Details.Tracker.Domain != "ads.example.net" {
		t.Errorf("tracker details not parsed: %+v", r.Evidence[0].Details)
	}
	if r.Evidence[1].ScanID != "scan-1" {
		t.Errorf("owner default = %q, want scan-1", r.Evidence[1].ScanID)
	}
	if grade, ok := r.Evidence[1].Details.TLSGrade(); !ok || grade != "C" {
		t.Errorf("tls grade = (%q, %v), want (C, true)", grade, ok)
	}
	if r.Meta == nil || r.Meta.EngineVersion != "2.3.1" {
		t.Errorf("meta = %+v", r.Meta)
	}
}

func TestDecodeReport_LegacyTypeRename(t *testing.T) {
	a := mustAdapter(t, ModeLegacy)

	payload := `{
		"scan": {"id":"scan-1","score":70,"reportSlug":"example-com"},
		"evidence": [{"id":"ev-1","type":"thirdparty","severity":3,"title":"CDN request","details":{"domain":"cdn.example.org"}}]
	}`

	r, err := a.DecodeReport([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeReport() error = %v", err)
	}
	if r.Scan.Slug != "example-com" {
		t.Errorf("slug = %q, want example-com", r.Scan.Slug)
	}
	if r.Evidence[0].Kind != scan.KindThirdParty {
		t.Errorf("kind = %q, want thirdparty", r.Evidence[0].Kind)
	}
}

func TestDecodeReport_MetaDroppedWhenMalformed(t *testing.T) {
	tests := []struct {
		name     string
		meta     string
		wantMeta bool
	}{
		{"valid meta", `{"engineVersion":"2.3.1"}`, true},
		{"meta is a string", `"oops"`, false},
		{"meta is an array", `[1,2]`, false},
		{"meta has wrong types", `{"scanDurationMs":"fast"}`, false},
		{"meta null", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustAdapter(t, ModeCurrent)
			payload := `{"scan":{"id":"scan-1","score":50,"slug":"s"},"evidence":[],"meta":` + tt.meta + `}`

			r, err := a.DecodeReport([]byte(payload))
			if err != nil {
				t.Fatalf("a malformed meta block must not fail the report: %v", err)
			}
			if (r.Meta != nil) != tt.wantMeta {
				t.Errorf("meta present = %v, want %v", r.Meta != nil, tt.wantMeta)
			}
		})
	}
}

func TestDecodeReport_MissingScanID(t *testing.T) {
	a := mustAdapter(t, ModeCurrent)
	_, err := a.DecodeReport([]byte(`{"scan":{"score":10},"evidence":[]}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsSchemaError(err) {
		t.Errorf("error kind = %v, want schema error", errors.GetKind(err))
	}
}

// Equivalent payloads in either contract version must normalize to deeply
// identical values; the versions differ by field renames only.
func TestDecode_CrossVersionEquivalence(t *testing.T) {
	currentAdapter := mustAdapter(t, ModeCurrent)
	legacyAdapter := mustAdapter(t, ModeLegacy)

	t.Run("submit", func(t *testing.T) {
		cur, err := currentAdapter.DecodeSubmit([]byte(`{"scanId":"scan-1","slug":"example-com","deduped":true}`))
		if err != nil {
			t.Fatalf("current decode error = %v", err)
		}
		leg, err := legacyAdapter.DecodeSubmit([]byte(`{"scanId":"scan-1","reportSlug":"example-com","deduped":true}`))
		if err != nil {
			t.Fatalf("legacy decode error = %v", err)
		}
		if !reflect.DeepEqual(cur, leg) {
			t.Errorf("submissions differ:\ncurrent: %+v\nlegacy:  %+v", cur, leg)
		}
	})

	t.Run("status", func(t *testing.T) {
		cur, err := currentAdapter.DecodeStatus("scan-1", []byte(`{"status":"running","progress":45,"label":"Scanning","slug":"example-com","updatedAt":"2025-01-02T15:04:05Z"}`))
		if err != nil {
			t.Fatalf("current decode error = %v", err)
		}
		leg, err := legacyAdapter.DecodeStatus("scan-1", []byte(`{"status":"running","progress":45,"label":"Scanning","reportSlug":"example-com","updatedAt":"2025-01-02T15:04:05Z"}`))
		if err != nil {
			t.Fatalf("legacy decode error = %v", err)
		}
		if !reflect.DeepEqual(cur, leg) {
			t.Errorf("jobs differ:\ncurrent: %+v\nlegacy:  %+v", cur, leg)
		}
	})

	t.Run("report", func(t *testing.T) {
		currentPayload := `{
			"scan": {"id":"scan-1","input":"https://example.com","score":62,"label":"Medium risk","slug":"example-com"},
			"evidence": [
				{"id":"ev-1","scanId":"scan-1","kind":"tracker","severity":4,"title":"Tracker detected","details":{"domain":"ads.example.net"},"createdAt":"2025-01-02T15:04:05Z"},
				{"id":"ev-2","kind":"cookie","severity":2,"title":"Long-lived cookie","details":{"name":"uid","ttlSeconds":31536000}}
			],
			"issues": ["Trackers present"],
			"topFixes": ["Remove third-party trackers"],
			"meta": {"engineVersion":"2.3.1","dataSharingLevel":"medium","scanDurationMs":5400}
		}`
		legacyPayload := `{
			"scan": {"id":"scan-1","input":"https://example.com","score":62,"label":"Medium risk","reportSlug":"example-com"},
			"evidence": [
				{"id":"ev-1","scanId":"scan-1","type":"tracker","severity":4,"title":"Tracker detected","details":{"domain":"ads.example.net"},"createdAt":"2025-01-02T15:04:05Z"},
				{"id":"ev-2","type":"cookie","severity":2,"title":"Long-lived cookie","details":{"name":"uid","ttlSeconds":31536000}}
			],
			"issues": ["Trackers present"],
			"topFixes": ["Remove third-party trackers"],
			"meta": {"engineVersion":"2.3.1","dataSharingLevel":"medium","scanDurationMs":5400}
		}`

		cur, err := currentAdapter.DecodeReport([]byte(currentPayload))
		if err != nil {
			t.Fatalf("current decode error = %v", err)
		}
		leg, err := legacyAdapter.DecodeReport([]byte(legacyPayload))
		if err != nil {
			t.Fatalf("legacy decode error = %v", err)
		}
		if !reflect.DeepEqual(cur, leg) {
			t.Errorf("reports differ:\ncurrent: %+v\nlegacy:  %+v", cur, leg)
		}
	})
}

func TestDecodeRecentReports(t *testing.T) {
	t.Run("current carries evidence count", func(t *testing.T) {
		a := mustAdapter(t, ModeCurrent)
		payload := `{"items":[{"slug":"example-com","score":88,"label":"Low risk","domain":"example.com","createdAt":"2025-01-02T15:04:05Z","evidenceCount":3}]}`

		rows, err := a.DecodeRecentReports([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeRecentReports() error = %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
		if rows[0].Slug != "example-com" || rows[0].EvidenceCount != 3 {
			t.Errorf("row = %+v", rows[0])
		}
	})

	t.Run("legacy defaults evidence count to zero", func(t *testing.T) {
		a := mustAdapter(t, ModeLegacy)
		payload := `{"items":[{"reportSlug":"example-com","score":88,"domain":"example.com"}]}`

		rows, err := a.DecodeRecentReports([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeRecentReports() error = %v", err)
		}
		if rows[0].Slug != "example-com" {
			t.Errorf("slug = %q, want example-com", rows[0].Slug)
		}
		if rows[0].EvidenceCount != 0 {
			t.Errorf("evidenceCount = %d, want 0", rows[0].EvidenceCount)
		}
	})

	t.Run("empty listing", func(t *testing.T) {
		a := mustAdapter(t, ModeCurrent)
		rows, err := a.DecodeRecentReports([]byte(`{"items":[]}`))
		if err != nil {
			t.Fatalf("DecodeRecentReports() error = %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("rows = %d, want 0", len(rows))
		}
	})

	t.Run("row without slug fails", func(t *testing.T) {
		a := mustAdapter(t, ModeCurrent)
		_, err := a.DecodeRecentReports([]byte(`{"items":[{"score":10}]}`))
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.IsSchemaError(err) {
			t.Errorf("error kind = %v, want schema error", errors.GetKind(err))
		}
	})
}

// =============================================================================
// Helpers
// =============================================================================

func mustAdapter(t *testing.T, mode Mode) *Adapter {
	t.Helper()
	a, err := NewAdapter(mode)
	if err != nil {
		t.Fatalf("NewAdapter(%q) error = %v", mode, err)
	}
	return a
}

func intPtr(i int) *int {
	return &i
}

func BenchmarkDecodeReport(b *testing.B) {
	a, _ := NewAdapter(ModeCurrent)
	payload := []byte(`{
		"scan": {"id":"scan-1","input":"https://example.com","score":62,"label":"Medium risk","slug":"example-com"},
		"evidence": [
			{"id":"ev-1","scanId":"scan-1","kind":"tracker","severity":4,"title":"Tracker detected","details":{"domain":"ads.example.net"}},
			{"id":"ev-2","kind":"tls","severity":2,"title":"Weak TLS","details":{"grade":"C"}}
		]
	}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.DecodeReport(payload); err != nil {
			b.Fatal(err)
		}
	}
}
