package core_test

import (
	"testing"

	"accounting-engine/internal/core"
)

func TestFingerprint(t *testing.T) {
	body := []byte(`{"date":"2025-01-15","lines":[]}`)

	// Identical requests fingerprint identically; the HTTP method is
	// normalized so proxies that lowercase it do not break replays.
	a := core.Fingerprint("POST", "/api/journal-entries", 1, body)
	b := core.Fingerprint("post", "/api/journal-entries", 1, body)
	if a != b {
		t.Errorf("Expected method casing not to matter: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected a hex sha256, got %d chars", len(a))
	}

	tests := []struct {
		name      string
		method    string
		path      string
		companyID int
		body      string
	}{
		{"different body", "POST", "/api/journal-entries", 1, `{"date":"2025-01-16","lines":[]}`},
		{"different path", "POST", "/api/journal-entries/1/reverse", 1, string(body)},
		{"different company", "POST", "/api/journal-entries", 2, string(body)},
		{"different method", "PUT", "/api/journal-entries", 1, string(body)},
	}
	for _, tt := range tests {
		got := core.Fingerprint(tt.method, tt.path, tt.companyID, []byte(tt.body))
		if got == a {
			t.Errorf("%s: expected a different fingerprint", tt.name)
		}
	}
}
