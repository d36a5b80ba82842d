package fingerprint

import "testing"

func TestEnhancedIsDeterministicAndInputSensitive(t *testing.T) {
	s := Signals{IP: "203.0.113.10", UserAgent: "Mozilla/5.0"}
	h1 := Enhanced(s)
	h2 := Enhanced(s)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s vs %s", h1, h2)
	}

	other := Signals{IP: "203.0.113.11", UserAgent: "Mozilla/5.0"}
	if Enhanced(other) == h1 {
		t.Fatalf("expected different IP to change the fingerprint")
	}
}

func TestLegacyFingerprint(t *testing.T) {
	h := Legacy("Mozilla/5.0", "203.0.113.10")
	if h == "" || len(h) != 64 {
		t.Fatalf("expected 64-char hex digest, got %q", h)
	}
}

func TestDetectAutomationFlagsCurl(t *testing.T) {
	res := DetectAutomation(AutomationRequest{UserAgent: "curl/8.4.0"})
	if !res.IsAutomated {
		t.Fatalf("expected curl UA to be flagged automated, got score %d", res.Confidence)
	}
}

func TestDetectAutomationAllowsOrdinaryBrowser(t *testing.T) {
	res := DetectAutomation(AutomationRequest{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Accept:         "text/html,application/xhtml+xml",
		AcceptEncoding: "gzip, deflate, br",
		SecFetchSite:   "same-origin",
		SecFetchMode:   "navigate",
		SecFetchDest:   "document",
	})
	if res.IsAutomated {
		t.Fatalf("expected ordinary browser request to not be flagged, got score %d reasons %v", res.Confidence, res.Reasons)
	}
}

func TestDetectAutomationPythonRequestsMatchesS5Scenario(t *testing.T) {
	res := DetectAutomation(AutomationRequest{UserAgent: "python-requests/2.31"})
	if !res.IsAutomated || res.Confidence < 70 {
		t.Fatalf("expected python-requests UA to score >=70, got %d", res.Confidence)
	}
}
