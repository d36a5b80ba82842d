package fingerprint

import (
	"regexp"
	"strings"
)

// automationUARegexes is a policy knob, not derived logic: the set of
// user-agent substrings treated as known automation tooling. Revisit
// this list independently of the scoring weights below — it is left
// as an explicit, replaceable slice rather than baked into the scorer.
var automationUARegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)curl/`),
	regexp.MustCompile(`(?i)wget/`),
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)python-urllib`),
	regexp.MustCompile(`(?i)go-http-client`),
	regexp.MustCompile(`(?i)axios/`),
	regexp.MustCompile(`(?i)okhttp`),
	regexp.MustCompile(`(?i)libwww-perl`),
	regexp.MustCompile(`(?i)apache-httpclient`),
	regexp.MustCompile(`(?i)java/`),
	regexp.MustCompile(`(?i)ruby`),
	regexp.MustCompile(`(?i)phantomjs`),
	regexp.MustCompile(`(?i)headlesschrome`),
	regexp.MustCompile(`(?i)puppeteer`),
	regexp.MustCompile(`(?i)playwright`),
	regexp.MustCompile(`(?i)selenium`),
	regexp.MustCompile(`(?i)scrapy`),
	regexp.MustCompile(`(?i)bot\b`),
	regexp.MustCompile(`(?i)crawler`),
	regexp.MustCompile(`(?i)spider`),
	regexp.MustCompile(`(?i)postmanruntime`),
	regexp.MustCompile(`(?i)insomnia`),
}

var browserLikeUA = regexp.MustCompile(`(?i)(mozilla|chrome|safari|firefox|edge|webkit)`)

// AutomationRequest is the subset of a request the automation detector
// needs; it mirrors the HTTP-header idiom used elsewhere in this
// package rather than depending on *http.Request directly so it can be
// unit tested without constructing one.
type AutomationRequest struct {
	UserAgent      string
	AcceptLanguage string
	Accept         string
	AcceptEncoding string
	SecFetchSite   string
	SecFetchMode   string
	SecFetchDest   string
	Connection     string
}

type AutomationResult struct {
	IsAutomated bool     `json:"isAutomated"`
	Confidence  int      `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

// DetectAutomation sums the weighted signals and flags isAutomated at
// a confidence sum ≥ 50, capped at 100.
func DetectAutomation(req AutomationRequest) AutomationResult {
	score := 0
	var reasons []string

	if strings.TrimSpace(req.UserAgent) == "" {
		score += 40
		reasons = append(reasons, "missing_user_agent")
	} else {
		for _, re := range automationUARegexes {
			if re.MatchString(req.UserAgent) {
				score += 35
				reasons = append(reasons, "known_automation_user_agent")
				break
			}
		}
	}

	if strings.TrimSpace(req.AcceptLanguage) == "" {
		score += 15
		reasons = append(reasons, "missing_accept_language")
	}

	if strings.TrimSpace(req.Accept) == "*/*" {
		score += 10
		reasons = append(reasons, "generic_accept_header")
	}

	if strings.TrimSpace(req.AcceptEncoding) == "" {
		score += 10
		reasons = append(reasons, "missing_accept_encoding")
	}

	noSecFetch := req.SecFetchSite == "" && req.SecFetchMode == "" && req.SecFetchDest == ""
	if noSecFetch {
		score += 15
		reasons = append(reasons, "missing_sec_fetch_headers")

		if browserLikeUA.MatchString(req.UserAgent) {
			score += 20
			reasons = append(reasons, "browser_user_agent_without_sec_fetch")
		}
	}

	if strings.EqualFold(strings.TrimSpace(req.Connection), "close") {
		score += 5
		reasons = append(reasons, "connection_close")
	}

	confidence := score
	if confidence > 100 {
		confidence = 100
	}

	return AutomationResult{
		IsAutomated: score >= 50,
		Confidence:  confidence,
		Reasons:     reasons,
	}
}
