package guardrail

import "regexp"

// piiMatcher pairs one pattern with its redaction tag. Matchers run in a
// fixed order so overlapping patterns resolve deterministically: the resident
// number must win over SSN, card numbers over phone numbers.
type piiMatcher struct {
	tag     string
	pattern *regexp.Regexp
}

var piiMatchers = []piiMatcher{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"KR_RESIDENT_ID", regexp.MustCompile(`\b\d{6}-[1-4]\d{6}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)},
	{"PHONE", regexp.MustCompile(`\b(?:\+1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
	{"KR_PHONE", regexp.MustCompile(`\b01[016789]-\d{3,4}-\d{4}\b`)},
	{"IPV4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// MaskPII replaces recognized PII substrings with tagged redaction markers.
// The markers contain no digits or @, so re-masking masked text is a no-op.
func MaskPII(text string) string {
	for _, m := range piiMatchers {
		text = m.pattern.ReplaceAllString(text, "[REDACTED:"+m.tag+"]")
	}
	return text
}
