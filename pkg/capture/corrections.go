package capture

import (
	"regexp"
	"strings"
)

// correction rewrites a recognizer habit into the form downstream
// components expect. Patterns are applied in order on every transcript,
// partial and final alike, so the two views never diverge.
type correction struct {
	pattern *regexp.Regexp
	replace string
}

var corrections = []correction{
	{regexp.MustCompile(`(?i)\bwanna\b`), "want to"},
	{regexp.MustCompile(`(?i)\bgonna\b`), "going to"},
	{regexp.MustCompile(`(?i)\bgotta\b`), "got to"},
	{regexp.MustCompile(`(?i)\blemme\b`), "let me"},
	{regexp.MustCompile(`(?i)\bkinda\b`), "kind of"},
	{regexp.MustCompile(`(?i)\bblock chain\b`), "blockchain"},
	{regexp.MustCompile(`(?i)\bcrypto currency\b`), "cryptocurrency"},
	{regexp.MustCompile(`(?i)\bcrypto currencies\b`), "cryptocurrencies"},
	{regexp.MustCompile(`(?i)\ba p i\b`), "API"},
	{regexp.MustCompile(`(?i)\bjava script\b`), "JavaScript"},
	{regexp.MustCompile(`(?i)\btype script\b`), "TypeScript"},
}

// ApplyCorrections normalizes a raw transcript. It is a pure function:
// no state, no side effects, same input always yields the same output.
func ApplyCorrections(text string) string {
	out := strings.TrimSpace(text)
	for _, c := range corrections {
		out = c.pattern.ReplaceAllString(out, c.replace)
	}
	return out
}
