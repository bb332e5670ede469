package normalize

import (
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	// Letters, digits, underscore, whitespace, and basic sentence
	// punctuation survive; everything else (emoji, bullets, quotes) goes.
	// \p{L}\p{N} rather than ASCII \w so non-English text is preserved.
	dropPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s.,?!-]`)
	wsPattern   = regexp.MustCompile(`\s+`)
)

// NormalizeText canonicalizes text for fingerprinting and near-duplicate
// comparison: lower-case, URLs stripped, whitespace collapsed, characters
// outside the letter/digit/punctuation set removed, then trimmed.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = urlPattern.ReplaceAllString(s, " ")
	s = dropPattern.ReplaceAllString(s, "")
	s = wsPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
