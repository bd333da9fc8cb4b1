package problemgen

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	reAndOr       = regexp.MustCompile(`\s+and/or\s+`)
	reOr          = regexp.MustCompile(`\s+or\s+`)
	reCommaAnd    = regexp.MustCompile(`,\s+and\s+`)
	reSeries      = regexp.MustCompile(`(\w+),\s+(\w+),\s+and\s+(\w+)`)
	reAnySpace    = regexp.MustCompile(`\s+`)
	reInlineSpace = regexp.MustCompile(`[ \t]+`)
)

// phraseRewrites are literal abbreviations applied in order.
var phraseRewrites = []struct{ from, to string }{
	{"categorical or quantitative", "categorical vs quantitative"},
	{"provided conditions for inference are met", "if conditions met"},
	{"using evidence and/or reasoning", "using evidence/reasoning"},
	{"describe the distribution of", "describe distribution of"},
	{"identify an appropriate", "identify appropriate"},
	{"in a given situation", "in situation"},
	{"in the context of", "in context of"},
}

// CompressLO shortens a learning objective description with fixed
// rewrite rules applied in order.
func CompressLO(text string) string {
	if text == "" {
		return text
	}

	s := reAndOr.ReplaceAllString(text, "/")
	s = reOr.ReplaceAllString(s, " vs ")
	s = reCommaAnd.ReplaceAllString(s, "/")

	for _, r := range phraseRewrites {
		s = strings.ReplaceAll(s, r.from, r.to)
	}

	// A trailing "in context" is kept.
	if !strings.HasSuffix(s, " in context") {
		s = strings.ReplaceAll(s, " in context,", ",")
		s = strings.ReplaceAll(s, " in context ", " ")
	}

	s = reSeries.ReplaceAllString(s, "${1}/${2}/${3}")
	return strings.TrimSpace(reAnySpace.ReplaceAllString(s, " "))
}

// normalizeWhitespace applies NFC normalization, collapses runs of spaces
// and tabs, and trims.
func normalizeWhitespace(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return reInlineSpace.ReplaceAllString(s, " ")
}

// truncate normalizes s and cuts it to at most n runes, ending in "...".
// Limits too small for the ellipsis get a hard cut.
func truncate(s string, n int) string {
	s = normalizeWhitespace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-3]) + "..."
}

// joinLines joins non-blank lines with their trailing space removed.
func joinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		out = append(out, strings.TrimRight(ln, " \t\r\n"))
	}
	return strings.Join(out, "\n")
}
