package problemgen

import (
	"regexp"
	"strings"
)

var (
	partLabelPattern = regexp.MustCompile(`(?i)[a-z][.)]`)
	partPrefix       = regexp.MustCompile(`(?is)^([a-z])[.)]\s*(.+)`)
)

// ParseRows splits raw model output into rows. Blank lines and markdown
// code fences are skipped; rows are numbered from 1 in output order.
func ParseRows(text string) []RawRow {
	var rows []RawRow
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, "\r")
		trimmed := strings.TrimSpace(ln)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}
		rows = append(rows, RawRow{
			Index:  len(rows) + 1,
			Fields: strings.Split(ln, "\t"),
		})
	}
	return rows
}

// ParseParts splits a "|"-separated parts field into labeled parts.
// Segments without an "a." or "a)" label get the next letter in sequence.
func ParseParts(s string) []Part {
	var parts []Part
	for _, seg := range strings.Split(s, "|") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if m := partPrefix.FindStringSubmatch(seg); m != nil {
			parts = append(parts, Part{Label: strings.ToLower(m[1]), Prompt: strings.TrimSpace(m[2])})
			continue
		}
		parts = append(parts, Part{Label: string(rune('a' + len(parts))), Prompt: seg})
	}
	return parts
}

// ParseGuidelines splits a "|"-separated scoring guidelines field.
func ParseGuidelines(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, "|") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
