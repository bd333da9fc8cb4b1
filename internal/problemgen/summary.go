package problemgen

import (
	"fmt"
	"sort"
	"strings"
)

const maxOffendingPreview = 8

// Summarize renders rejection reports as feedback for a repair prompt.
// Reports are grouped by reason and ordered by descending count, ties
// broken by reason name. Each group carries fixed remediation text.
func Summarize(reports []RejectionReport) string {
	if len(reports) == 0 {
		return "No specific errors recorded."
	}

	groups := make(map[RejectionReason][]RejectionReport)
	for _, r := range reports {
		groups[r.Reason] = append(groups[r.Reason], r)
	}

	reasons := make([]RejectionReason, 0, len(groups))
	for r := range groups {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		ci, cj := len(groups[reasons[i]]), len(groups[reasons[j]])
		if ci != cj {
			return ci > cj
		}
		return reasons[i] < reasons[j]
	})

	lines := []string{"Common errors from previous attempts:"}
	for _, reason := range reasons {
		lines = append(lines, remediation(reason, groups[reason])...)
	}
	lines = append(lines, "", "CRITICAL REMINDER: Generate COMPLETE, VALID TSV rows following ALL format rules.")
	return strings.Join(lines, "\n")
}

func remediation(reason RejectionReason, group []RejectionReport) []string {
	n := len(group)
	switch reason {
	case ReasonMalformedRow:
		return []string{
			fmt.Sprintf("- %d rows had structural/format errors", n),
			"  → Each row MUST have exactly 11 tab-separated columns (MCQ) or 8 columns (FRQ)",
			"  → Use TAB character (\\t) between columns, NOT spaces",
			"  → FRQ parts must be labeled: a. ...|b. ...|c. ...",
		}
	case ReasonInvalidEnum:
		return []string{
			fmt.Sprintf("- %d rows had invalid field values", n),
			"  → Ensure difficulty is easy/medium/hard",
			"  → Ensure correct_idx is 0/1/2/3 (MCQ)",
			"  → stim_type must be none/svg/table (MCQ) or none/image (FRQ)",
		}
	case ReasonEmptyRequiredField:
		return []string{
			fmt.Sprintf("- %d rows left required fields empty", n),
			"  → Every row needs skill codes, LO IDs and a question (MCQ) or context and parts (FRQ)",
			"  → All four answer choices must be non-empty",
		}
	case ReasonDisallowedSkillCode:
		return []string{
			fmt.Sprintf("- %d questions used INVALID skill codes", n),
			"  → Invalid codes found: " + strings.Join(offendingPreview(group), ", "),
			"  → ONLY use codes from ALLOWED_SKILLS in unit context",
			"  → Double-check each skill code before using",
		}
	case ReasonDisallowedLOID:
		return []string{
			fmt.Sprintf("- %d questions used INVALID learning objective IDs", n),
			"  → Invalid IDs found: " + strings.Join(offendingPreview(group), ", "),
			"  → ONLY use IDs from ALLOWED_LOS in unit context",
			"  → Cross-reference each LO ID carefully",
		}
	case ReasonMalformedStimulus:
		return stimulusRemediation(group)
	}

	line := fmt.Sprintf("- %s (%dx)", reason, n)
	if d := group[0].Detail; d != "" {
		if r := []rune(d); len(r) > 60 {
			d = string(r[:60])
		}
		line = fmt.Sprintf("- %s (%dx): %s", reason, n, d)
	}
	return []string{line}
}

func stimulusRemediation(group []RejectionReport) []string {
	seen := make(map[StimulusKind]bool)
	for _, r := range group {
		seen[r.Stimulus] = true
	}

	lines := []string{fmt.Sprintf("- %d questions had invalid stimuli", len(group))}
	if seen[StimulusNone] {
		lines = append(lines,
			"  → stim_payload MUST be empty when stim_type=none",
		)
	}
	if seen[StimulusSVG] {
		lines = append(lines,
			"  → SVG MUST start with <svg and end with </svg>",
			"  → NO <script> tags or on* event attributes allowed",
			"  → Font size must be ≥ 12",
			"  → Maximum 8 <text> elements",
		)
	}
	if seen[StimulusTable] {
		lines = append(lines,
			"  → ALL rows must start AND end with | character",
			"  → Second row MUST be separator: | --- | --- |",
			"  → ALL rows must have SAME column count",
			"  → Use literal \\n between rows (not actual newlines)",
			"  → Never put tables inside answer choices; use stim_type=table",
		)
	}
	if seen[StimulusImage] {
		lines = append(lines,
			"  → Image payload MUST start with IMAGE_PROMPT:",
			fmt.Sprintf("  → Describe the image in detail (at least %d characters)", MinImagePromptLen),
		)
	}
	if len(lines) == 1 || seen[""] {
		lines = append(lines, "  → Provide a non-empty stim_payload whenever stim_type is not none")
	}
	return lines
}

// offendingPreview returns the unique offending codes of a group in
// first-seen order, capped at maxOffendingPreview.
func offendingPreview(group []RejectionReport) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range group {
		codes := r.Offending
		if len(codes) == 0 && r.Detail != "" {
			codes = splitCodes(r.Detail)
		}
		for _, c := range codes {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			if len(out) == maxOffendingPreview {
				return out
			}
		}
	}
	return out
}
