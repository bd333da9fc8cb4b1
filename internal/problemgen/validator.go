package problemgen

import (
	"fmt"
	"strconv"
	"strings"
)

// RejectionReason is the closed set of reasons a row can be rejected for.
type RejectionReason string

const (
	ReasonMalformedRow        RejectionReason = "malformed-row"
	ReasonInvalidEnum         RejectionReason = "invalid-enum"
	ReasonEmptyRequiredField  RejectionReason = "empty-required-field"
	ReasonDisallowedSkillCode RejectionReason = "disallowed-skill-code"
	ReasonDisallowedLOID      RejectionReason = "disallowed-lo-id"
	ReasonMalformedStimulus   RejectionReason = "malformed-stimulus"
)

// Reasons lists every rejection reason in taxonomy order.
var Reasons = []RejectionReason{
	ReasonMalformedRow,
	ReasonInvalidEnum,
	ReasonEmptyRequiredField,
	ReasonDisallowedSkillCode,
	ReasonDisallowedLOID,
	ReasonMalformedStimulus,
}

// RejectionReport describes why one row was rejected.
type RejectionReport struct {
	// Row is the 1-based index of the row within its response.
	Row    int
	Reason RejectionReason
	Detail string

	// Offending holds the disallowed codes for disallowed-* reasons.
	Offending []string

	// Stimulus is the declared stimulus kind for malformed-stimulus reports.
	Stimulus StimulusKind
}

func (r *RejectionReport) Error() string {
	return fmt.Sprintf("row %d: %s: %s", r.Row, r.Reason, r.Detail)
}

// RawRow is one line of model output split on tabs.
type RawRow struct {
	Index  int
	Fields []string
}

// Validator checks one aspect of a raw row. Validators run in order and the
// first failure rejects the row. Implementations are stateless and safe
// for concurrent use.
type Validator interface {
	// Name returns a short identifier for logging, e.g. "arity".
	Name() string

	// Validate returns nil if the row passes this check.
	Validate(row RawRow, kind Kind, c Constraints) *RejectionReport
}

// DefaultValidators is the fixed check order: arity, then field enums and
// emptiness, then stimulus structure, then allow-list membership.
func DefaultValidators() []Validator {
	return []Validator{
		&ArityValidator{},
		&FieldValidator{},
		&StimulusValidator{},
		&AllowListValidator{},
	}
}

// RowValidator turns raw rows into items.
type RowValidator struct {
	validators []Validator
}

// NewRowValidator creates a RowValidator. With no validators given it uses
// DefaultValidators.
func NewRowValidator(validators ...Validator) *RowValidator {
	if len(validators) == 0 {
		validators = DefaultValidators()
	}
	return &RowValidator{validators: validators}
}

// Validate runs every check on row and, if all pass, decodes it into an
// item of the given kind with its ID unset.
func (v *RowValidator) Validate(row RawRow, kind Kind, c Constraints) (Item, *RejectionReport) {
	row = normalizeRow(row)
	for _, check := range v.validators {
		if rep := check.Validate(row, kind, c); rep != nil {
			rep.Row = row.Index
			return nil, rep
		}
	}
	return decodeRow(row, kind), nil
}

// ValidateAll validates every row, partitioning into items and reports.
func (v *RowValidator) ValidateAll(rows []RawRow, kind Kind, c Constraints) ([]Item, []RejectionReport) {
	var items []Item
	var reports []RejectionReport
	for _, r := range rows {
		it, rep := v.Validate(r, kind, c)
		if rep != nil {
			reports = append(reports, *rep)
			continue
		}
		items = append(items, it)
	}
	return items, reports
}

func normalizeRow(row RawRow) RawRow {
	fields := make([]string, len(row.Fields))
	for i, f := range row.Fields {
		fields[i] = strings.TrimSpace(f)
	}
	return RawRow{Index: row.Index, Fields: fields}
}

// rowFields names the fields shared by both kinds.
type rowFields struct {
	difficulty string
	skills     string
	los        string
	stimKind   string
	stimLoad   string
}

func sharedFields(row RawRow, kind Kind) rowFields {
	f := row.Fields
	n := len(f)
	return rowFields{
		difficulty: f[0],
		skills:     f[1],
		los:        f[2],
		stimKind:   f[n-2],
		stimLoad:   f[n-1],
	}
}

// splitCodes splits a comma-separated code list, dropping blanks.
func splitCodes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ArityValidator rejects rows with the wrong field count.
type ArityValidator struct{}

func (v *ArityValidator) Name() string { return "arity" }

func (v *ArityValidator) Validate(row RawRow, kind Kind, _ Constraints) *RejectionReport {
	if len(row.Fields) != kind.Arity() {
		return &RejectionReport{
			Reason: ReasonMalformedRow,
			Detail: fmt.Sprintf("wrong column count (expected %d, got %d)", kind.Arity(), len(row.Fields)),
		}
	}
	return nil
}

// FieldValidator checks enumerated values, required fields and stimulus
// payload consistency.
type FieldValidator struct{}

func (v *FieldValidator) Name() string { return "fields" }

func (v *FieldValidator) Validate(row RawRow, kind Kind, _ Constraints) *RejectionReport {
	sf := sharedFields(row, kind)

	if !Difficulty(sf.difficulty).valid() {
		return &RejectionReport{Reason: ReasonInvalidEnum, Detail: fmt.Sprintf("invalid difficulty %q", sf.difficulty)}
	}
	if len(splitCodes(sf.skills)) == 0 {
		return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: "empty skill_codes"}
	}
	if len(splitCodes(sf.los)) == 0 {
		return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: "empty learning_objective_ids"}
	}

	var rep *RejectionReport
	switch kind {
	case KindChoice:
		rep = checkChoiceFields(row.Fields)
	case KindMultiPart:
		rep = checkMultiPartFields(row.Fields)
	}
	if rep != nil {
		return rep
	}

	stim := StimulusKind(sf.stimKind)
	if !kind.allowsStimulus(stim) {
		return &RejectionReport{Reason: ReasonInvalidEnum, Detail: fmt.Sprintf("invalid stimulus_type %q", sf.stimKind)}
	}
	if stim == StimulusNone && sf.stimLoad != "" {
		return &RejectionReport{
			Reason:   ReasonMalformedStimulus,
			Detail:   "stimulus_payload must be empty when stimulus_type=none",
			Stimulus: stim,
		}
	}
	if stim != StimulusNone && sf.stimLoad == "" {
		return &RejectionReport{Reason: ReasonMalformedStimulus, Detail: "missing stimulus_payload", Stimulus: stim}
	}

	if kind == KindChoice {
		for i, choice := range row.Fields[5:9] {
			if looksLikePipeTable(choice) {
				return &RejectionReport{
					Reason:   ReasonMalformedStimulus,
					Detail:   fmt.Sprintf("choice %c contains a table; use stim_type=table + stim_payload", 'A'+i),
					Stimulus: StimulusTable,
				}
			}
		}
	}
	return nil
}

func checkChoiceFields(f []string) *RejectionReport {
	if f[4] == "" {
		return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: "empty question text"}
	}
	for i, choice := range f[5:9] {
		if choice == "" {
			return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: fmt.Sprintf("empty choice %c", 'A'+i)}
		}
	}
	idx, err := strconv.Atoi(f[3])
	if err != nil {
		return &RejectionReport{Reason: ReasonInvalidEnum, Detail: fmt.Sprintf("non-integer correct_index %q", f[3])}
	}
	if idx < 0 || idx > 3 {
		return &RejectionReport{Reason: ReasonInvalidEnum, Detail: fmt.Sprintf("correct_index %d out of range 0-3", idx)}
	}
	return nil
}

func checkMultiPartFields(f []string) *RejectionReport {
	if f[3] == "" {
		return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: "empty context"}
	}
	if f[4] == "" {
		return &RejectionReport{Reason: ReasonEmptyRequiredField, Detail: "empty parts"}
	}
	if !partLabelPattern.MatchString(f[4]) {
		return &RejectionReport{Reason: ReasonMalformedRow, Detail: "parts must contain labeled sections (a., b., etc.)"}
	}
	return nil
}

// StimulusValidator checks the structure of table, SVG and image payloads.
type StimulusValidator struct{}

func (v *StimulusValidator) Name() string { return "stimulus" }

func (v *StimulusValidator) Validate(row RawRow, kind Kind, _ Constraints) *RejectionReport {
	sf := sharedFields(row, kind)
	stim := StimulusKind(sf.stimKind)

	var err error
	switch stim {
	case StimulusTable:
		_, err = ParseTable(sf.stimLoad)
	case StimulusSVG:
		err = CheckSVG(sf.stimLoad)
	case StimulusImage:
		err = CheckImagePrompt(sf.stimLoad)
	}
	if err != nil {
		return &RejectionReport{Reason: ReasonMalformedStimulus, Detail: err.Error(), Stimulus: stim}
	}
	return nil
}

// AllowListValidator rejects rows that reference skill codes or LO IDs
// outside the unit's constraints. One bad code rejects the whole row.
type AllowListValidator struct{}

func (v *AllowListValidator) Name() string { return "allow-list" }

func (v *AllowListValidator) Validate(row RawRow, kind Kind, c Constraints) *RejectionReport {
	sf := sharedFields(row, kind)

	var badSkills []string
	for _, s := range splitCodes(sf.skills) {
		if !c.AllowsSkill(s) {
			badSkills = append(badSkills, s)
		}
	}
	if len(badSkills) > 0 {
		return &RejectionReport{
			Reason:    ReasonDisallowedSkillCode,
			Detail:    strings.Join(badSkills, ","),
			Offending: badSkills,
		}
	}

	var badLOs []string
	for _, lo := range splitCodes(sf.los) {
		if !c.AllowsLO(lo) {
			badLOs = append(badLOs, lo)
		}
	}
	if len(badLOs) > 0 {
		return &RejectionReport{
			Reason:    ReasonDisallowedLOID,
			Detail:    strings.Join(badLOs, ","),
			Offending: badLOs,
		}
	}
	return nil
}

// decodeRow builds the item for a row that passed every check.
func decodeRow(row RawRow, kind Kind) Item {
	f := row.Fields
	sf := sharedFields(row, kind)
	meta := Meta{
		Difficulty: Difficulty(sf.difficulty),
		SkillCodes: splitCodes(sf.skills),
		LOIDs:      splitCodes(sf.los),
		Stimulus:   Stimulus{Kind: StimulusKind(sf.stimKind), Payload: sf.stimLoad},
	}

	if kind == KindMultiPart {
		return &MultiPartItem{
			Meta:       meta,
			Context:    f[3],
			Parts:      ParseParts(f[4]),
			Guidelines: ParseGuidelines(f[5]),
		}
	}

	idx, _ := strconv.Atoi(f[3])
	return &ChoiceItem{
		Meta:     meta,
		Question: f[4],
		Choices:  [4]string{f[5], f[6], f[7], f[8]},
		Correct:  idx,
	}
}
