package problemgen

import (
	"fmt"
	"strings"
)

// Kind identifies the item variant a generation session produces.
type Kind string

const (
	// KindChoice is a four-option multiple-choice item.
	KindChoice Kind = "mcq"

	// KindMultiPart is a free-response item with labeled parts.
	KindMultiPart Kind = "frq"
)

// ParseKind accepts "mcq"/"choice" and "frq"/"multipart".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mcq", "choice":
		return KindChoice, nil
	case "frq", "multipart", "multi-part":
		return KindMultiPart, nil
	}
	return "", fmt.Errorf("unknown item kind %q (want mcq or frq)", s)
}

// Arity is the number of tab-separated fields in one row of this kind.
func (k Kind) Arity() int {
	if k == KindMultiPart {
		return 8
	}
	return 11
}

// Label is the upper-case tag used in item IDs.
func (k Kind) Label() string { return strings.ToUpper(string(k)) }

// ExamSection is the exam section whose description frames this kind.
func (k Kind) ExamSection() string {
	if k == KindMultiPart {
		return "II"
	}
	return "I"
}

// StimulusKinds returns the stimulus kinds a row of this kind may declare.
func (k Kind) StimulusKinds() []StimulusKind {
	if k == KindMultiPart {
		return []StimulusKind{StimulusNone, StimulusImage}
	}
	return []StimulusKind{StimulusNone, StimulusSVG, StimulusTable}
}

func (k Kind) allowsStimulus(s StimulusKind) bool {
	for _, allowed := range k.StimulusKinds() {
		if allowed == s {
			return true
		}
	}
	return false
}

// Difficulty is the self-reported difficulty of an item.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// StimulusKind is the kind of visual or tabular stimulus attached to an item.
type StimulusKind string

const (
	StimulusNone  StimulusKind = "none"
	StimulusImage StimulusKind = "image"
	StimulusTable StimulusKind = "table"
	StimulusSVG   StimulusKind = "svg"
)

// ImageFailedMarker is the text shown in place of an image that could not
// be generated. Rendered output containing it is quarantined by cleanup.
const ImageFailedMarker = "Image generation failed"

// Stimulus is the optional stimulus of an item. Payload holds the raw row
// payload (table text, SVG markup or IMAGE_PROMPT description). Image
// stimuli are later resolved to a generated file or marked failed.
type Stimulus struct {
	Kind    StimulusKind `json:"kind"`
	Payload string       `json:"payload,omitempty"`
	Image   *Image       `json:"image,omitempty"`
	Failed  bool         `json:"failed,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Image is a generated image attached to an image stimulus.
type Image struct {
	Path    string `json:"path"`
	Base64  string `json:"base64"`
	AltText string `json:"alt_text"`
}

// NeedsImage reports whether the stimulus still waits for a generated image.
func (s Stimulus) NeedsImage() bool {
	return s.Kind == StimulusImage && s.Image == nil && !s.Failed
}

// ImagePrompt returns the description after the IMAGE_PROMPT: marker.
func (s Stimulus) ImagePrompt() string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.Payload), imagePromptPrefix))
}

// MarkFailed degrades an image stimulus to the failure marker.
func (s *Stimulus) MarkFailed() {
	s.Failed = true
	s.Image = nil
	s.Error = ImageFailedMarker
}

// Meta holds the fields shared by every item variant.
type Meta struct {
	ID         string     `json:"id,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	SkillCodes []string   `json:"skill_codes"`
	LOIDs      []string   `json:"lo_ids"`
	Stimulus   Stimulus   `json:"stimulus"`
}

// Item is a validated question. It is implemented only by *ChoiceItem and
// *MultiPartItem; callers switch on the concrete type.
type Item interface {
	Kind() Kind
	Base() *Meta

	// Stem returns the question text (choice) or context (multi-part).
	Stem() string

	sealed()
}

// ChoiceItem is a multiple-choice item with exactly four options.
type ChoiceItem struct {
	Meta
	Question string    `json:"question"`
	Choices  [4]string `json:"choices"`
	Correct  int       `json:"correct_index"`
}

func (c *ChoiceItem) Kind() Kind   { return KindChoice }
func (c *ChoiceItem) Base() *Meta  { return &c.Meta }
func (c *ChoiceItem) Stem() string { return c.Question }
func (c *ChoiceItem) sealed()      {}

// CorrectLetter returns "A".."D" for the correct choice.
func (c *ChoiceItem) CorrectLetter() string {
	return string(rune('A' + c.Correct))
}

// Part is one labeled sub-question of a multi-part item.
type Part struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// MultiPartItem is a free-response item with labeled parts and scoring
// guidelines.
type MultiPartItem struct {
	Meta
	Context    string   `json:"context"`
	Parts      []Part   `json:"parts"`
	Guidelines []string `json:"scoring_guidelines"`
}

func (m *MultiPartItem) Kind() Kind   { return KindMultiPart }
func (m *MultiPartItem) Base() *Meta  { return &m.Meta }
func (m *MultiPartItem) Stem() string { return m.Context }
func (m *MultiPartItem) sealed()      {}

// ItemID formats the deterministic item identifier. unit, set and n are
// all 1-based.
func ItemID(courseID string, kind Kind, unit, set, n int) string {
	return fmt.Sprintf("%s_%s_U%dS%dQ%d", courseID, kind.Label(), unit, set, n)
}

// AssignIDs numbers items sequentially from 1. unitIndex and setIndex are
// 0-based.
func AssignIDs(items []Item, courseID string, unitIndex, setIndex int) {
	for i, it := range items {
		it.Base().ID = ItemID(courseID, it.Kind(), unitIndex+1, setIndex+1, i+1)
	}
}
