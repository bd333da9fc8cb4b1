package course

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Course is the structured content outline for one AP course, as extracted
// from the official course and exam description.
type Course struct {
	// ID is the course slug used in file names and item IDs,
	// e.g. "ap_statistics". Derived from the file name when absent.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Name is the display name, e.g. "AP Statistics".
	Name string `json:"name" yaml:"name"`

	Skills       []SkillCategory `json:"skills" yaml:"skills"`
	BigIdeas     []BigIdea       `json:"big_ideas" yaml:"big_ideas"`
	ExamSections []ExamSection   `json:"exam_sections,omitempty" yaml:"exam_sections,omitempty"`
	TaskVerbs    []TaskVerb      `json:"task_verbs,omitempty" yaml:"task_verbs,omitempty"`
	Units        []UnitOutline   `json:"units" yaml:"units"`
}

// SkillCategory groups subskills under a course-level skill.
type SkillCategory struct {
	Name      string     `json:"skill_name" yaml:"skill_name"`
	Subskills []Subskill `json:"subskills" yaml:"subskills"`
}

// Subskill is a single skill code, e.g. "1.A".
type Subskill struct {
	Code        ID     `json:"subskill_name" yaml:"subskill_name"`
	Description string `json:"subskill_description" yaml:"subskill_description"`
}

// BigIdea is a course-level big idea (e.g. "VAR") or a topic-level one
// (e.g. "VAR-1"). Topic-level entries usually carry only a description.
type BigIdea struct {
	ID          ID     `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ExamSection describes one section of the exam ("I" or "II").
type ExamSection struct {
	Section      string   `json:"section" yaml:"section"`
	Descriptions []string `json:"descriptions" yaml:"descriptions"`
}

// TaskVerb is a command word used in free-response prompts.
type TaskVerb struct {
	Verb        string `json:"verb" yaml:"verb"`
	Description string `json:"description" yaml:"description"`
}

// UnitOutline is a unit as it appears in the course file.
type UnitOutline struct {
	ID     ID      `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Topics []Topic `json:"topics" yaml:"topics"`
}

// Topic is a numbered topic within a unit.
type Topic struct {
	ID                     ID                  `json:"id" yaml:"id"`
	Name                   string              `json:"name" yaml:"name"`
	SuggestedSubskillCodes []ID                `json:"suggested_subskill_codes" yaml:"suggested_subskill_codes"`
	BigIdeas               []BigIdea           `json:"big_ideas,omitempty" yaml:"big_ideas,omitempty"`
	LearningObjectives     []LearningObjective `json:"learning_objectives" yaml:"learning_objectives"`
}

// LearningObjective is a single LO with its essential knowledge statements.
type LearningObjective struct {
	ID                 ID                   `json:"id" yaml:"id"`
	Description        string               `json:"description" yaml:"description"`
	EssentialKnowledge []EssentialKnowledge `json:"essential_knowledge,omitempty" yaml:"essential_knowledge,omitempty"`
}

// EssentialKnowledge is a statement supporting a learning objective.
type EssentialKnowledge struct {
	ID          ID     `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

// ID is an identifier that course files write either as a string or as a
// bare number ("1.2" vs 1.2). It always holds the trimmed string form.
type ID string

// UnmarshalJSON accepts JSON strings and numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier with surrounding whitespace removed.
func (id ID) String() string { return strings.TrimSpace(string(id)) }

// SkillInfo is the lookup value for a skill code.
type SkillInfo struct {
	Category    string
	Description string
}

// SkillLookup maps every subskill code to its category and description.
// Subskills with an empty code are ignored.
func (c *Course) SkillLookup() map[string]SkillInfo {
	out := make(map[string]SkillInfo)
	for _, cat := range c.Skills {
		for _, sub := range cat.Subskills {
			code := sub.Code.String()
			if code == "" {
				continue
			}
			out[code] = SkillInfo{Category: cat.Name, Description: sub.Description}
		}
	}
	return out
}

// BigIdeaLookup maps course-level big idea IDs to their definitions.
func (c *Course) BigIdeaLookup() map[string]BigIdea {
	out := make(map[string]BigIdea)
	for _, bi := range c.BigIdeas {
		id := bi.ID.String()
		if id == "" {
			continue
		}
		out[id] = bi
	}
	return out
}

// ExamSection returns the section with the given key ("I" or "II").
func (c *Course) ExamSection(key string) (ExamSection, bool) {
	for _, s := range c.ExamSections {
		if s.Section == key {
			return s, true
		}
	}
	return ExamSection{}, false
}

// Unit is the immutable generation unit: one unit of one course.
// Index is 0-based; Number returns the 1-based unit number used in names.
type Unit struct {
	CourseID   string
	CourseName string
	Index      int
	Title      string
	Topics     []Topic
}

// Number returns the 1-based unit number.
func (u Unit) Number() int { return u.Index + 1 }

// Label returns a short "course | U3" label for logs.
func (u Unit) Label() string { return fmt.Sprintf("%s | U%d", u.CourseID, u.Number()) }

// LOIDs returns every non-empty learning objective ID in topic order.
func (u Unit) LOIDs() []string {
	var ids []string
	for _, t := range u.Topics {
		for _, lo := range t.LearningObjectives {
			if id := lo.ID.String(); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Unit returns the generation unit at 0-based index i.
func (c *Course) Unit(i int) (Unit, error) {
	if i < 0 || i >= len(c.Units) {
		return Unit{}, fmt.Errorf("course %s has %d units, index %d out of range", c.ID, len(c.Units), i)
	}
	u := c.Units[i]
	return Unit{
		CourseID:   c.ID,
		CourseName: strings.TrimSpace(c.Name),
		Index:      i,
		Title:      strings.TrimSpace(u.Name),
		Topics:     u.Topics,
	}, nil
}

// AllUnits returns every unit of the course in order.
func (c *Course) AllUnits() []Unit {
	units := make([]Unit, 0, len(c.Units))
	for i := range c.Units {
		u, _ := c.Unit(i)
		units = append(units, u)
	}
	return units
}
