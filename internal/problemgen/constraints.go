package problemgen

import (
	"slices"
	"sort"
)

// Constraints are the allow-lists a generated row is checked against.
// The zero value allows nothing. Constraints are immutable once built.
type Constraints struct {
	skills   []string
	los      []string
	skillSet map[string]struct{}
	loSet    map[string]struct{}
}

// NewConstraints builds constraints from skill codes and LO IDs.
// Duplicates and empty strings are dropped; both lists are kept sorted.
func NewConstraints(skillCodes, loIDs []string) Constraints {
	c := Constraints{
		skillSet: make(map[string]struct{}),
		loSet:    make(map[string]struct{}),
	}
	for _, s := range skillCodes {
		if s == "" {
			continue
		}
		if _, ok := c.skillSet[s]; !ok {
			c.skillSet[s] = struct{}{}
			c.skills = append(c.skills, s)
		}
	}
	for _, lo := range loIDs {
		if lo == "" {
			continue
		}
		if _, ok := c.loSet[lo]; !ok {
			c.loSet[lo] = struct{}{}
			c.los = append(c.los, lo)
		}
	}
	sort.Strings(c.skills)
	sort.Strings(c.los)
	return c
}

// SkillCodes returns the sorted allowed skill codes.
func (c Constraints) SkillCodes() []string { return slices.Clone(c.skills) }

// LOIDs returns the sorted allowed learning objective IDs.
func (c Constraints) LOIDs() []string { return slices.Clone(c.los) }

// AllowsSkill reports whether code is an allowed skill code.
func (c Constraints) AllowsSkill(code string) bool {
	_, ok := c.skillSet[code]
	return ok
}

// AllowsLO reports whether id is an allowed learning objective.
func (c Constraints) AllowsLO(id string) bool {
	_, ok := c.loSet[id]
	return ok
}

// SkillPreview returns at most n allowed skill codes.
func (c Constraints) SkillPreview(n int) []string { return preview(c.skills, n) }

// LOPreview returns at most n allowed LO IDs.
func (c Constraints) LOPreview(n int) []string { return preview(c.los, n) }

func preview(s []string, n int) []string {
	if n >= 0 && len(s) > n {
		s = s[:n]
	}
	return slices.Clone(s)
}
