package problemgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abhisek/apgen/internal/course"
)

// ContextOptions bounds the size of the unit context.
type ContextOptions struct {
	MaxTopicNameChars int
	MaxLODescChars    int
	MaxSkillDescChars int

	// MaxEKPerLO includes up to this many essential knowledge statements
	// under each LO. Zero leaves them out.
	MaxEKPerLO int
}

// DefaultContextOptions returns the standard truncation limits.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		MaxTopicNameChars: 90,
		MaxLODescChars:    200,
		MaxSkillDescChars: 140,
	}
}

// WithDefaults fills every zero limit with its standard value. MaxEKPerLO
// is left alone since zero is meaningful.
func (o ContextOptions) WithDefaults() ContextOptions {
	d := DefaultContextOptions()
	if o.MaxTopicNameChars <= 0 {
		o.MaxTopicNameChars = d.MaxTopicNameChars
	}
	if o.MaxLODescChars <= 0 {
		o.MaxLODescChars = d.MaxLODescChars
	}
	if o.MaxSkillDescChars <= 0 {
		o.MaxSkillDescChars = d.MaxSkillDescChars
	}
	return o
}

// priorityVerbs selects which task verbs are listed for multi-part items.
var priorityVerbs = []string{
	"Calculate", "Explain", "Justify", "Describe",
	"Interpret", "Compare", "Identify", "Construct",
	"Determine", "Verify",
}

const maxVerbDescChars = 100

// BuildContext walks the unit's topics once and returns the textual unit
// context for kind together with the unit's constraints.
func BuildContext(c *course.Course, u course.Unit, kind Kind, opts ContextOptions) (string, Constraints) {
	opts = opts.WithDefaults()
	skills := c.SkillLookup()
	courseBig := c.BigIdeaLookup()

	var (
		allowedSkills []string
		allowedLOs    []string
		usedSkills    = make(map[string]bool)
		topicBigIDs   = make(map[string]bool)
		topicBigDesc  = make(map[string]string)
		courseBigIDs  = make(map[string]bool)
		topicBlocks   []string
	)

	for _, t := range u.Topics {
		var codes []string
		for _, code := range t.SuggestedSubskillCodes {
			if s := code.String(); s != "" {
				codes = append(codes, s)
				allowedSkills = append(allowedSkills, s)
				usedSkills[s] = true
			}
		}

		var bigs []string
		for _, bi := range t.BigIdeas {
			id := bi.ID.String()
			if id == "" {
				continue
			}
			bigs = append(bigs, id)
			topicBigIDs[id] = true
			if d := normalizeWhitespace(bi.Description); d != "" {
				if _, seen := topicBigDesc[id]; !seen {
					topicBigDesc[id] = d
				}
			}
			if prefix, _, ok := strings.Cut(id, "-"); ok && prefix != "" {
				courseBigIDs[prefix] = true
			}
		}

		lines := []string{fmt.Sprintf("T%s %s | skills:%s | big:%s",
			t.ID.String(),
			truncate(t.Name, opts.MaxTopicNameChars),
			joinOrDash(codes),
			joinOrDash(bigs),
		)}
		for _, lo := range t.LearningObjectives {
			id := lo.ID.String()
			if id == "" {
				continue
			}
			allowedLOs = append(allowedLOs, id)
			lines = append(lines, fmt.Sprintf("%s: %s", id, truncate(CompressLO(lo.Description), opts.MaxLODescChars)))

			if opts.MaxEKPerLO > 0 {
				for i, ek := range lo.EssentialKnowledge {
					if i >= opts.MaxEKPerLO {
						break
					}
					ekID := ek.ID.String()
					ekDesc := truncate(ek.Description, opts.MaxLODescChars)
					if ekID != "" && ekDesc != "" {
						lines = append(lines, fmt.Sprintf("  - %s: %s", ekID, ekDesc))
					}
				}
			}
		}
		topicBlocks = append(topicBlocks, joinLines(lines))
	}

	constraints := NewConstraints(allowedSkills, allowedLOs)

	out := []string{
		fmt.Sprintf("%s | Unit %d: %s", u.CourseName, u.Number(), u.Title),
	}

	if sec, ok := c.ExamSection(kind.ExamSection()); ok && len(sec.Descriptions) > 0 {
		out = append(out, "EXAM_CONTEXT:")
		for _, d := range sec.Descriptions {
			out = append(out, "- "+d)
		}
	}

	out = append(out, "ALLOWED_SKILLS: "+strings.Join(constraints.SkillCodes(), ","))
	if len(usedSkills) > 0 {
		var descs []string
		for _, code := range sortedKeys(usedSkills) {
			if d := truncate(skills[code].Description, opts.MaxSkillDescChars); d != "" {
				descs = append(descs, code+"="+d)
			} else {
				descs = append(descs, code)
			}
		}
		out = append(out, "ALLOWED_SKILL_DESC: "+strings.Join(descs, " ; "))
	}

	out = append(out, "ALLOWED_LOS: "+strings.Join(constraints.LOIDs(), ","))

	var bigLines []string
	var bigIDs []string
	for _, id := range sortedKeys(courseBigIDs) {
		bi, ok := courseBig[id]
		if !ok {
			continue
		}
		bigIDs = append(bigIDs, id)
		name := normalizeWhitespace(bi.Name)
		desc := normalizeWhitespace(bi.Description)
		if name != "" {
			bigLines = append(bigLines, fmt.Sprintf("%s (%s): %s", id, name, desc))
		} else {
			bigLines = append(bigLines, fmt.Sprintf("%s: %s", id, desc))
		}
	}
	if len(bigIDs) > 0 {
		out = append(out, "BIG_IDEAS: "+strings.Join(bigIDs, ","), "BIG_IDEAS_DESC:")
		out = append(out, bigLines...)
	}

	if len(topicBigIDs) > 0 {
		ids := sortedKeys(topicBigIDs)
		out = append(out, "TOPIC_BIG_IDEAS: "+strings.Join(ids, ","), "TOPIC_BIG_IDEA_DESC:")
		for _, id := range ids {
			desc := topicBigDesc[id]
			if desc == "" {
				desc = normalizeWhitespace(courseBig[id].Description)
			}
			if desc != "" {
				out = append(out, id+": "+desc)
			} else {
				out = append(out, id)
			}
		}
	}

	out = append(out, "TOPICS_AND_LOS:")
	out = append(out, topicBlocks...)

	if kind == KindMultiPart {
		if verbs := taskVerbLines(c.TaskVerbs); len(verbs) > 0 {
			out = append(out, "TASK_VERBS:")
			out = append(out, verbs...)
		}
	}

	return joinLines(out), constraints
}

func taskVerbLines(verbs []course.TaskVerb) []string {
	var lines []string
	for _, v := range verbs {
		if !isPriorityVerb(v.Verb) {
			continue
		}
		desc := v.Description
		if r := []rune(desc); len(r) > maxVerbDescChars {
			desc = string(r[:maxVerbDescChars]) + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", v.Verb, desc))
	}
	return lines
}

func isPriorityVerb(verb string) bool {
	for _, pv := range priorityVerbs {
		if strings.Contains(verb, pv) {
			return true
		}
	}
	return false
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
