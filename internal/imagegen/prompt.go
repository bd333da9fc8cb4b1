package imagegen

import (
	"strings"

	"github.com/abhisek/apgen/internal/problemgen"
)

const renderingRules = "CRITICAL RENDERING RULES:\n" +
	"- Create ONLY the visual stimulus described below\n" +
	"- DO NOT include the question text in the image\n" +
	"- DO NOT include answer choices (A/B/C/D) in the image\n" +
	"- DO NOT add question-related titles or captions\n" +
	"- The image should be a clean, standalone visual that students reference to answer the question\n" +
	"- Include only data labels, axis labels, diagram labels (not question-related text)\n\n"

const qualitySuffix = "\n\nQUALITY REQUIREMENTS:\n" +
	"- Highly detailed and visually clear\n" +
	"- Professional AP exam styling\n" +
	"- Clean lines and high contrast\n" +
	"- Well-composed and suitable for standardized testing\n"

// EnhancePrompt wraps the item's raw image description with the question
// context and the rendering rules the image model must follow.
func EnhancePrompt(courseName string, it problemgen.Item) string {
	var b strings.Builder
	b.WriteString("You are creating an image for an " + courseName + " " + it.Kind().Label() + " exam.\n\n")

	if stem := it.Stem(); stem != "" {
		b.WriteString("QUESTION CONTEXT:\n" + stem + "\n")
	}

	if c, ok := it.(*problemgen.ChoiceItem); ok {
		b.WriteString("\nANSWER CHOICES:\n" + strings.Join(c.Choices[:], "\n") + "\n")
		if c.Correct >= 0 && c.Correct < len(c.Choices) {
			b.WriteString("\nCORRECT ANSWER: " + c.Choices[c.Correct] + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(renderingRules)
	b.WriteString("IMAGE TO CREATE:\n")
	b.WriteString(it.Base().Stimulus.ImagePrompt())
	b.WriteString(qualitySuffix)
	return b.String()
}
