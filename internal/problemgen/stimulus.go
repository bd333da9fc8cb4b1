package problemgen

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const imagePromptPrefix = "IMAGE_PROMPT:"

// MinImagePromptLen is the minimum length of an image description after
// the IMAGE_PROMPT: marker.
const MinImagePromptLen = 20

const (
	minSVGFontSize = 12
	maxSVGText     = 8
)

var (
	separatorCell  = regexp.MustCompile(`^:?-{3,}:?$`)
	separatorInRow = regexp.MustCompile(`\|\s*:?-{3,}:?\s*\|`)
	fontSizeStyle  = regexp.MustCompile(`font-size\s*:\s*([0-9.]+)`)
)

// Table is a parsed pipe table.
type Table struct {
	Header []string
	Rows   [][]string
}

// splitTableLines splits a table payload on the two-character sequence
// "\n" as well as on real newlines.
func splitTableLines(payload string) []string {
	payload = strings.ReplaceAll(payload, `\n`, "\n")
	var lines []string
	for _, ln := range strings.Split(payload, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}

func splitCells(line string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	cells := strings.Split(inner, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// ParseTable parses a pipe table payload. Every row must start and end
// with "|", the second row must be a separator row, and all rows must have
// the same column count.
func ParseTable(payload string) (*Table, error) {
	lines := splitTableLines(payload)
	if len(lines) < 2 {
		return nil, errors.New("table needs a header row and a separator row")
	}

	var width int
	var t Table
	for i, ln := range lines {
		if !strings.HasPrefix(ln, "|") || !strings.HasSuffix(ln, "|") || len(ln) < 2 {
			return nil, fmt.Errorf("table row %d must start and end with |", i+1)
		}
		cells := splitCells(ln)
		if i == 0 {
			width = len(cells)
		} else if len(cells) != width {
			return nil, fmt.Errorf("table row %d has %d columns, header has %d", i+1, len(cells), width)
		}

		switch i {
		case 0:
			t.Header = cells
		case 1:
			for _, c := range cells {
				if !separatorCell.MatchString(c) {
					return nil, errors.New("second table row must be a separator like | --- | --- |")
				}
			}
		default:
			t.Rows = append(t.Rows, cells)
		}
	}
	return &t, nil
}

// looksLikePipeTable reports whether s appears to embed a pipe table.
func looksLikePipeTable(s string) bool {
	if strings.Count(s, "|") < 2 {
		return false
	}
	if separatorInRow.MatchString(s) {
		return true
	}
	rows := 0
	for _, ln := range splitTableLines(s) {
		if strings.HasPrefix(ln, "|") && strings.HasSuffix(ln, "|") && len(ln) > 1 {
			rows++
		}
	}
	return rows >= 2
}

// CheckSVG validates an inline SVG payload: a single well-formed <svg>
// document with no scripts or event handlers, readable font sizes and a
// bounded number of text labels.
func CheckSVG(payload string) error {
	s := strings.TrimSpace(payload)
	if !strings.HasPrefix(s, "<svg") || !strings.HasSuffix(s, "</svg>") {
		return errors.New("svg must start with <svg and end with </svg>")
	}

	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = true
	dec.AutoClose = nil
	dec.Entity = xml.HTMLEntity

	texts := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("svg is not well-formed: %w", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		name := strings.ToLower(el.Name.Local)
		if name == "script" {
			return errors.New("svg must not contain <script>")
		}
		if name == "text" {
			texts++
		}
		for _, a := range el.Attr {
			attr := strings.ToLower(a.Name.Local)
			if strings.HasPrefix(attr, "on") {
				return fmt.Errorf("svg must not contain event handler %q", a.Name.Local)
			}
			switch attr {
			case "font-size":
				if err := checkFontSize(a.Value); err != nil {
					return err
				}
			case "style":
				for _, m := range fontSizeStyle.FindAllStringSubmatch(a.Value, -1) {
					if err := checkFontSize(m[1]); err != nil {
						return err
					}
				}
			}
		}
	}

	if texts > maxSVGText {
		return fmt.Errorf("svg has %d <text> elements, max %d", texts, maxSVGText)
	}
	return nil
}

func checkFontSize(v string) error {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	size, err := strconv.ParseFloat(v, 64)
	if err != nil {
		// Relative sizes (em, %) are not checked.
		return nil
	}
	if size < minSVGFontSize {
		return fmt.Errorf("svg font-size %g is below %d", size, minSVGFontSize)
	}
	return nil
}

// CheckImagePrompt validates an image payload: the IMAGE_PROMPT: marker
// followed by a description of at least MinImagePromptLen characters.
func CheckImagePrompt(payload string) error {
	if !strings.HasPrefix(payload, imagePromptPrefix) {
		return fmt.Errorf("image stimulus must start with %q", imagePromptPrefix)
	}
	desc := strings.TrimSpace(strings.TrimPrefix(payload, imagePromptPrefix))
	if len([]rune(desc)) < MinImagePromptLen {
		return fmt.Errorf("image prompt must be detailed (min %d chars)", MinImagePromptLen)
	}
	return nil
}
