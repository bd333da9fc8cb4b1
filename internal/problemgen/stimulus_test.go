package problemgen

import (
	"strings"
	"testing"
)

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable(`| x | f(x) |\n| :--- | ---: |\n| 1 | 2 |\n| 3 | 4 |`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Header) != 2 || tbl.Header[1] != "f(x)" {
		t.Errorf("header = %v", tbl.Header)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[1][0] != "3" {
		t.Errorf("rows = %v", tbl.Rows)
	}
}

func TestParseTable_RealNewlines(t *testing.T) {
	if _, err := ParseTable("| a | b |\n| --- | --- |\n| 1 | 2 |"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseTable_Invalid(t *testing.T) {
	tests := map[string]string{
		"no separator":    `| a | b |\n| 1 | 2 |`,
		"ragged":          `| a | b |\n| --- | --- |\n| 1 | 2 | 3 |`,
		"missing pipe":    `| a | b |\n| --- | --- |\n1 | 2 |`,
		"short separator": `| a | b |\n| -- | -- |`,
		"single row":      `| a | b |`,
	}
	for name, payload := range tests {
		if _, err := ParseTable(payload); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCheckSVG(t *testing.T) {
	valid := `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="100">` +
		`<line x1="0" y1="50" x2="200" y2="50" stroke="black"/>` +
		`<text x="10" y="40" font-size="14">x</text></svg>`
	if err := CheckSVG(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]string{
		"not svg":      `<div></div>`,
		"unclosed":     `<svg><g></svg>`,
		"script":       `<svg><script>alert(1)</script></svg>`,
		"handler":      `<svg><rect onclick="x()" /></svg>`,
		"small font":   `<svg><text font-size="10">a</text></svg>`,
		"small style":  `<svg><text style="font-size: 9px">a</text></svg>`,
		"too many txt": "<svg>" + strings.Repeat(`<text font-size="12">a</text>`, 9) + "</svg>",
	}
	for name, payload := range tests {
		if err := CheckSVG(payload); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCheckImagePrompt(t *testing.T) {
	if err := CheckImagePrompt("IMAGE_PROMPT: A scatterplot of 20 points with a positive linear trend"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckImagePrompt("IMAGE_PROMPT: short"); err == nil {
		t.Error("expected error for short prompt")
	}
	if err := CheckImagePrompt("A scatterplot of 20 points with a positive linear trend"); err == nil {
		t.Error("expected error for missing marker")
	}
}

func TestLooksLikePipeTable(t *testing.T) {
	if !looksLikePipeTable(`| a | b |\n| --- | --- |`) {
		t.Error("expected table")
	}
	if looksLikePipeTable("either x | y") {
		t.Error("single pipe is not a table")
	}
	if looksLikePipeTable("|x| = 3") {
		t.Error("absolute value is not a table")
	}
}
