package problemgen

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// PromptData is the data every prompt template is executed with.
type PromptData struct {
	CourseName   string
	UnitContext  string
	NumQuestions int

	// PriorityLOs is set on initial prompts only.
	PriorityLOs string

	// Repair prompts only.
	ErrorSummary         string
	AllowedSkillsPreview string
	AllowedLOsPreview    string
}

// Prompts holds the initial and repair templates for both item kinds.
type Prompts struct {
	initial map[Kind]*template.Template
	repair  map[Kind]*template.Template
}

// DefaultPrompts returns the embedded templates.
func DefaultPrompts() *Prompts {
	p, err := loadPrompts(func(name string) ([]byte, error) {
		return promptFS.ReadFile("prompts/" + name)
	})
	if err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return p
}

// LoadPrompts reads mcq.tmpl, mcq_repair.tmpl, frq.tmpl and frq_repair.tmpl
// from dir. Files missing from dir fall back to the embedded versions.
func LoadPrompts(dir string) (*Prompts, error) {
	return loadPrompts(func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return promptFS.ReadFile("prompts/" + name)
		}
		return data, err
	})
}

func loadPrompts(read func(string) ([]byte, error)) (*Prompts, error) {
	p := &Prompts{
		initial: make(map[Kind]*template.Template),
		repair:  make(map[Kind]*template.Template),
	}
	for _, kind := range []Kind{KindChoice, KindMultiPart} {
		for _, repair := range []bool{false, true} {
			name := string(kind) + ".tmpl"
			if repair {
				name = string(kind) + "_repair.tmpl"
			}
			data, err := read(name)
			if err != nil {
				return nil, fmt.Errorf("read prompt %s: %w", name, err)
			}
			tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
			if err != nil {
				return nil, fmt.Errorf("parse prompt %s: %w", name, err)
			}
			if repair {
				p.repair[kind] = tmpl
			} else {
				p.initial[kind] = tmpl
			}
		}
	}
	return p, nil
}

// Initial renders the first-round prompt.
func (p *Prompts) Initial(kind Kind, data PromptData) (string, error) {
	return execute(p.initial[kind], data)
}

// Repair renders a repair-round prompt.
func (p *Prompts) Repair(kind Kind, data PromptData) (string, error) {
	return execute(p.repair[kind], data)
}

func execute(t *template.Template, data PromptData) (string, error) {
	if t == nil {
		return "", fmt.Errorf("no prompt template")
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name(), err)
	}
	return b.String(), nil
}
