// Package render writes finished question sets as standalone HTML pages.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/problemgen"
)

//go:embed templates/*.html
var embedded embed.FS

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": func(s []string) string { return strings.Join(s, ", ") },
}

// Renderer renders sets with one HTML template per item kind.
type Renderer struct {
	tmpl map[problemgen.Kind]*template.Template
}

// New returns a renderer backed by the embedded templates.
func New() (*Renderer, error) {
	return Load("")
}

// Load reads mcq.html and frq.html from dir, falling back to the embedded
// template for any file dir does not provide. An empty dir uses only the
// embedded templates.
func Load(dir string) (*Renderer, error) {
	r := &Renderer{tmpl: make(map[problemgen.Kind]*template.Template)}
	for _, kind := range []problemgen.Kind{problemgen.KindChoice, problemgen.KindMultiPart} {
		name := string(kind) + ".html"

		var src []byte
		if dir != "" {
			data, err := os.ReadFile(filepath.Join(dir, name))
			switch {
			case err == nil:
				src = data
			case !errors.Is(err, os.ErrNotExist):
				return nil, fmt.Errorf("read template %s: %w", name, err)
			}
		}
		if src == nil {
			data, err := embedded.ReadFile("templates/" + name)
			if err != nil {
				return nil, fmt.Errorf("read embedded template %s: %w", name, err)
			}
			src = data
		}

		t, err := template.New(name).Funcs(funcs).Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.tmpl[kind] = t
	}
	return r, nil
}

type stimulusView struct {
	Table    *problemgen.Table
	SVG      template.HTML
	ImageSrc template.URL
	Alt      string
	Failed   bool
	Error    string
}

type choiceView struct {
	ID            string
	Difficulty    problemgen.Difficulty
	SkillCodes    []string
	LOIDs         []string
	Stimulus      *stimulusView
	Question      string
	Choices       []string
	CorrectLetter string
}

type multiPartView struct {
	ID         string
	Difficulty problemgen.Difficulty
	SkillCodes []string
	LOIDs      []string
	Stimulus   *stimulusView
	Context    string
	Parts      []problemgen.Part
	Guidelines []string
}

type page struct {
	Course    string
	Unit      string
	SetNumber int
	Choice    []choiceView
	MultiPart []multiPartView
}

// newStimulusView converts a stimulus for display. SVG payloads have
// already passed CheckSVG, so they are inlined as trusted markup.
func newStimulusView(s problemgen.Stimulus) (*stimulusView, error) {
	if s.Failed {
		msg := s.Error
		if msg == "" {
			msg = problemgen.ImageFailedMarker
		}
		return &stimulusView{Failed: true, Error: msg}, nil
	}

	switch s.Kind {
	case problemgen.StimulusTable:
		t, err := problemgen.ParseTable(s.Payload)
		if err != nil {
			return nil, err
		}
		return &stimulusView{Table: t}, nil
	case problemgen.StimulusSVG:
		return &stimulusView{SVG: template.HTML(s.Payload)}, nil
	case problemgen.StimulusImage:
		if s.Image == nil {
			return &stimulusView{Failed: true, Error: problemgen.ImageFailedMarker}, nil
		}
		return &stimulusView{
			ImageSrc: template.URL("data:image/jpeg;base64," + s.Image.Base64),
			Alt:      s.Image.AltText,
		}, nil
	}
	return nil, nil
}

// Render writes the HTML page for one set of kind.
func (r *Renderer) Render(w io.Writer, unit course.Unit, kind problemgen.Kind, setIndex int, items []problemgen.Item) error {
	t, ok := r.tmpl[kind]
	if !ok {
		return fmt.Errorf("no template for kind %q", kind)
	}

	p := page{
		Course:    unit.CourseName,
		Unit:      fmt.Sprintf("Unit %d: %s", unit.Number(), unit.Title),
		SetNumber: setIndex + 1,
	}
	for i, it := range items {
		stim, err := newStimulusView(it.Base().Stimulus)
		if err != nil {
			return fmt.Errorf("item %d stimulus: %w", i+1, err)
		}
		m := it.Base()
		switch v := it.(type) {
		case *problemgen.ChoiceItem:
			p.Choice = append(p.Choice, choiceView{
				ID: m.ID, Difficulty: m.Difficulty, SkillCodes: m.SkillCodes, LOIDs: m.LOIDs,
				Stimulus:      stim,
				Question:      v.Question,
				Choices:       v.Choices[:],
				CorrectLetter: v.CorrectLetter(),
			})
		case *problemgen.MultiPartItem:
			p.MultiPart = append(p.MultiPart, multiPartView{
				ID: m.ID, Difficulty: m.Difficulty, SkillCodes: m.SkillCodes, LOIDs: m.LOIDs,
				Stimulus:   stim,
				Context:    v.Context,
				Parts:      v.Parts,
				Guidelines: v.Guidelines,
			})
		}
	}

	return t.Execute(w, p)
}

// Path is the artifact path of one set:
// {out}/{course}/{mcq|frq}/unit{u}-set{s}.html. unitIndex and setIndex
// are 0-based.
func Path(outDir, courseID string, kind problemgen.Kind, unitIndex, setIndex int) string {
	return filepath.Join(outDir, courseID, string(kind), fmt.Sprintf("unit%d-set%d.html", unitIndex+1, setIndex+1))
}

// Exists reports whether a rendered artifact is already on disk.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Write renders a set to its artifact path. An existing file is left in
// place unless overwrite is set; written reports whether a file was
// produced.
func (r *Renderer) Write(outDir string, unit course.Unit, kind problemgen.Kind, setIndex int, items []problemgen.Item, overwrite bool) (path string, written bool, err error) {
	path = Path(outDir, unit.CourseID, kind, unit.Index, setIndex)
	if !overwrite && Exists(path) {
		return path, false, nil
	}

	var buf bytes.Buffer
	if err := r.Render(&buf, unit, kind, setIndex, items); err != nil {
		return path, false, fmt.Errorf("render %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return path, false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return path, false, fmt.Errorf("rename %s: %w", path, err)
	}
	return path, true, nil
}
