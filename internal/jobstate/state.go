// Package jobstate persists deferred image jobs between the submit and
// retrieve phases. There is one JSON file per (course, unit, kind).
package jobstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/problemgen"
)

// Set is one accepted set waiting for its images.
type Set struct {
	SetIndex      int                         `json:"set_index"`
	Choice        []*problemgen.ChoiceItem    `json:"choice_items,omitempty"`
	MultiPart     []*problemgen.MultiPartItem `json:"multi_part_items,omitempty"`
	ImageRequests []imagegen.ItemRequest      `json:"image_requests"`
}

// NewSet captures items and their pending image requests.
func NewSet(setIndex int, items []problemgen.Item, reqs []imagegen.ItemRequest) Set {
	s := Set{SetIndex: setIndex, ImageRequests: reqs}
	for _, it := range items {
		switch v := it.(type) {
		case *problemgen.ChoiceItem:
			s.Choice = append(s.Choice, v)
		case *problemgen.MultiPartItem:
			s.MultiPart = append(s.MultiPart, v)
		}
	}
	return s
}

// Items returns the set's items in their original order.
func (s Set) Items() []problemgen.Item {
	items := make([]problemgen.Item, 0, len(s.Choice)+len(s.MultiPart))
	for _, c := range s.Choice {
		items = append(items, c)
	}
	for _, m := range s.MultiPart {
		items = append(items, m)
	}
	return items
}

// State is one batch job covering every set of a unit for one kind.
type State struct {
	JobName            string          `json:"job_name"`
	RunID              string          `json:"run_id"`
	CourseID           string          `json:"course_id"`
	CourseName         string          `json:"course_name"`
	UnitIndex          int             `json:"unit_index"`
	UnitTitle          string          `json:"unit_title"`
	Kind               problemgen.Kind `json:"kind"`
	Sets               []Set           `json:"sets"`
	TotalImageRequests int             `json:"total_image_requests"`
	JSONLPath          string          `json:"jsonl_path"`
	UploadedFile       string          `json:"uploaded_file"`
	CreatedAt          time.Time       `json:"created_at"`
}

// New starts a state for a unit with a fresh run id.
func New(unit course.Unit, kind problemgen.Kind) *State {
	return &State{
		RunID:      uuid.NewString(),
		CourseID:   unit.CourseID,
		CourseName: unit.CourseName,
		UnitIndex:  unit.Index,
		UnitTitle:  unit.Title,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}
}

// Unit rebuilds the generation unit the state was created for. Topics
// are not persisted.
func (s *State) Unit() course.Unit {
	return course.Unit{
		CourseID:   s.CourseID,
		CourseName: s.CourseName,
		Index:      s.UnitIndex,
		Title:      s.UnitTitle,
	}
}

// AddSet appends a set and updates the request total.
func (s *State) AddSet(set Set) {
	s.Sets = append(s.Sets, set)
	s.TotalImageRequests += len(set.ImageRequests)
}

// DropSet removes the set with the given index and its requests from the
// total. It reports whether a set was removed.
func (s *State) DropSet(setIndex int) bool {
	for i, set := range s.Sets {
		if set.SetIndex == setIndex {
			s.TotalImageRequests -= len(set.ImageRequests)
			s.Sets = append(s.Sets[:i], s.Sets[i+1:]...)
			return true
		}
	}
	return false
}

// Requests returns every image request across all sets.
func (s *State) Requests() []imagegen.ItemRequest {
	reqs := make([]imagegen.ItemRequest, 0, s.TotalImageRequests)
	for _, set := range s.Sets {
		reqs = append(reqs, set.ImageRequests...)
	}
	return reqs
}

// Label names the job, e.g. "ap_statistics_u3_frq".
func (s *State) Label() string {
	return fmt.Sprintf("%s_u%d_%s", s.CourseID, s.UnitIndex+1, s.Kind)
}

// FileName is the state file name inside the batch directory.
func (s *State) FileName() string {
	return s.Label() + ".json"
}

// Save writes the state file, replacing any previous one for the same
// (course, unit, kind).
func Save(dir string, s *State) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	path := filepath.Join(dir, s.FileName())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename state: %w", err)
	}
	return path, nil
}

// LoadPending reads every state file in dir. A missing dir yields no
// states; unreadable files are returned in skipped.
func LoadPending(dir string) (states []*State, skipped []error, err error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read batch dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", path, err))
			continue
		}
		var s State
		if err := json.Unmarshal(data, &s); err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", path, err))
			continue
		}
		states = append(states, &s)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].FileName() < states[j].FileName() })
	return states, skipped, nil
}

// MarkCompleted deletes the state file of jobName. It reports whether a
// file was removed.
func MarkCompleted(dir, jobName string) (bool, error) {
	states, _, err := LoadPending(dir)
	if err != nil {
		return false, err
	}
	for _, s := range states {
		if s.JobName != jobName {
			continue
		}
		if err := os.Remove(filepath.Join(dir, s.FileName())); err != nil {
			return false, fmt.Errorf("remove state: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// CourseSummary aggregates pending jobs of one course.
type CourseSummary struct {
	Jobs   int
	Images int
	Units  []int // 1-based
}

// Summary aggregates every pending job.
type Summary struct {
	TotalJobs   int
	TotalImages int
	ByCourse    map[string]*CourseSummary
	ByKind      map[problemgen.Kind]int
}

// Summarize aggregates states by course and kind.
func Summarize(states []*State) Summary {
	sum := Summary{
		ByCourse: make(map[string]*CourseSummary),
		ByKind:   map[problemgen.Kind]int{problemgen.KindChoice: 0, problemgen.KindMultiPart: 0},
	}
	for _, s := range states {
		sum.TotalJobs++
		sum.TotalImages += s.TotalImageRequests

		cs, ok := sum.ByCourse[s.CourseID]
		if !ok {
			cs = &CourseSummary{}
			sum.ByCourse[s.CourseID] = cs
		}
		cs.Jobs++
		cs.Images += s.TotalImageRequests
		cs.Units = append(cs.Units, s.UnitIndex+1)

		sum.ByKind[s.Kind]++
	}
	for _, cs := range sum.ByCourse {
		sort.Ints(cs.Units)
	}
	return sum
}
