package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/jobstate"
	"github.com/abhisek/apgen/internal/llm"
	"github.com/abhisek/apgen/internal/problemgen"
	"github.com/abhisek/apgen/internal/render"
	"github.com/abhisek/apgen/internal/report"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	choiceRow    = "medium\t2.A\tVAR-1.A\t1\tWhich variable is categorical?\tHeight\tEye color\tWeight\tAge\tnone\t"
	multiPartRow = "hard\t1.A,2.B\tVAR-1.B\tA researcher records the heights of 40 plants.\t" +
		"a. Describe the distribution.|b. Calculate the mean.\t" +
		"Part a (1pt): shape, center, spread|Part b (1pt): correct mean\t" +
		"image\tIMAGE_PROMPT: A histogram of 40 plant heights in centimeters with 8 bins."
)

// testCourse has two units: unit 1 accepts the canned rows, unit 2 rejects
// all of them as disallowed.
func testCourse() *course.Course {
	return &course.Course{
		ID:   "ap_statistics",
		Name: "AP Statistics",
		Skills: []course.SkillCategory{{
			Name: "Selecting Statistical Methods",
			Subskills: []course.Subskill{
				{Code: "1.A", Description: "Identify the question to be answered."},
				{Code: "2.A", Description: "Describe data presented numerically or graphically."},
				{Code: "2.B", Description: "Construct numerical or graphical representations."},
				{Code: "3.A", Description: "Determine relative frequencies."},
			},
		}},
		Units: []course.UnitOutline{
			{
				ID:   "1",
				Name: "Exploring One-Variable Data",
				Topics: []course.Topic{{
					ID:                     "1.2",
					Name:                   "The Language of Variation: Variables",
					SuggestedSubskillCodes: []course.ID{"1.A", "2.A", "2.B"},
					LearningObjectives: []course.LearningObjective{
						{ID: "VAR-1.A", Description: "Identify questions to be answered."},
						{ID: "VAR-1.B", Description: "Identify variables in a set of data."},
					},
				}},
			},
			{
				ID:   "2",
				Name: "Exploring Two-Variable Data",
				Topics: []course.Topic{{
					ID:                     "2.1",
					Name:                   "Introducing Statistics: Are Variables Related?",
					SuggestedSubskillCodes: []course.ID{"3.A"},
					LearningObjectives: []course.LearningObjective{
						{ID: "DAT-1.A", Description: "Identify questions suggested by patterns in data."},
					},
				}},
			},
		},
	}
}

func unitAt(t *testing.T, c *course.Course, i int) course.Unit {
	t.Helper()
	u, err := c.Unit(i)
	require.NoError(t, err)
	return u
}

func rowsResponse(row string, n int) llm.MockResponse {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = row
	}
	return llm.MockResponse{Text: strings.Join(rows, "\n")}
}

// staticProvider answers every request with the same text.
type staticProvider struct {
	text  string
	calls atomic.Int32
}

func (p *staticProvider) Generate(context.Context, llm.Request) (*llm.Response, error) {
	p.calls.Add(1)
	return &llm.Response{Text: p.text, Model: "static"}, nil
}

func (p *staticProvider) ModelID() string { return "static" }

func newGenerator(provider llm.Provider, target int) *problemgen.Generator {
	cfg := problemgen.DefaultConfig()
	cfg.Target = target
	return problemgen.New(provider, cfg)
}

func newDeps(t *testing.T, kind problemgen.Kind, gen *problemgen.Generator, c *course.Course) Deps {
	t.Helper()
	r, err := render.New()
	require.NoError(t, err)
	return Deps{
		Kind:      kind,
		Generator: gen,
		Renderer:  r,
		Courses:   map[string]*course.Course{c.ID: c},
		OutDir:    t.TempDir(),
	}
}

func TestTasks(t *testing.T) {
	c := testCourse()
	tasks := Tasks(c.AllUnits(), 3)
	require.Len(t, tasks, 6)
	assert.Equal(t, 0, tasks[0].Unit.Index)
	assert.Equal(t, 2, tasks[2].SetIndex)
	assert.Equal(t, 1, tasks[3].Unit.Index)
	assert.Equal(t, 0, tasks[3].SetIndex)
}

func TestNewScheduler_RequiresDeps(t *testing.T) {
	_, err := NewScheduler(Deps{})
	require.Error(t, err)

	c := testCourse()
	deps := newDeps(t, problemgen.KindChoice, newGenerator(llm.NewMockProvider(), 2), c)
	deps.Batch = &fakeBatch{}
	_, err = NewScheduler(deps)
	require.Error(t, err, "batch mode without a batch dir")
}

func TestRun_RendersAndSkipsOnRerun(t *testing.T) {
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(choiceRow, 2), rowsResponse(choiceRow, 2))
	deps := newDeps(t, problemgen.KindChoice, newGenerator(mock, 2), c)

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	tasks := Tasks([]course.Unit{unitAt(t, c, 0)}, 2)
	rep, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 2, mock.CallCount())

	for set := range 2 {
		path := render.Path(deps.OutDir, c.ID, problemgen.KindChoice, 0, set)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Which variable is categorical?")
	}

	// Second run: every artifact exists, so no model calls are made.
	again := llm.NewMockProvider()
	deps.Generator = newGenerator(again, 2)
	s, err = NewScheduler(deps)
	require.NoError(t, err)

	rep, err = s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 0, rep.Succeeded)
	assert.Equal(t, 0, again.CallCount())
}

func TestRun_ExhaustedDoesNotCancelSiblings(t *testing.T) {
	c := testCourse()
	provider := &staticProvider{text: strings.Join([]string{choiceRow, choiceRow}, "\n")}
	deps := newDeps(t, problemgen.KindChoice, newGenerator(provider, 2), c)

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	tasks := Tasks(c.AllUnits(), 2)
	rep, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Succeeded, "unit 1 sets")
	assert.Equal(t, 2, rep.Exhausted, "unit 2 sets")
	assert.Equal(t, 4, rep.Total())

	// Unit 2 used the initial call and every repair round for both sets.
	assert.Equal(t, int32(2+2*5), provider.calls.Load())

	assert.True(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindChoice, 0, 1)))
	assert.False(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindChoice, 1, 0)))
}

func TestRun_WritesCoverageWorkbook(t *testing.T) {
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(choiceRow, 2))
	deps := newDeps(t, problemgen.KindChoice, newGenerator(mock, 2), c)
	deps.Workbooks = true

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), Tasks([]course.Unit{unitAt(t, c, 0)}, 1))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(deps.OutDir, c.ID, "coverage", "unit1-mcq.xlsx"))
	require.NoError(t, err)
}

func TestRun_UnknownCourse(t *testing.T) {
	c := testCourse()
	deps := newDeps(t, problemgen.KindChoice, newGenerator(llm.NewMockProvider(), 2), c)
	deps.Courses = nil

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), Tasks([]course.Unit{unitAt(t, c, 0)}, 1))
	require.Error(t, err)
}

type failingImages struct{}

func (failingImages) Generate(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("quota exceeded")
}

func TestRun_CoverageOnlyCountsRenderedSets(t *testing.T) {
	c := testCourse()

	t.Run("success", func(t *testing.T) {
		mock := llm.NewMockProvider(rowsResponse(choiceRow, 2))
		deps := newDeps(t, problemgen.KindChoice, newGenerator(mock, 2), c)
		// Only one limit set; the rest fall back to their defaults.
		deps.Context = problemgen.ContextOptions{MaxEKPerLO: 1}

		s, err := NewScheduler(deps)
		require.NoError(t, err)
		unit := unitAt(t, c, 0)
		rep, err := s.Run(context.Background(), Tasks([]course.Unit{unit}, 1))
		require.NoError(t, err)

		require.Equal(t, 1, rep.Succeeded)
		assert.Equal(t, map[string]int{"VAR-1.A": 2, "VAR-1.B": 0}, rep.Coverage[unit.Label()])
	})

	t.Run("exhausted", func(t *testing.T) {
		provider := &staticProvider{text: choiceRow}
		deps := newDeps(t, problemgen.KindChoice, newGenerator(provider, 2), c)

		s, err := NewScheduler(deps)
		require.NoError(t, err)
		unit := unitAt(t, c, 1)
		rep, err := s.Run(context.Background(), Tasks([]course.Unit{unit}, 1))
		require.NoError(t, err)

		require.Equal(t, 1, rep.Exhausted)
		assert.Equal(t, map[string]int{"DAT-1.A": 0}, rep.Coverage[unit.Label()])
	})

	t.Run("strict image failure", func(t *testing.T) {
		metrics := report.NewMetrics()
		cfg := problemgen.DefaultConfig()
		cfg.Target = 1
		cfg.Observer = metrics
		mock := llm.NewMockProvider(rowsResponse(multiPartRow, 1))
		deps := newDeps(t, problemgen.KindMultiPart, problemgen.New(mock, cfg), c)
		deps.Images = &imagegen.Filler{Generator: failingImages{}, OutDir: deps.OutDir, Mode: imagegen.ModeStrict}
		deps.Metrics = metrics

		s, err := NewScheduler(deps)
		require.NoError(t, err)
		unit := unitAt(t, c, 0)
		rep, err := s.Run(context.Background(), Tasks([]course.Unit{unit}, 1))
		require.NoError(t, err)

		require.Equal(t, 1, rep.Failed)
		assert.Equal(t, 0, rep.Succeeded)
		assert.Equal(t, map[string]int{"VAR-1.A": 0, "VAR-1.B": 0}, rep.Coverage[unit.Label()])
		assert.False(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindMultiPart, 0, 0)))

		// The loop succeeded but the set did not: one set outcome only.
		want := `
# HELP apgen_generation_loops_total Generate-validate-repair loops by kind and status
# TYPE apgen_generation_loops_total counter
apgen_generation_loops_total{kind="frq",status="success"} 1
# HELP apgen_sets_total Question sets by kind and final outcome
# TYPE apgen_sets_total counter
apgen_sets_total{kind="frq",outcome="image_failed"} 1
`
		require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(want),
			"apgen_generation_loops_total", "apgen_sets_total"))
	})
}

type fakeImages struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeImages) Generate(context.Context, string, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []byte("jpeg-bytes"), nil
}

func TestRun_RealtimeImages(t *testing.T) {
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(multiPartRow, 1))
	deps := newDeps(t, problemgen.KindMultiPart, newGenerator(mock, 1), c)
	images := &fakeImages{}
	deps.Images = &imagegen.Filler{Generator: images, OutDir: deps.OutDir, Mode: imagegen.ModeDegrade}

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), Tasks([]course.Unit{unitAt(t, c, 0)}, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.ImagesOK)
	assert.Equal(t, 1, images.calls)

	unit := unitAt(t, c, 0)
	_, err = os.Stat(imagegen.ImagePath(deps.OutDir, unit, problemgen.KindMultiPart, 0, 0))
	require.NoError(t, err)

	page, err := os.ReadFile(render.Path(deps.OutDir, c.ID, problemgen.KindMultiPart, 0, 0))
	require.NoError(t, err)
	assert.Contains(t, string(page), "data:image/jpeg;base64,")
}

// fakeBatch records submitted requests and serves an image for each.
type fakeBatch struct {
	mu       sync.Mutex
	state    imagegen.JobState
	requests []imagegen.ItemRequest
	submits  int
}

func (f *fakeBatch) Submit(_ context.Context, label string, reqs []imagegen.ItemRequest) (imagegen.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.requests = append(f.requests, reqs...)
	return imagegen.Submission{JobName: "batches/" + label, UploadedFile: "files/" + label}, nil
}

func (f *fakeBatch) State(context.Context, string) (imagegen.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeBatch) Results(context.Context, string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.requests))
	for _, r := range f.requests {
		out[r.Key] = []byte("jpeg-" + r.Key)
	}
	return out, nil
}

func fastPoller(client imagegen.BatchClient) *imagegen.Poller {
	return &imagegen.Poller{
		Client:   client,
		Interval: time.Millisecond,
		Retry:    llm.RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	}
}

func TestBatch_SubmitThenRetrieve(t *testing.T) {
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(multiPartRow, 1), rowsResponse(multiPartRow, 1))
	deps := newDeps(t, problemgen.KindMultiPart, newGenerator(mock, 1), c)
	batch := &fakeBatch{state: imagegen.JobSucceeded}
	deps.Batch = batch
	deps.BatchDir = t.TempDir()
	deps.RunID = "run-42"

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	unit := unitAt(t, c, 0)
	tasks := Tasks([]course.Unit{unit}, 2)
	rep, err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deferred)
	assert.Equal(t, []string{"batches/ap_statistics_u1_frq"}, rep.Jobs)
	assert.Equal(t, 1, batch.submits, "one job per unit")
	assert.Len(t, batch.requests, 2)

	// Nothing is rendered until the images come back.
	assert.False(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindMultiPart, 0, 0)))

	states, _, err := jobstate.LoadPending(deps.BatchDir)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 2, states[0].TotalImageRequests)
	assert.Equal(t, "run-42", states[0].RunID)

	// A second submit for the same unit is refused while the job is pending.
	again := llm.NewMockProvider()
	deps.Generator = newGenerator(again, 1)
	s2, err := NewScheduler(deps)
	require.NoError(t, err)
	rep, err = s2.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 0, again.CallCount())

	r := &Retriever{
		Poller:   fastPoller(batch),
		Images:   &imagegen.Filler{OutDir: deps.OutDir, Mode: imagegen.ModeDegrade},
		Renderer: deps.Renderer,
		BatchDir: deps.BatchDir,
		OutDir:   deps.OutDir,
	}
	rrep, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rrep.Completed)
	assert.Equal(t, 2, rrep.Rendered)
	assert.Equal(t, 2, rrep.ImagesOK)

	for set := range 2 {
		assert.True(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindMultiPart, 0, set)))
		_, err := os.Stat(imagegen.ImagePath(deps.OutDir, unit, problemgen.KindMultiPart, set, 0))
		require.NoError(t, err)
	}

	states, _, err = jobstate.LoadPending(deps.BatchDir)
	require.NoError(t, err)
	assert.Empty(t, states, "state removed after retrieval")
}

func TestBatch_SetsWithoutImagesRenderImmediately(t *testing.T) {
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(choiceRow, 2))
	deps := newDeps(t, problemgen.KindChoice, newGenerator(mock, 2), c)
	batch := &fakeBatch{state: imagegen.JobSucceeded}
	deps.Batch = batch
	deps.BatchDir = t.TempDir()

	s, err := NewScheduler(deps)
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), Tasks([]course.Unit{unitAt(t, c, 0)}, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 0, batch.submits)
	assert.True(t, render.Exists(render.Path(deps.OutDir, c.ID, problemgen.KindChoice, 0, 0)))
}

func TestRetrieve_FailedJobKeepsState(t *testing.T) {
	c := testCourse()
	unit := unitAt(t, c, 0)
	dir := t.TempDir()

	st := jobstate.New(unit, problemgen.KindMultiPart)
	st.JobName = "batches/failed"
	item := &problemgen.MultiPartItem{Context: "A researcher records the heights of 40 plants."}
	st.AddSet(jobstate.NewSet(0, []problemgen.Item{item}, []imagegen.ItemRequest{{Key: "u1_s1_q1", Prompt: "p", ItemIndex: 0}}))
	_, err := jobstate.Save(dir, st)
	require.NoError(t, err)

	renderer, err := render.New()
	require.NoError(t, err)
	r := &Retriever{
		Poller:   fastPoller(&fakeBatch{state: imagegen.JobFailed}),
		Images:   &imagegen.Filler{OutDir: t.TempDir()},
		Renderer: renderer,
		BatchDir: dir,
		OutDir:   t.TempDir(),
	}
	rep, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Rendered)

	states, _, err := jobstate.LoadPending(dir)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

// submitTwoSets runs batch phase 1 for two sets of unit 1 and then removes
// the second set's image from the job results.
func submitTwoSets(t *testing.T) (Deps, *fakeBatch, course.Unit) {
	t.Helper()
	c := testCourse()
	mock := llm.NewMockProvider(rowsResponse(multiPartRow, 1), rowsResponse(multiPartRow, 1))
	deps := newDeps(t, problemgen.KindMultiPart, newGenerator(mock, 1), c)
	batch := &fakeBatch{state: imagegen.JobSucceeded}
	deps.Batch = batch
	deps.BatchDir = t.TempDir()

	s, err := NewScheduler(deps)
	require.NoError(t, err)
	unit := unitAt(t, c, 0)
	rep, err := s.Run(context.Background(), Tasks([]course.Unit{unit}, 2))
	require.NoError(t, err)
	require.Equal(t, 2, rep.Deferred)

	missing := imagegen.RequestKey(unit, 1, 0)
	kept := batch.requests[:0]
	for _, r := range batch.requests {
		if r.Key != missing {
			kept = append(kept, r)
		}
	}
	batch.requests = kept
	require.Len(t, batch.requests, 1)
	return deps, batch, unit
}

func TestRetrieve_MissingImagesDropSet(t *testing.T) {
	deps, batch, unit := submitTwoSets(t)

	r := &Retriever{
		Poller:   fastPoller(batch),
		Images:   &imagegen.Filler{OutDir: deps.OutDir, Mode: imagegen.ModeStrict},
		Renderer: deps.Renderer,
		BatchDir: deps.BatchDir,
		OutDir:   deps.OutDir,
	}
	rep, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, 1, rep.Rendered)
	assert.Equal(t, 1, rep.Dropped)

	courseID := unit.CourseID
	assert.True(t, render.Exists(render.Path(deps.OutDir, courseID, problemgen.KindMultiPart, 0, 0)))
	assert.False(t, render.Exists(render.Path(deps.OutDir, courseID, problemgen.KindMultiPart, 0, 1)))

	states, _, err := jobstate.LoadPending(deps.BatchDir)
	require.NoError(t, err)
	assert.Empty(t, states)

	// The unit is no longer blocked: generate redoes only the dropped set.
	mock := llm.NewMockProvider(rowsResponse(multiPartRow, 1))
	deps.Generator = newGenerator(mock, 1)
	s, err := NewScheduler(deps)
	require.NoError(t, err)
	again, err := s.Run(context.Background(), Tasks([]course.Unit{unit}, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 1, again.Deferred)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetrieve_RenderFailureKeepsOnlyUnfinishedSets(t *testing.T) {
	deps, batch, _ := submitTwoSets(t)

	// A regular file where the output tree should be makes every render fail.
	blocked := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))

	r := &Retriever{
		Poller:   fastPoller(batch),
		Images:   &imagegen.Filler{OutDir: deps.OutDir, Mode: imagegen.ModeStrict},
		Renderer: deps.Renderer,
		BatchDir: deps.BatchDir,
		OutDir:   blocked,
	}
	rep, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Rendered)
	assert.Equal(t, 1, rep.Dropped)

	states, _, err := jobstate.LoadPending(deps.BatchDir)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Len(t, states[0].Sets, 1)
	assert.Equal(t, 0, states[0].Sets[0].SetIndex)
	assert.Equal(t, 1, states[0].TotalImageRequests)
}

func TestRetrieve_NoPendingJobs(t *testing.T) {
	renderer, err := render.New()
	require.NoError(t, err)
	r := &Retriever{
		Poller:   fastPoller(&fakeBatch{}),
		Images:   &imagegen.Filler{},
		Renderer: renderer,
		BatchDir: filepath.Join(t.TempDir(), "missing"),
	}
	rep, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Jobs)
}
