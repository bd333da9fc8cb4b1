// Package pipeline fans generation sessions out over (unit, set) tasks and
// carries accepted sets through image resolution, rendering and coverage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/jobstate"
	"github.com/abhisek/apgen/internal/problemgen"
	"github.com/abhisek/apgen/internal/render"
	"github.com/abhisek/apgen/internal/report"
)

// Task is one (unit, set) generation session.
type Task struct {
	Unit     course.Unit
	SetIndex int
}

// Tasks expands units into sets-per-unit tasks each.
func Tasks(units []course.Unit, setsPerUnit int) []Task {
	tasks := make([]Task, 0, len(units)*setsPerUnit)
	for _, u := range units {
		for s := range setsPerUnit {
			tasks = append(tasks, Task{Unit: u, SetIndex: s})
		}
	}
	return tasks
}

// Deps carries everything a Scheduler needs. Courses must contain every
// course referenced by the tasks.
type Deps struct {
	Kind problemgen.Kind

	// RunID is stamped on submitted job states so they can be matched to
	// ledger rows. Empty keeps the per-job ID.
	RunID string

	Generator *problemgen.Generator
	Renderer  *render.Renderer
	Courses   map[string]*course.Course

	// Images resolves image stimuli in realtime mode and applies batch
	// results in retrieve.
	Images *imagegen.Filler

	// Batch, when set, defers image stimuli to a batch job per unit.
	Batch    imagegen.BatchClient
	BatchDir string

	OutDir string

	// Context bounds the unit context text. Zero limits use the defaults.
	Context problemgen.ContextOptions

	// Metrics is optional.
	Metrics *report.Metrics

	// Workbooks writes a coverage workbook per unit after its sets finish.
	Workbooks bool

	Logger *zap.Logger
}

// Report counts task outcomes of one run.
type Report struct {
	mu sync.Mutex

	Succeeded    int
	Exhausted    int
	Skipped      int
	Deferred     int
	Failed       int
	ImagesOK     int
	ImagesFailed int

	// Jobs lists the batch jobs submitted during the run.
	Jobs []string

	// Coverage holds each unit's LO counts after its sets finished,
	// keyed by unit label.
	Coverage map[string]map[string]int
}

func (r *Report) add(fn func(r *Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Total is the number of tasks the report accounts for.
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Succeeded + r.Exhausted + r.Skipped + r.Deferred + r.Failed
}

// Scheduler runs tasks concurrently. Each task is independent: an
// exhausted or failed set never cancels its siblings.
type Scheduler struct {
	deps Deps
	log  *zap.Logger
}

// NewScheduler validates deps and returns a Scheduler.
func NewScheduler(deps Deps) (*Scheduler, error) {
	if deps.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("pipeline: renderer is required")
	}
	if deps.Batch != nil && deps.BatchDir == "" {
		return nil, errors.New("pipeline: batch dir is required in batch mode")
	}
	deps.Context = deps.Context.WithDefaults()
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{deps: deps, log: log.With(zap.String("kind", string(deps.Kind)))}, nil
}

// unitRun is the shared state of every task of one unit.
type unitRun struct {
	unit        course.Unit
	context     string
	constraints problemgen.Constraints
	coverage    *problemgen.Coverage
	tasks       []Task

	// job collects deferred sets in batch mode.
	mu  sync.Mutex
	job *jobstate.State
}

// Run executes every task and returns once all of them have finished.
// The error is non-nil only when ctx was cancelled or a unit could not be
// prepared; per-set failures are counted in the report.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) (*Report, error) {
	rep := &Report{}

	units, err := s.group(tasks)
	if err != nil {
		return rep, err
	}

	pending := s.pendingJobs()

	var g errgroup.Group
	for _, ur := range units {
		if s.deps.Batch != nil && pending[jobstate.New(ur.unit, s.deps.Kind).FileName()] {
			s.log.Warn("unit has a pending batch job, run retrieve first",
				zap.String("unit", ur.unit.Label()))
			for range ur.tasks {
				rep.add(func(r *Report) { r.Skipped++ })
				s.outcome(report.OutcomeSkipped)
			}
			continue
		}

		g.Go(func() error {
			s.runUnit(ctx, ur, rep)
			return nil
		})
	}
	_ = g.Wait()

	return rep, ctx.Err()
}

// group builds one unitRun per distinct unit in task order.
func (s *Scheduler) group(tasks []Task) ([]*unitRun, error) {
	var (
		units []*unitRun
		byKey = make(map[string]*unitRun)
	)
	for _, t := range tasks {
		key := fmt.Sprintf("%s/%d", t.Unit.CourseID, t.Unit.Index)
		ur, ok := byKey[key]
		if !ok {
			c, found := s.deps.Courses[t.Unit.CourseID]
			if !found {
				return nil, fmt.Errorf("no course outline for %s", t.Unit.CourseID)
			}
			text, cons := problemgen.BuildContext(c, t.Unit, s.deps.Kind, s.deps.Context)
			ur = &unitRun{
				unit:        t.Unit,
				context:     text,
				constraints: cons,
				coverage:    problemgen.NewCoverage(t.Unit),
			}
			byKey[key] = ur
			units = append(units, ur)
		}
		ur.tasks = append(ur.tasks, t)
	}
	return units, nil
}

func (s *Scheduler) pendingJobs() map[string]bool {
	if s.deps.Batch == nil {
		return nil
	}
	states, _, err := jobstate.LoadPending(s.deps.BatchDir)
	if err != nil {
		s.log.Warn("read pending batch jobs", zap.Error(err))
		return nil
	}
	pending := make(map[string]bool, len(states))
	for _, st := range states {
		pending[st.FileName()] = true
	}
	return pending
}

func (s *Scheduler) runUnit(ctx context.Context, ur *unitRun, rep *Report) {
	log := s.log.With(zap.String("course", ur.unit.CourseID), zap.Int("unit", ur.unit.Number()))

	var g errgroup.Group
	for _, t := range ur.tasks {
		path := render.Path(s.deps.OutDir, t.Unit.CourseID, s.deps.Kind, t.Unit.Index, t.SetIndex)
		if render.Exists(path) {
			log.Debug("set already rendered", zap.Int("set", t.SetIndex+1))
			rep.add(func(r *Report) { r.Skipped++ })
			s.outcome(report.OutcomeSkipped)
			continue
		}
		g.Go(func() error {
			s.runSet(ctx, ur, t, rep)
			return nil
		})
	}
	_ = g.Wait()

	if ur.job != nil && ctx.Err() == nil {
		s.submit(ctx, ur, rep)
	}

	counts := ur.coverage.Snapshot()
	rep.add(func(r *Report) {
		if r.Coverage == nil {
			r.Coverage = make(map[string]map[string]int)
		}
		r.Coverage[ur.unit.Label()] = counts
	})

	if s.deps.Workbooks {
		path := report.WorkbookPath(s.deps.OutDir, ur.unit, s.deps.Kind)
		if err := report.WriteCoverageWorkbook(path, ur.unit, s.deps.Kind, ur.coverage.Snapshot()); err != nil {
			log.Warn("write coverage workbook", zap.Error(err))
		}
	}
}

func (s *Scheduler) runSet(ctx context.Context, ur *unitRun, t Task, rep *Report) {
	log := s.log.With(zap.String("course", t.Unit.CourseID), zap.Int("unit", t.Unit.Number()), zap.Int("set", t.SetIndex+1))

	res, err := s.deps.Generator.Run(ctx, problemgen.Input{
		Unit:        t.Unit,
		Kind:        s.deps.Kind,
		SetIndex:    t.SetIndex,
		Context:     ur.context,
		Constraints: ur.constraints,
		Coverage:    ur.coverage,
	})
	if err != nil {
		log.Warn("set aborted", zap.Error(err))
		rep.add(func(r *Report) { r.Failed++ })
		s.outcome(report.OutcomeAborted)
		return
	}
	if res.Status != problemgen.StatusSuccess {
		log.Warn("set exhausted", zap.String("got", fmt.Sprintf("%d/%d", len(res.Items), res.Target)))
		rep.add(func(r *Report) { r.Exhausted++ })
		s.outcome(report.OutcomeExhausted)
		return
	}

	if s.deps.Batch != nil {
		if reqs := imagegen.Collect(t.Unit, t.SetIndex, res.Items); len(reqs) > 0 {
			ur.mu.Lock()
			if ur.job == nil {
				ur.job = jobstate.New(t.Unit, s.deps.Kind)
				if s.deps.RunID != "" {
					ur.job.RunID = s.deps.RunID
				}
			}
			ur.job.AddSet(jobstate.NewSet(t.SetIndex, res.Items, reqs))
			ur.mu.Unlock()

			// Deferred sets count toward coverage now so later sets of this
			// run steer away from their LOs.
			ur.coverage.Update(res.Items)
			rep.add(func(r *Report) { r.Deferred++ })
			log.Info("set deferred for batch images", zap.Int("images", len(reqs)))
			return
		}
	} else if s.deps.Images != nil {
		st, err := s.deps.Images.Fill(ctx, t.Unit, t.SetIndex, res.Items)
		rep.add(func(r *Report) {
			r.ImagesOK += st.Generated
			r.ImagesFailed += st.Failed
		})
		if err != nil {
			log.Warn("set images failed", zap.Error(err))
			rep.add(func(r *Report) { r.Failed++ })
			s.outcome(report.OutcomeImageFailure)
			return
		}
	}

	path, _, err := s.deps.Renderer.Write(s.deps.OutDir, t.Unit, s.deps.Kind, t.SetIndex, res.Items, false)
	if err != nil {
		log.Error("render set", zap.Error(err))
		rep.add(func(r *Report) { r.Failed++ })
		s.outcome(report.OutcomeRenderFailed)
		return
	}

	ur.coverage.Update(res.Items)
	rep.add(func(r *Report) { r.Succeeded++ })
	s.outcome(report.OutcomeSuccess)
	log.Info("set complete", zap.String("path", path), zap.Int("calls", res.Calls), zap.Int("repair_rounds", res.RepairRounds))
}

// submit sends the unit's deferred image requests as one batch job and
// persists the job state for retrieve.
func (s *Scheduler) submit(ctx context.Context, ur *unitRun, rep *Report) {
	job := ur.job
	log := s.log.With(zap.String("job", job.Label()))

	sub, err := s.deps.Batch.Submit(ctx, job.Label(), job.Requests())
	if err != nil {
		log.Error("submit batch job", zap.Error(err), zap.Int("sets", len(job.Sets)))
		rep.add(func(r *Report) {
			r.Deferred -= len(job.Sets)
			r.Failed += len(job.Sets)
		})
		for range job.Sets {
			s.outcome(report.OutcomeSubmitFailed)
		}
		return
	}
	for range job.Sets {
		s.outcome(report.OutcomeDeferred)
	}
	job.JobName = sub.JobName
	job.UploadedFile = sub.UploadedFile
	job.JSONLPath = sub.JSONLPath

	path, err := jobstate.Save(s.deps.BatchDir, job)
	if err != nil {
		log.Error("save job state", zap.Error(err), zap.String("batch_job", sub.JobName))
		return
	}
	rep.add(func(r *Report) { r.Jobs = append(r.Jobs, sub.JobName) })
	log.Info("batch job submitted",
		zap.String("batch_job", sub.JobName),
		zap.Int("sets", len(job.Sets)),
		zap.Int("images", job.TotalImageRequests),
		zap.String("state", path))
}

func (s *Scheduler) outcome(o string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetOutcome(s.deps.Kind, o)
	}
}
