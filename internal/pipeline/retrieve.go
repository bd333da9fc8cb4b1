package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/jobstate"
	"github.com/abhisek/apgen/internal/render"
)

// RetrieveReport counts the outcome of one retrieve pass.
type RetrieveReport struct {
	Jobs      int
	Completed int
	Failed    int
	Rendered  int

	// Dropped counts sets removed from their job because their images
	// never came back. They are regenerated by the next generate run.
	Dropped      int
	ImagesOK     int
	ImagesFailed int

	// Skipped lists state files that could not be read.
	Skipped []error
}

// Retriever is the second phase of batch mode: it waits for every pending
// job, attaches the images and renders the deferred sets.
type Retriever struct {
	Poller   *imagegen.Poller
	Images   *imagegen.Filler
	Renderer *render.Renderer
	BatchDir string
	OutDir   string
	Logger   *zap.Logger
}

// Retrieve processes every pending job state. A job's state file is
// removed only when the job succeeded and all of its sets were rendered,
// so a failed retrieval can be retried.
func (r *Retriever) Retrieve(ctx context.Context) (*RetrieveReport, error) {
	if r.Poller == nil || r.Images == nil || r.Renderer == nil {
		return nil, errors.New("pipeline: poller, images and renderer are required")
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	states, skipped, err := jobstate.LoadPending(r.BatchDir)
	if err != nil {
		return nil, err
	}
	rep := &RetrieveReport{Jobs: len(states), Skipped: skipped}
	for _, e := range skipped {
		log.Warn("unreadable job state", zap.Error(e))
	}
	if len(states) == 0 {
		log.Info("no pending batch jobs")
		return rep, nil
	}

	results := make([]jobOutcome, len(states))
	var g errgroup.Group
	for i, st := range states {
		g.Go(func() error {
			results[i] = r.retrieveJob(ctx, st, log.With(zap.String("job", st.Label()), zap.String("batch_job", st.JobName)))
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range results {
		if o.ok {
			rep.Completed++
		} else {
			rep.Failed++
		}
		rep.Rendered += o.rendered
		rep.Dropped += o.dropped
		rep.ImagesOK += o.stats.Generated
		rep.ImagesFailed += o.stats.Failed
	}
	return rep, ctx.Err()
}

type jobOutcome struct {
	ok       bool
	rendered int
	dropped  int
	stats    imagegen.Stats
}

func (r *Retriever) retrieveJob(ctx context.Context, st *jobstate.State, log *zap.Logger) jobOutcome {
	var out jobOutcome

	state, err := r.Poller.Wait(ctx, st.JobName)
	if err != nil {
		log.Error("poll batch job", zap.Error(err))
		return out
	}
	if state != imagegen.JobSucceeded {
		log.Error("batch job did not succeed, state kept", zap.String("state", string(state)))
		return out
	}

	images, err := r.Poller.Client.Results(ctx, st.JobName)
	if err != nil {
		log.Error("download batch results", zap.Error(err))
		return out
	}
	log.Info("batch results downloaded", zap.Int("images", len(images)), zap.Int("requested", st.TotalImageRequests))

	unit := st.Unit()
	var (
		rendered []int
		dropped  []int
		retry    bool
	)
	for _, set := range st.Sets {
		items := set.Items()
		stats, err := r.Images.Apply(unit, set.SetIndex, items, set.ImageRequests, images)
		out.stats.Generated += stats.Generated
		out.stats.Failed += stats.Failed
		if errors.Is(err, imagegen.ErrImageFailed) {
			// The job's results are final, so retrying cannot fill the gap.
			log.Warn("set dropped, its images are missing; run generate to regenerate it",
				zap.Int("set", set.SetIndex+1), zap.Error(err))
			dropped = append(dropped, set.SetIndex)
			continue
		}
		if err != nil {
			log.Warn("set images failed", zap.Int("set", set.SetIndex+1), zap.Error(err))
			retry = true
			continue
		}
		path, _, err := r.Renderer.Write(r.OutDir, unit, st.Kind, set.SetIndex, items, true)
		if err != nil {
			log.Error("render set", zap.Int("set", set.SetIndex+1), zap.Error(err))
			retry = true
			continue
		}
		rendered = append(rendered, set.SetIndex)
		log.Debug("set rendered", zap.String("path", path))
	}
	out.rendered = len(rendered)
	out.dropped = len(dropped)

	if retry {
		// Keep only what a second retrieve can still finish.
		for _, idx := range append(rendered, dropped...) {
			st.DropSet(idx)
		}
		if _, err := jobstate.Save(r.BatchDir, st); err != nil {
			log.Error("save job state", zap.Error(err))
		}
		log.Warn("some sets were not rendered, state kept", zap.Int("remaining", len(st.Sets)))
		return out
	}
	if _, err := jobstate.MarkCompleted(r.BatchDir, st.JobName); err != nil {
		log.Warn("remove job state", zap.Error(err))
	}
	out.ok = true
	log.Info("batch job retrieved", zap.Int("sets", out.rendered), zap.Int("dropped", out.dropped))
	return out
}
