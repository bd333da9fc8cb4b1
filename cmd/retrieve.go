package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/pipeline"
	"github.com/abhisek/apgen/internal/render"
	"github.com/abhisek/apgen/internal/report"
	"github.com/abhisek/apgen/internal/ui/theme"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Wait for pending batch image jobs and render their sets",
	Long: `Retrieve polls every job recorded in the batch directory until it
finishes, attaches the returned images and renders the deferred sets,
replacing any page already on disk. A job's state file is removed once all
of its sets are rendered; failed jobs keep their state so retrieve can be
run again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := env.cfg
		log := env.log

		key := imageAPIKey()
		if key == "" {
			return errors.New("set APGEN_GEMINI_API_KEY or GEMINI_API_KEY to retrieve batch jobs")
		}
		batch, err := imagegen.NewGeminiBatch(ctx, key, cfg.Images.BatchModel, cfg.BatchDir, log)
		if err != nil {
			return err
		}

		metrics := report.NewMetrics()
		// Images come from the batch results; the filler only writes them.
		filler, err := newFiller(ctx, cfg, "", metrics, log)
		if err != nil {
			return err
		}
		renderer, err := render.Load(cfg.TemplateDir)
		if err != nil {
			return err
		}

		r := &pipeline.Retriever{
			Poller: &imagegen.Poller{
				Client:   batch,
				Interval: cfg.Images.PollInterval,
				Retry:    imagegen.DefaultRetry(),
				Logger:   log,
			},
			Images:   filler,
			Renderer: renderer,
			BatchDir: cfg.BatchDir,
			OutDir:   cfg.OutputDir,
			Logger:   log,
		}
		rep, err := r.Retrieve(ctx)
		if rep == nil {
			return err
		}

		fmt.Println()
		fmt.Println(theme.Title.Render("Batch retrieval"))
		printRow("jobs", fmt.Sprint(rep.Jobs))
		printRow("completed", theme.OK.Render(fmt.Sprint(rep.Completed)))
		printRow("failed", theme.Count(rep.Failed))
		printRow("rendered", fmt.Sprint(rep.Rendered))
		if rep.Dropped > 0 {
			printRow("dropped", theme.Warn.Render(fmt.Sprintf("%d (run generate to regenerate)", rep.Dropped)))
		}
		printRow("images", fmt.Sprintf("%d ok, %s failed", rep.ImagesOK, theme.Count(rep.ImagesFailed)))
		if len(rep.Skipped) > 0 {
			printRow("unreadable", theme.Warn.Render(fmt.Sprint(len(rep.Skipped))))
		}

		if cfg.Metrics.Textfile != "" {
			if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
				log.Warn("write metrics textfile", zap.Error(werr))
			}
		}
		return err
	},
}
