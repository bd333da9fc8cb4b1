package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/config"
	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/imagegen"
	"github.com/abhisek/apgen/internal/llm"
	"github.com/abhisek/apgen/internal/pipeline"
	"github.com/abhisek/apgen/internal/problemgen"
	"github.com/abhisek/apgen/internal/render"
	"github.com/abhisek/apgen/internal/report"
	"github.com/abhisek/apgen/internal/store"
	"github.com/abhisek/apgen/internal/ui/theme"
)

var generateCmd = &cobra.Command{
	Use:   "generate <mcq|frq>",
	Short: "Generate practice sets for every selected unit",
	Long: `Generate runs one generate-validate-repair session per (unit, set) and
renders each completed set to {output}/{course}/{kind}/unit{u}-set{s}.html.

Sets whose page already exists are skipped, so an interrupted run can be
resumed by running the same command again. With --batch-images, image
stimuli are collected into one batch job per unit and the sets are rendered
later by "apgen retrieve".`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"mcq", "frq"},
	RunE:      runGenerate,
}

func init() {
	generateCmd.Flags().Bool("batch-images", false, "Defer image stimuli to a batch job (render with 'apgen retrieve')")
	generateCmd.Flags().IntSlice("unit", nil, "Only generate these 1-based unit numbers (repeatable)")
	generateCmd.Flags().StringSlice("course", nil, "Only generate these course IDs (repeatable)")
	generateCmd.Flags().Int("sets", 0, "Sets per unit (overrides generation.sets_per_unit)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := env.cfg
	log := env.log

	kind, err := problemgen.ParseKind(args[0])
	if err != nil {
		return err
	}
	if units, _ := cmd.Flags().GetIntSlice("unit"); len(units) > 0 {
		cfg.Units = units
	}
	if courses, _ := cmd.Flags().GetStringSlice("course"); len(courses) > 0 {
		cfg.Courses = courses
	}
	if sets, _ := cmd.Flags().GetInt("sets"); sets > 0 {
		cfg.Generation.SetsPerUnit = sets
	}
	batchImages, _ := cmd.Flags().GetBool("batch-images")
	if err := cfg.Validate(); err != nil {
		return err
	}

	courses, err := course.LoadDir(cfg.ContentDir, cfg.Courses)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		return fmt.Errorf("no course outlines found in %s", cfg.ContentDir)
	}

	var (
		units    []course.Unit
		byCourse = make(map[string]*course.Course, len(courses))
	)
	for _, c := range courses {
		byCourse[c.ID] = c
		for _, u := range c.AllUnits() {
			if cfg.WantsUnit(u.Index) {
				units = append(units, u)
			}
		}
	}
	if len(units) == 0 {
		return errors.New("no units selected")
	}

	dbPath, err := ledgerPath(cmd)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	var repo store.EventRepo
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()
		repo = st.EventRepo()
	}

	runID := uuid.NewString()
	ctx = llm.WithRun(ctx, runID)
	log = log.With(zap.String("run", runID))

	provider, err := newTextProvider(ctx, cfg, repo, log)
	if err != nil {
		return err
	}

	metrics := report.NewMetrics()
	gen, err := newGenerator(cfg, kind, provider, metrics, log)
	if err != nil {
		return err
	}
	renderer, err := render.Load(cfg.TemplateDir)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Kind:      kind,
		RunID:     runID,
		Generator: gen,
		Renderer:  renderer,
		Courses:   byCourse,
		OutDir:    cfg.OutputDir,
		BatchDir:  cfg.BatchDir,
		Metrics:   metrics,
		Workbooks: cfg.Metrics.Workbooks,
		Logger:    log,
	}

	if slices.Contains(kind.StimulusKinds(), problemgen.StimulusImage) {
		key := imageAPIKey()
		switch {
		case key == "":
			return errors.New("image stimuli need a Gemini key: set APGEN_GEMINI_API_KEY or GEMINI_API_KEY")
		case batchImages:
			deps.Batch, err = imagegen.NewGeminiBatch(ctx, key, cfg.Images.BatchModel, cfg.BatchDir, log)
			if err != nil {
				return err
			}
		default:
			deps.Images, err = newFiller(ctx, cfg, key, metrics, log)
			if err != nil {
				return err
			}
		}
	}

	s, err := pipeline.NewScheduler(deps)
	if err != nil {
		return err
	}

	tasks := pipeline.Tasks(units, cfg.Generation.SetsPerUnit)
	log.Info("generation started",
		zap.String("kind", string(kind)),
		zap.Int("courses", len(courses)),
		zap.Int("units", len(units)),
		zap.Int("tasks", len(tasks)),
		zap.Bool("batch_images", deps.Batch != nil),
	)

	rep, runErr := s.Run(ctx, tasks)
	printGenerateReport(kind, rep)
	if repo != nil {
		printRow("run", theme.Hint.Render(runID+"  (apgen llm list --run "+runID+")"))
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn("write metrics textfile", zap.Error(err))
		}
	}
	return runErr
}

func printGenerateReport(kind problemgen.Kind, rep *pipeline.Report) {
	fmt.Println()
	fmt.Println(theme.Title.Render(kind.Label() + " generation"))
	printRow("succeeded", theme.OK.Render(fmt.Sprint(rep.Succeeded)))
	printRow("skipped", fmt.Sprint(rep.Skipped))
	if rep.Deferred > 0 {
		printRow("deferred", theme.Warn.Render(fmt.Sprint(rep.Deferred)))
	}
	printRow("exhausted", theme.Count(rep.Exhausted))
	printRow("failed", theme.Count(rep.Failed))
	if rep.ImagesOK+rep.ImagesFailed > 0 {
		printRow("images", fmt.Sprintf("%d ok, %s failed", rep.ImagesOK, theme.Count(rep.ImagesFailed)))
	}
	for _, job := range rep.Jobs {
		printRow("batch job", job)
	}
	if len(rep.Jobs) > 0 {
		fmt.Println(theme.Hint.Render("  Run 'apgen retrieve' once the batch jobs finish."))
	}
}

// printRow prints an indented "label  value" line. The label is padded
// before styling so escape codes do not skew the alignment.
func printRow(label, value string) {
	fmt.Printf("  %s %s\n", theme.Label.Render(fmt.Sprintf("%-12s", label)), value)
}

// newTextProvider resolves the text model from the llm config section and
// the API keys in the environment.
func newTextProvider(ctx context.Context, cfg *config.Config, repo store.EventRepo, log *zap.Logger) (llm.Provider, error) {
	llmCfg, err := llm.Resolve(cfg.LLM.Provider, cfg.LLM.Model, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("LLM provider: %w", err)
	}
	llmCfg.Retry.MaxAttempts = cfg.LLM.MaxAttempts
	llmCfg.Timeout = cfg.LLM.Timeout
	llmCfg.Concurrency = cfg.Generation.TextConcurrency

	p, err := llm.NewProvider(ctx, llmCfg, repo, log)
	if err != nil {
		return nil, fmt.Errorf("LLM provider: %w", err)
	}
	log.Info("text model", zap.String("provider", llmCfg.Provider), zap.String("model", p.ModelID()))
	return p, nil
}

func newGenerator(cfg *config.Config, kind problemgen.Kind, provider llm.Provider, obs problemgen.Observer, log *zap.Logger) (*problemgen.Generator, error) {
	gc := problemgen.DefaultConfig()
	gc.Target = cfg.Generation.MCQPerSet
	if kind == problemgen.KindMultiPart {
		gc.Target = cfg.Generation.FRQPerSet
	}
	gc.MaxRepairRounds = cfg.Generation.MaxRepairRounds
	gc.MaxTokens = cfg.LLM.MaxTokens
	gc.Temperature = cfg.LLM.Temperature
	gc.PriorityTopN = cfg.Generation.PriorityLOs
	gc.Logger = log
	gc.Observer = obs

	if cfg.PromptDir != "" {
		prompts, err := problemgen.LoadPrompts(cfg.PromptDir)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		gc.Prompts = prompts
	}
	return problemgen.New(provider, gc), nil
}

// imageAPIKey returns the Gemini key used for image stimuli.
func imageAPIKey() string {
	if k := os.Getenv("APGEN_GEMINI_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("GEMINI_API_KEY")
}

func newFiller(ctx context.Context, cfg *config.Config, key string, metrics *report.Metrics, log *zap.Logger) (*imagegen.Filler, error) {
	mode, err := imagegen.ParseMode(cfg.Images.Mode)
	if err != nil {
		return nil, err
	}
	f := &imagegen.Filler{
		OutDir:      cfg.OutputDir,
		Mode:        mode,
		AspectRatio: cfg.Images.AspectRatio,
		Logger:      log,
		OnImage:     metrics.Image,
	}
	if key != "" {
		g, err := imagegen.NewGeminiGenerator(ctx, key, cfg.Images.Model)
		if err != nil {
			return nil, err
		}
		f.Generator = imagegen.NewLimited(g, cfg.Images.Concurrency, cfg.Images.Spacing, imagegen.DefaultRetry())
	}
	return f, nil
}
