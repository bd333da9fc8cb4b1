package problemgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/llm"
)

// ErrExhausted is returned by Result.Err when a set ran out of repair
// rounds before reaching its target.
var ErrExhausted = errors.New("repair rounds exhausted")

// Status is the terminal state of one generation session.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusExhausted Status = "exhausted"
)

// Phase distinguishes the first model call of a set from repair calls.
type Phase string

const (
	PhaseInitial Phase = "initial"
	PhaseRepair  Phase = "repair"
)

// Observer receives loop events. Implementations must be safe for
// concurrent use; one observer is shared by every running set.
type Observer interface {
	ModelCall(kind Kind, phase Phase, elapsed time.Duration, err error)
	Rejected(kind Kind, r RejectionReport)
	Finished(kind Kind, res *Result)
}

type nopObserver struct{}

func (nopObserver) ModelCall(Kind, Phase, time.Duration, error) {}
func (nopObserver) Rejected(Kind, RejectionReport)              {}
func (nopObserver) Finished(Kind, *Result)                      {}

// Input describes one (unit, set) generation session.
type Input struct {
	Unit     course.Unit
	Kind     Kind
	SetIndex int

	// Context and Constraints come from BuildContext for the unit.
	Context     string
	Constraints Constraints

	// Coverage is the unit's shared tracker. It is read here but only
	// updated by the caller once a set is fully accepted.
	Coverage *Coverage
}

// Result is the outcome of one session.
type Result struct {
	Status Status
	Target int

	// Items holds exactly Target items on success and whatever was
	// accepted otherwise. IDs are assigned on success only.
	Items []Item

	Calls        int
	RepairRounds int
	Rejections   []RejectionReport
}

// Err returns nil on success and an error wrapping ErrExhausted otherwise.
func (r *Result) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	return fmt.Errorf("got %d/%d items after %d repair rounds: %w",
		len(r.Items), r.Target, r.RepairRounds, ErrExhausted)
}

// Generator runs the generate-validate-repair loop against a text model.
type Generator struct {
	provider  llm.Provider
	config    Config
	validator *RowValidator
	prompts   *Prompts
	logger    *zap.Logger
	observer  Observer
}

// New creates a Generator. Empty OverAsk, PreviewSize, MaxTokens,
// Validators and Prompts fall back to their defaults.
func New(provider llm.Provider, cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.MaxRepairRounds < 0 {
		cfg.MaxRepairRounds = 0
	}
	if cfg.OverAsk == (OverAskPolicy{}) {
		cfg.OverAsk = def.OverAsk
	}
	if cfg.PreviewSize == 0 {
		cfg.PreviewSize = def.PreviewSize
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	g := &Generator{
		provider:  provider,
		config:    cfg,
		validator: NewRowValidator(cfg.Validators...),
		prompts:   cfg.Prompts,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
	}
	if g.prompts == nil {
		g.prompts = DefaultPrompts()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	return g
}

// Run generates one set. It returns an error only when ctx is done or a
// prompt cannot be rendered; model failures count as empty responses and
// running out of repair rounds is reported through Result.Status.
func (g *Generator) Run(ctx context.Context, in Input) (*Result, error) {
	target := g.config.Target
	if target <= 0 {
		target = DefaultTarget(in.Kind)
	}
	log := g.logger.With(
		zap.String("course", in.Unit.CourseID),
		zap.Int("unit", in.Unit.Number()),
		zap.Int("set", in.SetIndex+1),
		zap.String("kind", string(in.Kind)),
	)

	res := &Result{Target: target}

	var priority []string
	if in.Coverage != nil {
		priority = in.Coverage.Priority(in.Constraints.LOIDs(), g.config.PriorityTopN)
	}
	prompt, err := g.prompts.Initial(in.Kind, PromptData{
		CourseName:   in.Unit.CourseName,
		UnitContext:  in.Context,
		NumQuestions: target,
		PriorityLOs:  strings.Join(priority, ","),
	})
	if err != nil {
		return nil, err
	}

	text := g.call(ctx, log, in.Kind, PhaseInitial, prompt)
	res.Calls++
	g.accept(log, in, res, text)

	for len(res.Items) < target && res.RepairRounds < g.config.MaxRepairRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.RepairRounds++
		missing := target - len(res.Items)
		request := g.config.OverAsk.Request(missing)
		log.Info("repairing set",
			zap.Int("round", res.RepairRounds),
			zap.Int("missing", missing),
			zap.Int("requesting", request),
		)

		prompt, err := g.prompts.Repair(in.Kind, PromptData{
			CourseName:           in.Unit.CourseName,
			UnitContext:          in.Context,
			NumQuestions:         request,
			ErrorSummary:         Summarize(res.Rejections),
			AllowedSkillsPreview: strings.Join(in.Constraints.SkillPreview(g.config.PreviewSize), ","),
			AllowedLOsPreview:    strings.Join(in.Constraints.LOPreview(g.config.PreviewSize), ","),
		})
		if err != nil {
			return nil, err
		}

		text := g.call(ctx, log, in.Kind, PhaseRepair, prompt)
		res.Calls++
		g.accept(log, in, res, text)
	}

	if len(res.Items) >= target {
		res.Items = res.Items[:target]
		res.Status = StatusSuccess
		AssignIDs(res.Items, in.Unit.CourseID, in.Unit.Index, in.SetIndex)
		log.Info("set complete", zap.Int("items", target), zap.Int("calls", res.Calls))
	} else {
		res.Status = StatusExhausted
		log.Warn("set exhausted", zap.String("got", fmt.Sprintf("%d/%d", len(res.Items), target)))
	}
	g.observer.Finished(in.Kind, res)
	return res, nil
}

// call sends one prompt and returns the response text. Errors are logged
// and yield empty text.
func (g *Generator) call(ctx context.Context, log *zap.Logger, kind Kind, phase Phase, prompt string) string {
	ctx = llm.WithPurpose(ctx, fmt.Sprintf("%s-%s", kind, phase))
	start := time.Now()
	resp, err := g.provider.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	})
	g.observer.ModelCall(kind, phase, time.Since(start), err)
	if err != nil {
		log.Warn("model call failed", zap.String("phase", string(phase)), zap.Error(err))
		return ""
	}
	if resp.Truncated() {
		log.Debug("reply hit the token cap", zap.String("phase", string(phase)), zap.Int("output_tokens", resp.Usage.OutputTokens))
	}
	return resp.Text
}

func (g *Generator) accept(log *zap.Logger, in Input, res *Result, text string) {
	rows := ParseRows(text)
	items, reports := g.validator.ValidateAll(rows, in.Kind, in.Constraints)
	for _, r := range reports {
		log.Debug("row rejected",
			zap.Int("row", r.Row),
			zap.String("reason", string(r.Reason)),
			zap.String("detail", r.Detail),
		)
		g.observer.Rejected(in.Kind, r)
	}
	log.Debug("validated response",
		zap.Int("rows", len(rows)),
		zap.Int("accepted", len(items)),
		zap.Int("rejected", len(reports)),
	)
	res.Items = append(res.Items, items...)
	res.Rejections = append(res.Rejections, reports...)
}
