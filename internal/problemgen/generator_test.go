package problemgen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/llm"
)

func testUnit() course.Unit {
	return course.Unit{
		CourseID:   "ap_statistics",
		CourseName: "AP Statistics",
		Index:      0,
		Title:      "Exploring One-Variable Data",
		Topics: []course.Topic{{
			ID: "1.2",
			LearningObjectives: []course.LearningObjective{
				{ID: "VAR-1.A"}, {ID: "VAR-1.B"}, {ID: "UNC-1.A"},
			},
		}},
	}
}

func validChoiceRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		f := choiceFields()
		f[4] = "Question " + string(rune('A'+i%26)) + "?"
		rows[i] = strings.Join(f, "\t")
	}
	return rows
}

func disallowedChoiceRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		f := choiceFields()
		f[1] = "9.Z"
		rows[i] = strings.Join(f, "\t")
	}
	return rows
}

func textResponse(rows ...string) llm.MockResponse {
	return llm.MockResponse{Text: strings.Join(rows, "\n")}
}

func testInput(kind Kind) Input {
	u := testUnit()
	return Input{
		Unit:        u,
		Kind:        kind,
		SetIndex:    2,
		Context:     "UNIT CONTEXT",
		Constraints: testConstraints(),
		Coverage:    NewCoverage(u),
	}
}

func TestRun_AllValidFirstRound(t *testing.T) {
	mock := llm.NewMockProvider(textResponse(validChoiceRows(25)...))
	gen := New(mock, DefaultConfig())

	res, err := gen.Run(context.Background(), testInput(KindChoice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if len(res.Items) != 25 {
		t.Errorf("items = %d, want 25", len(res.Items))
	}
	if res.RepairRounds != 0 || mock.CallCount() != 1 {
		t.Errorf("repair rounds = %d, calls = %d; want 0 and 1", res.RepairRounds, mock.CallCount())
	}
	if got := res.Items[0].Base().ID; got != "ap_statistics_MCQ_U1S3Q1" {
		t.Errorf("first ID = %q", got)
	}
	if got := res.Items[24].Base().ID; got != "ap_statistics_MCQ_U1S3Q25" {
		t.Errorf("last ID = %q", got)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
}

func TestRun_OneRepairRound(t *testing.T) {
	initial := append(validChoiceRows(20), disallowedChoiceRows(5)...)
	mock := llm.NewMockProvider(
		textResponse(initial...),
		textResponse(validChoiceRows(8)...),
	)
	gen := New(mock, DefaultConfig())

	res, err := gen.Run(context.Background(), testInput(KindChoice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSuccess || len(res.Items) != 25 {
		t.Fatalf("status = %s, items = %d; want success with 25", res.Status, len(res.Items))
	}
	if res.RepairRounds != 1 || mock.CallCount() != 2 {
		t.Errorf("repair rounds = %d, calls = %d; want 1 and 2", res.RepairRounds, mock.CallCount())
	}

	repair := mock.Calls[1].Prompt
	if !strings.Contains(repair, "Write 8 NEW questions") {
		t.Errorf("repair prompt does not ask for 8 items:\n%s", repair)
	}
	if !strings.Contains(repair, "Invalid codes found: 9.Z") {
		t.Errorf("repair prompt missing error summary:\n%s", repair)
	}
	if !strings.Contains(repair, "ALLOWED_LOS (preview): UNC-1.A,VAR-1.A,VAR-1.B") {
		t.Errorf("repair prompt missing LO preview:\n%s", repair)
	}
	if len(res.Rejections) != 5 {
		t.Errorf("rejections = %d, want 5", len(res.Rejections))
	}
}

func TestRun_ExhaustedAfterMaxRounds(t *testing.T) {
	mock := llm.NewMockProvider(textResponse(validChoiceRows(20)...))
	for range 4 {
		mock.AddResponse(textResponse(disallowedChoiceRows(3)...))
	}
	cfg := DefaultConfig()
	gen := New(mock, cfg)

	in := testInput(KindChoice)
	res, err := gen.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusExhausted {
		t.Fatalf("status = %s, want exhausted", res.Status)
	}
	if len(res.Items) != 20 {
		t.Errorf("items = %d, want 20", len(res.Items))
	}
	if res.RepairRounds != 4 || mock.CallCount() != 5 {
		t.Errorf("repair rounds = %d, calls = %d; want 4 and 5", res.RepairRounds, mock.CallCount())
	}
	if !errors.Is(res.Err(), ErrExhausted) {
		t.Errorf("Err() = %v, want ErrExhausted", res.Err())
	}
	if !strings.Contains(res.Err().Error(), "got 20/25") {
		t.Errorf("Err() = %q, want got 20/25", res.Err())
	}
	for _, it := range res.Items {
		if it.Base().ID != "" {
			t.Fatalf("exhausted items must not get IDs, got %q", it.Base().ID)
		}
	}
	for lo, n := range in.Coverage.Snapshot() {
		if n != 0 {
			t.Errorf("coverage for %s = %d, want 0", lo, n)
		}
	}
}

func TestRun_ModelErrorsBecomeEmptyResponses(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockResponse{Err: &llm.ErrProviderUnavailable{}},
		llm.MockResponse{Err: errors.New("boom")},
		textResponse(validChoiceRows(30)...),
	)
	gen := New(mock, DefaultConfig())

	res, err := gen.Run(context.Background(), testInput(KindChoice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSuccess || len(res.Items) != 25 {
		t.Fatalf("status = %s, items = %d; want success with 25", res.Status, len(res.Items))
	}
	if mock.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", mock.CallCount())
	}
}

func TestRun_CallBound(t *testing.T) {
	for rounds := 0; rounds <= 5; rounds++ {
		// An empty queue makes every call fail.
		mock := llm.NewMockProvider()
		cfg := DefaultConfig()
		cfg.MaxRepairRounds = rounds
		res, err := New(mock, cfg).Run(context.Background(), testInput(KindChoice))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != StatusExhausted {
			t.Errorf("rounds=%d: status = %s", rounds, res.Status)
		}
		if mock.CallCount() != rounds+1 {
			t.Errorf("rounds=%d: calls = %d, want %d", rounds, mock.CallCount(), rounds+1)
		}
	}
}

func TestRun_MultiPartPurposeAndIDs(t *testing.T) {
	rows := make([]string, 6)
	for i := range rows {
		rows[i] = strings.Join(multiPartFields(), "\t")
	}
	mock := llm.NewMockProvider(textResponse(rows...))
	gen := New(mock, DefaultConfig())

	res, err := gen.Run(context.Background(), testInput(KindMultiPart))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(res.Items))
	}
	if got := res.Items[4].Base().ID; got != "ap_statistics_FRQ_U1S3Q5" {
		t.Errorf("ID = %q", got)
	}
}

func TestRun_InitialPromptListsPriorityLOs(t *testing.T) {
	in := testInput(KindChoice)
	in.Coverage.Update([]Item{&ChoiceItem{Meta: Meta{LOIDs: []string{"UNC-1.A", "VAR-1.A"}}}})

	mock := llm.NewMockProvider(textResponse(validChoiceRows(25)...))
	cfg := DefaultConfig()
	cfg.PriorityTopN = 1
	if _, err := New(mock, cfg).Run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := mock.Calls[0].Prompt
	if !strings.Contains(prompt, "under-covered learning objectives: VAR-1.B") {
		t.Errorf("initial prompt missing priority LO:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Write exactly 25 multiple-choice questions") {
		t.Errorf("initial prompt missing target:\n%s", prompt)
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := llm.NewMockProvider()
	_, err := New(mock, DefaultConfig()).Run(ctx, testInput(KindChoice))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	calls    map[Phase]int
	rejected map[RejectionReason]int
	finished []Status
}

func (o *recordingObserver) ModelCall(_ Kind, phase Phase, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[phase]++
}

func (o *recordingObserver) Rejected(_ Kind, r RejectionReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[r.Reason]++
}

func (o *recordingObserver) Finished(_ Kind, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, res.Status)
}

func TestRun_Observer(t *testing.T) {
	obs := &recordingObserver{calls: map[Phase]int{}, rejected: map[RejectionReason]int{}}
	mock := llm.NewMockProvider(
		textResponse(append(validChoiceRows(24), disallowedChoiceRows(2)...)...),
		textResponse(validChoiceRows(4)...),
	)
	cfg := DefaultConfig()
	cfg.Observer = obs
	if _, err := New(mock, cfg).Run(context.Background(), testInput(KindChoice)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.calls[PhaseInitial] != 1 || obs.calls[PhaseRepair] != 1 {
		t.Errorf("calls = %v", obs.calls)
	}
	if obs.rejected[ReasonDisallowedSkillCode] != 2 {
		t.Errorf("rejected = %v", obs.rejected)
	}
	if len(obs.finished) != 1 || obs.finished[0] != StatusSuccess {
		t.Errorf("finished = %v", obs.finished)
	}
}
