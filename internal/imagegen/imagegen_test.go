package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/llm"
	"github.com/abhisek/apgen/internal/problemgen"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	fail    map[int]error // call number (1-based) -> error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if err := f.fail[f.calls]; err != nil {
		return nil, err
	}
	return []byte("jpeg-bytes"), nil
}

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func testUnit() course.Unit {
	return course.Unit{CourseID: "ap_statistics", CourseName: "AP Statistics", Index: 2, Title: "Collecting Data"}
}

func imageItem(stem string) *problemgen.MultiPartItem {
	return &problemgen.MultiPartItem{
		Meta: problemgen.Meta{
			Stimulus: problemgen.Stimulus{
				Kind:    problemgen.StimulusImage,
				Payload: "IMAGE_PROMPT: A scatterplot of arm span against height for 30 students.",
			},
		},
		Context: stem,
	}
}

func plainItem() *problemgen.MultiPartItem {
	return &problemgen.MultiPartItem{Meta: problemgen.Meta{Stimulus: problemgen.Stimulus{Kind: problemgen.StimulusNone}}}
}

func TestLimited_RetriesTransientFailure(t *testing.T) {
	gen := &fakeGenerator{fail: map[int]error{1: &llm.ErrProviderUnavailable{Err: errors.New("503")}}}
	l := NewLimited(gen, 2, 0, fastRetry())

	data, err := l.Generate(context.Background(), "p", "1:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, 2, gen.calls)
}

func TestLimited_GivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{fail: map[int]error{1: boom, 2: boom, 3: boom, 4: boom}}
	l := NewLimited(gen, 1, 0, fastRetry())

	_, err := l.Generate(context.Background(), "p", "1:1")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, gen.calls)
}

type slowGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowGenerator) Generate(context.Context, string, string) ([]byte, error) {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.inFlight.Add(-1)
	return []byte("x"), nil
}

func TestLimited_BoundsConcurrency(t *testing.T) {
	gen := &slowGenerator{}
	l := NewLimited(gen, 2, 0, fastRetry())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Generate(context.Background(), "p", "")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, gen.peak.Load(), int32(2))
}

func TestLimited_Spacing(t *testing.T) {
	gen := &fakeGenerator{}
	l := NewLimited(gen, 5, 20*time.Millisecond, fastRetry())

	start := time.Now()
	for range 3 {
		_, err := l.Generate(context.Background(), "p", "")
		require.NoError(t, err)
	}
	// First request is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestEnhancePrompt_Choice(t *testing.T) {
	it := &problemgen.ChoiceItem{
		Meta: problemgen.Meta{Stimulus: problemgen.Stimulus{
			Kind:    problemgen.StimulusImage,
			Payload: "IMAGE_PROMPT: a histogram of wait times",
		}},
		Question: "Which describes the shape?",
		Choices:  [4]string{"Skewed left", "Skewed right", "Symmetric", "Uniform"},
		Correct:  1,
	}
	got := EnhancePrompt("AP Statistics", it)

	assert.True(t, strings.HasPrefix(got, "You are creating an image for an AP Statistics MCQ exam.\n\n"))
	assert.Contains(t, got, "QUESTION CONTEXT:\nWhich describes the shape?\n")
	assert.Contains(t, got, "ANSWER CHOICES:\nSkewed left\nSkewed right\nSymmetric\nUniform\n")
	assert.Contains(t, got, "CORRECT ANSWER: Skewed right\n")
	assert.Contains(t, got, "IMAGE TO CREATE:\na histogram of wait times\n\nQUALITY REQUIREMENTS:")
}

func TestEnhancePrompt_MultiPartOmitsChoices(t *testing.T) {
	got := EnhancePrompt("AP Statistics", imageItem("A study of arm span."))
	assert.Contains(t, got, "FRQ exam")
	assert.NotContains(t, got, "ANSWER CHOICES")
}

func TestFill_WritesImages(t *testing.T) {
	out := t.TempDir()
	gen := &fakeGenerator{}
	var outcomes []bool
	f := &Filler{Generator: gen, OutDir: out, Mode: ModeDegrade, OnImage: func(ok bool) { outcomes = append(outcomes, ok) }}

	items := []problemgen.Item{plainItem(), imageItem("ctx")}
	st, err := f.Fill(context.Background(), testUnit(), 4, items)
	require.NoError(t, err)
	assert.Equal(t, Stats{Generated: 1}, st)
	assert.Equal(t, []bool{true}, outcomes)
	assert.Equal(t, 1, gen.calls)

	img := items[1].Base().Stimulus.Image
	require.NotNil(t, img)
	assert.Equal(t, filepath.Join(out, "images", "ap_statistics", "unit3", "ap_statistics_frq_u3_s5_q2.jpeg"), img.Path)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), img.Base64)
	assert.Equal(t, "A scatterplot of arm span against height for 30 students.", img.AltText)

	data, err := os.ReadFile(img.Path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestFill_DegradeMarksFailure(t *testing.T) {
	gen := &fakeGenerator{fail: map[int]error{1: ErrNoImage}}
	f := &Filler{Generator: gen, OutDir: t.TempDir(), Mode: ModeDegrade}

	items := []problemgen.Item{imageItem("a"), imageItem("b")}
	st, err := f.Fill(context.Background(), testUnit(), 0, items)
	require.NoError(t, err)
	assert.Equal(t, Stats{Generated: 1, Failed: 1}, st)

	s := items[0].Base().Stimulus
	assert.True(t, s.Failed)
	assert.Equal(t, problemgen.ImageFailedMarker, s.Error)
	assert.Nil(t, s.Image)
	assert.NotNil(t, items[1].Base().Stimulus.Image)
}

func TestFill_StrictAborts(t *testing.T) {
	gen := &fakeGenerator{fail: map[int]error{1: ErrNoImage}}
	f := &Filler{Generator: gen, OutDir: t.TempDir(), Mode: ModeStrict}

	items := []problemgen.Item{imageItem("a"), imageItem("b")}
	_, err := f.Fill(context.Background(), testUnit(), 0, items)
	require.ErrorIs(t, err, ErrImageFailed)
	assert.Equal(t, 1, gen.calls)
}

func TestApply_MissingKeyDegrades(t *testing.T) {
	f := &Filler{OutDir: t.TempDir(), Mode: ModeDegrade}
	unit := testUnit()
	items := []problemgen.Item{imageItem("a"), plainItem(), imageItem("c")}

	reqs := Collect(unit, 1, items)
	require.Len(t, reqs, 2)
	assert.Equal(t, "u3_s2_q1", reqs[0].Key)
	assert.Equal(t, "u3_s2_q3", reqs[1].Key)
	assert.Equal(t, 2, reqs[1].ItemIndex)

	st, err := f.Apply(unit, 1, items, reqs, map[string][]byte{"u3_s2_q3": []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, Stats{Generated: 1, Failed: 1}, st)
	assert.True(t, items[0].Base().Stimulus.Failed)
	assert.NotNil(t, items[2].Base().Stimulus.Image)
}

func TestApply_StrictFails(t *testing.T) {
	f := &Filler{OutDir: t.TempDir(), Mode: ModeStrict}
	items := []problemgen.Item{imageItem("a")}
	reqs := Collect(testUnit(), 0, items)

	_, err := f.Apply(testUnit(), 0, items, reqs, nil)
	require.ErrorIs(t, err, ErrImageFailed)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDegrade, m)

	m, err = ParseMode(" STRICT ")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("lenient")
	require.Error(t, err)
}
