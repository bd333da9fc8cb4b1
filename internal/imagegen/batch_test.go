package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/apgen/internal/llm"
)

func TestWriteJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsonl", "ap_statistics_u3_frq.jsonl")
	reqs := []ItemRequest{
		{Key: "u3_s1_q1", Prompt: "draw <a> chart", ItemIndex: 0},
		{Key: "u3_s1_q4", Prompt: "second", ItemIndex: 3},
	}
	require.NoError(t, WriteJSONL(path, reqs))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	assert.JSONEq(t, `{"key":"u3_s1_q1","request":{"contents":[{"parts":[{"text":"draw <a> chart"}]}],"generation_config":{"responseModalities":["IMAGE"]}}}`, lines[0])
	assert.Contains(t, lines[0], "<a>")
}

func TestParseResults(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("png-data"))
	lines := []string{
		`{"key":"u1_s1_q1","response":{"candidates":[{"content":{"parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` + img + `"}}]}}]}}`,
		``,
		`not json`,
		`{"key":"u1_s1_q2","error":{"code":400,"message":"blocked"}}`,
		`{"key":"u1_s1_q3","response":{"candidates":[]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"inlineData":{"data":"` + img + `"}}]}}]}}`,
	}

	got, err := ParseResults([]byte(strings.Join(lines, "\n")), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("png-data"), got["u1_s1_q1"])
}

type fakeBatch struct {
	states []JobState
	errs   []error
	calls  int
}

func (f *fakeBatch) Submit(context.Context, string, []ItemRequest) (Submission, error) {
	return Submission{JobName: "batches/1"}, nil
}

func (f *fakeBatch) State(context.Context, string) (JobState, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.states) {
		return f.states[len(f.states)-1], nil
	}
	return f.states[i], nil
}

func (f *fakeBatch) Results(context.Context, string) (map[string][]byte, error) {
	return nil, nil
}

func TestPoller_WaitsForTerminalState(t *testing.T) {
	client := &fakeBatch{
		states: []JobState{JobPending, "", JobRunning, JobSucceeded},
		errs:   []error{nil, &llm.ErrRateLimit{Err: errors.New("429")}},
	}
	p := &Poller{Client: client, Interval: time.Millisecond, Retry: fastRetry()}

	state, err := p.Wait(context.Background(), "batches/1")
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, state)
	assert.Equal(t, 4, client.calls)
}

func TestPoller_ReturnsFailedStates(t *testing.T) {
	for _, s := range []JobState{JobFailed, JobCancelled, JobExpired} {
		p := &Poller{Client: &fakeBatch{states: []JobState{s}}, Interval: time.Millisecond, Retry: fastRetry()}
		state, err := p.Wait(context.Background(), "batches/1")
		require.NoError(t, err)
		assert.Equal(t, s, state)
	}
}

func TestPoller_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Poller{Client: &fakeBatch{states: []JobState{JobPending}}, Interval: time.Hour, Retry: fastRetry()}

	_, err := p.Wait(ctx, "batches/1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobSucceeded.Terminal())

	// State strings round-trip through JSON unchanged.
	b, _ := json.Marshal(JobExpired)
	assert.Equal(t, `"JOB_STATE_EXPIRED"`, string(b))
}
