package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/apgen/internal/store"
)

func TestLoggingProvider_RecordsEvents(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	repo := s.EventRepo()

	mock := NewMockProvider(
		MockResponse{Text: "row\trow", Usage: Usage{InputTokens: 120, OutputTokens: 40}},
		MockResponse{Err: &ErrRateLimit{Err: errors.New("429")}},
	)
	p := WithLogging(mock, repo, nil)

	req := Request{
		System: "You write AP exam items.",
		Prompt: "Generate 25 rows.",
	}

	run := WithRun(context.Background(), "run-1")
	ctx := WithPurpose(run, "mcq-initial")
	_, err = p.Generate(ctx, req)
	require.NoError(t, err)

	ctx = WithPurpose(run, "mcq-repair")
	_, err = p.Generate(ctx, req)
	require.Error(t, err)

	events, err := repo.QueryLLMEvents(context.Background(), store.QueryOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	failed, ok := events[0], events[1]
	assert.Equal(t, "mcq-repair", failed.Purpose)
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.ErrorMessage)

	assert.Equal(t, "mcq-initial", ok.Purpose)
	assert.True(t, ok.Success)
	assert.Equal(t, 120, ok.InputTokens)
	assert.Equal(t, 40, ok.OutputTokens)
	assert.Equal(t, "[system]\nYou write AP exam items.\n\n[user]\nGenerate 25 rows.", ok.RequestBody)
	assert.Equal(t, "row\trow", ok.ResponseBody)
	assert.Equal(t, "run-1", ok.RunID)
	assert.Equal(t, "end", ok.StopReason)

	stats, err := repo.LLMUsageByPurpose(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "mcq-initial", stats[0].Purpose)
	assert.Equal(t, 1, stats[0].Calls)

	runs, err := repo.LLMRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Calls)
	assert.Equal(t, 1, runs[0].Failures)
}

func TestSerializeRequest_PromptOnly(t *testing.T) {
	assert.Equal(t, "Generate 5 rows.", serializeRequest(Request{Prompt: "Generate 5 rows."}))
}
