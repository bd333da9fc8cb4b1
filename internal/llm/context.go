package llm

import "context"

type contextKey string

const (
	purposeKey contextKey = "llm_purpose"
	runKey     contextKey = "llm_run"
)

// WithPurpose attaches a purpose label ("mcq-initial", "frq-repair", ...)
// to the context for the ledger.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom extracts the purpose label from the context.
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok {
		return v
	}
	return "unknown"
}

// WithRun attaches the generation run ID so ledger rows of one invocation
// can be grouped.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey, runID)
}

// RunFrom returns the run ID, or "" when none was attached.
func RunFrom(ctx context.Context) string {
	v, _ := ctx.Value(runKey).(string)
	return v
}
