package imagegen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/llm"
)

// DefaultPollInterval is the wait between batch status checks.
const DefaultPollInterval = 10 * time.Second

// Poller waits for batch jobs to reach a terminal state.
type Poller struct {
	Client   BatchClient
	Interval time.Duration
	Retry    llm.RetryConfig
	Logger   *zap.Logger
}

// Wait polls jobName until its state is terminal or ctx is done. Status
// errors are retried with the shared policy; an error that survives the
// retries ends the wait.
func (p *Poller) Wait(ctx context.Context, jobName string) (JobState, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var state JobState
		err := llm.Retry(ctx, p.Retry, func(ctx context.Context) error {
			var err error
			state, err = p.Client.State(ctx, jobName)
			return err
		})
		if err != nil {
			return "", err
		}
		if state.Terminal() {
			return state, nil
		}
		log.Debug("batch job not finished", zap.String("job", jobName), zap.String("state", string(state)))

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}
