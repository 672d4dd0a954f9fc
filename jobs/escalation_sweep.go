package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/expenseflow/expenseflow/internal/flow"
)

// NewEscalationSweepHandler returns the handler that escalates approvals
// pending longer than the configured age to the company administrator.
func NewEscalationSweepHandler(flows *flow.Service, olderThan time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EscalationSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		cutoff := time.Now().Add(-olderThan)
		count, err := flows.SweepStale(ctx, cutoff)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Info("escalated stale approvals",
				slog.Int("count", count),
				slog.Time("cutoff", cutoff))
		}
		return nil
	}
}
