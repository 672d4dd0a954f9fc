package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// NewRatesRefreshHandler returns the handler that drops the cached rate
// table and fetches a fresh snapshot.
func NewRatesRefreshHandler(source *fx.CachedSource, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RatesRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := source.Invalidate(ctx, payload.Base); err != nil {
			return err
		}
		table, err := source.Snapshot(ctx, payload.Base)
		if err != nil {
			return err
		}
		logger.Info("refreshed fx rates",
			slog.String("base", payload.Base),
			slog.Int("quotes", len(table.Rates)))
		return nil
	}
}

// NewIdempotencyCleanupHandler returns the handler purging stale
// idempotency keys.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Warn("idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
