package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultKeyRetentionDays is how long processed idempotency keys are kept
// when the task payload does not say otherwise. Long enough that any
// client retry window has closed.
const DefaultKeyRetentionDays = 30

// KeyCleaner prunes idempotency keys older than the retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler returns the handler for
// TaskIdempotencyCleanup tasks. The idempotency_keys table only grows
// otherwise; a nightly prune keeps it bounded.
func NewIdempotencyCleanupHandler(cleaner KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		days := payload.OlderThanDays
		if days <= 0 {
			days = DefaultKeyRetentionDays
		}
		if err := cleaner.Cleanup(ctx, time.Duration(days)*24*time.Hour); err != nil {
			logger.Error("idempotency key cleanup failed", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency keys pruned", slog.Int("older_than_days", days))
		return nil
	}
}
