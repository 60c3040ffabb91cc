package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity is the task type for the supplier ledger integrity scan.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup is the task type pruning expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// LedgerIntegrityPayload records who requested the scan. The scan itself
// always covers every supplier.
type LedgerIntegrityPayload struct {
	RequestedBy string `json:"requested_by"`
}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencyCleanupPayload bounds the retention window. Zero means the
// default retention.
type IdempotencyCleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

// NewIdempotencyCleanupTask constructs the key-retention task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
