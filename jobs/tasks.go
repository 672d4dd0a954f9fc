// Package jobs holds the asynq background tasks: decision notifications,
// the stale-approval escalation sweep, FX rate refresh and idempotency
// cleanup.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDecisionNotify delivers a notification for an approval event.
	TaskDecisionNotify = "approval:notify"
	// TaskEscalationSweep reassigns approvals pending for too long.
	TaskEscalationSweep = "approval:escalate_stale"
	// TaskRatesRefresh re-fetches the cached FX rate table.
	TaskRatesRefresh = "fx:refresh_rates"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// DecisionNotifyPayload describes one approval event to deliver.
type DecisionNotifyPayload struct {
	EventType    string    `json:"event_type"`
	ExpenseID    uuid.UUID `json:"expense_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	CompanyID    int64     `json:"company_id"`
	ActorID      int64     `json:"actor_id"`
	NextApprover int64     `json:"next_approver,omitempty"`
	Comment      string    `json:"comment,omitempty"`
}

// NewDecisionNotifyTask constructs an asynq task for one approval event.
func NewDecisionNotifyTask(payload DecisionNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDecisionNotify, data, asynq.Queue(QueueDefault)), nil
}

// EscalationSweepPayload carries scheduling metadata.
type EscalationSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewEscalationSweepTask constructs the periodic sweep task.
func NewEscalationSweepTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(EscalationSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationSweep, data, asynq.Queue(QueueDefault)), nil
}

// RatesRefreshPayload names the base currency to refresh.
type RatesRefreshPayload struct {
	Base string `json:"base"`
}

// NewRatesRefreshTask constructs the rate refresh task.
func NewRatesRefreshTask(base string) (*asynq.Task, error) {
	data, err := json.Marshal(RatesRefreshPayload{Base: base})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRatesRefresh, data, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
