package flow

import "github.com/google/uuid"

// EventType enumerates domain events emitted by the state machine.
type EventType string

const (
	// EventExpenseApproved fires once when an instance reaches APPROVED.
	EventExpenseApproved EventType = "expense.approved"
	// EventExpenseRejected fires once when an instance reaches REJECTED.
	EventExpenseRejected EventType = "expense.rejected"
	// EventStepAdvanced fires when the active step set changes while the
	// instance stays PENDING.
	EventStepAdvanced EventType = "approval.step_advanced"
)

// Event is handed to the notification sink; the engine never notifies
// anyone itself.
type Event struct {
	Type         EventType `json:"type"`
	ExpenseID    uuid.UUID `json:"expense_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	CompanyID    int64     `json:"company_id"`
	ActorID      int64     `json:"actor_id"`
	NextApprover int64     `json:"next_approver,omitempty"`
	Comment      string    `json:"comment,omitempty"`
}
