// Package flow instantiates approval flows from matched rules and advances
// them through approver decisions until a terminal state.
package flow

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/rules"
)

// StepStatus is the lifecycle of a single approver step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

// InstanceStatus is the lifecycle of a whole flow instance.
type InstanceStatus string

const (
	InstancePending  InstanceStatus = "PENDING"
	InstanceApproved InstanceStatus = "APPROVED"
	InstanceRejected InstanceStatus = "REJECTED"
)

// Decision is an approver action on a step.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Step is one concrete approver slot bound to an instance.
type Step struct {
	ApproverID    int64      `json:"approver_id"`
	Order         int        `json:"order"`
	IsRequired    bool       `json:"is_required"`
	IsManagerStep bool       `json:"is_manager_step"`
	Status        StepStatus `json:"status"`
	Comment       string     `json:"comment,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// Instance is the mutable copy of a rule's flow template bound to one
// expense. The rule template is snapshotted at instantiation so later rule
// edits never alter an in-flight instance.
type Instance struct {
	ID            uuid.UUID
	ExpenseID     uuid.UUID
	CompanyID     int64
	RuleID        uuid.UUID
	RuleName      string
	Mode          rules.FlowMode
	Steps         []Step
	Override      *rules.OverridePolicy
	OverallStatus InstanceStatus
	// CurrentIndex points at the active step under SEQUENTIAL mode.
	// It is -1 under PARALLEL where every pending step is actionable.
	CurrentIndex int
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrManagerNotFound indicates the submitter has no manager while the
	// rule requires a manager-first step.
	ErrManagerNotFound = errors.New("flow: submitter has no manager")
	// ErrNotAuthorizedApprover indicates the actor holds no actionable step.
	ErrNotAuthorizedApprover = errors.New("flow: not an authorized approver")
	// ErrAlreadyDecided indicates the target step left PENDING earlier;
	// callers should re-fetch current state rather than retry.
	ErrAlreadyDecided = errors.New("flow: step already decided")
	// ErrInstanceTerminal indicates the instance reached a terminal status.
	ErrInstanceTerminal = errors.New("flow: instance already terminal")
	// ErrNotFound indicates the instance record is missing.
	ErrNotFound = errors.New("flow: instance not found")
	// ErrTargetNotEligible indicates an escalation target outside the
	// company or deactivated.
	ErrTargetNotEligible = errors.New("flow: escalation target not eligible")
	// ErrVersionConflict indicates a concurrent writer updated the instance.
	ErrVersionConflict = errors.New("flow: concurrent modification")
)

// Terminal reports whether the instance reached a final status.
func (in *Instance) Terminal() bool {
	return in.OverallStatus != InstancePending
}

// ActionableBy reports whether the approver currently holds a pending,
// actionable step.
func (in *Instance) ActionableBy(approverID int64) bool {
	if in.Terminal() {
		return false
	}
	if in.Mode == rules.ModeSequential {
		if in.CurrentIndex < 0 || in.CurrentIndex >= len(in.Steps) {
			return false
		}
		step := in.Steps[in.CurrentIndex]
		return step.ApproverID == approverID && step.Status == StepPending
	}
	for _, step := range in.Steps {
		if step.ApproverID == approverID && step.Status == StepPending {
			return true
		}
	}
	return false
}

// CurrentApprover returns the active approver under SEQUENTIAL mode,
// zero otherwise.
func (in *Instance) CurrentApprover() int64 {
	if in.Mode != rules.ModeSequential || in.Terminal() {
		return 0
	}
	if in.CurrentIndex < 0 || in.CurrentIndex >= len(in.Steps) {
		return 0
	}
	return in.Steps[in.CurrentIndex].ApproverID
}
