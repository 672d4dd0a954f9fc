package flow

import "time"

// RecordDecision applies an approver decision to the instance and returns
// the domain events the transition produced. The receiver is mutated in
// place; persistence and its concurrency guard belong to the caller.
func (in *Instance) RecordDecision(approverID int64, decision Decision, comment string, at time.Time) ([]Event, error) {
	if in.Terminal() {
		return nil, ErrInstanceTerminal
	}

	var idx int
	var err error
	if in.Mode.Sequential() {
		idx, err = in.sequentialStepFor(approverID)
	} else {
		idx, err = in.parallelStepFor(approverID)
	}
	if err != nil {
		return nil, err
	}

	step := &in.Steps[idx]
	decidedAt := at
	step.Comment = comment
	step.DecidedAt = &decidedAt
	in.UpdatedAt = at

	if in.Mode.Sequential() {
		return in.advanceSequential(step, decision, at), nil
	}
	step.Status = stepStatusFor(decision)
	return in.recomputeParallel(approverID, at), nil
}

// sequentialStepFor resolves the approver's step under SEQUENTIAL mode.
// Only the step at the pointer is actionable.
func (in *Instance) sequentialStepFor(approverID int64) (int, error) {
	if in.CurrentIndex < 0 || in.CurrentIndex >= len(in.Steps) {
		return 0, ErrNotAuthorizedApprover
	}
	if in.Steps[in.CurrentIndex].ApproverID == approverID {
		if in.Steps[in.CurrentIndex].Status != StepPending {
			return 0, ErrAlreadyDecided
		}
		return in.CurrentIndex, nil
	}
	for _, step := range in.Steps {
		if step.ApproverID == approverID && step.Status != StepPending {
			return 0, ErrAlreadyDecided
		}
	}
	return 0, ErrNotAuthorizedApprover
}

// parallelStepFor resolves the approver's pending step under PARALLEL mode
// where every pending step is actionable.
func (in *Instance) parallelStepFor(approverID int64) (int, error) {
	decided := false
	for i, step := range in.Steps {
		if step.ApproverID != approverID {
			continue
		}
		if step.Status == StepPending {
			return i, nil
		}
		decided = true
	}
	if decided {
		return 0, ErrAlreadyDecided
	}
	return 0, ErrNotAuthorizedApprover
}

func (in *Instance) advanceSequential(step *Step, decision Decision, at time.Time) []Event {
	actor := step.ApproverID
	if decision == DecisionReject {
		step.Status = StepRejected
		if step.IsRequired {
			// Required rejection short-circuits the remaining chain.
			return in.complete(InstanceRejected, actor, step.Comment, at)
		}
		// Non-required rejections never block; skip past the step.
		return in.movePointer(actor, at)
	}

	step.Status = StepApproved
	if in.overrideMet() {
		return in.complete(InstanceApproved, actor, step.Comment, at)
	}
	return in.movePointer(actor, at)
}

func (in *Instance) movePointer(actor int64, at time.Time) []Event {
	in.CurrentIndex++
	if in.CurrentIndex >= len(in.Steps) {
		// Reaching the end means every required step approved: a required
		// rejection would have terminated the instance earlier.
		return in.complete(InstanceApproved, actor, "", at)
	}
	return []Event{{
		Type:         EventStepAdvanced,
		ExpenseID:    in.ExpenseID,
		InstanceID:   in.ID,
		CompanyID:    in.CompanyID,
		ActorID:      actor,
		NextApprover: in.Steps[in.CurrentIndex].ApproverID,
	}}
}

func (in *Instance) recomputeParallel(actor int64, at time.Time) []Event {
	if in.overrideMet() {
		return in.complete(InstanceApproved, actor, "", at)
	}
	if in.hasRequiredSteps() {
		switch {
		case in.allRequiredApproved():
			return in.complete(InstanceApproved, actor, "", at)
		case in.anyRequiredRejected() && !in.overrideReachable():
			return in.complete(InstanceRejected, actor, "", at)
		}
	} else if in.allDecided() {
		// Optional-only fan-out: rejections never block, matching the
		// sequential skip rule, so the last vote completes the instance.
		return in.complete(InstanceApproved, actor, "", at)
	}
	return []Event{{
		Type:       EventStepAdvanced,
		ExpenseID:  in.ExpenseID,
		InstanceID: in.ID,
		CompanyID:  in.CompanyID,
		ActorID:    actor,
	}}
}

func (in *Instance) complete(status InstanceStatus, actor int64, comment string, at time.Time) []Event {
	in.OverallStatus = status
	in.UpdatedAt = at
	eventType := EventExpenseApproved
	if status == InstanceRejected {
		eventType = EventExpenseRejected
	}
	return []Event{{
		Type:       eventType,
		ExpenseID:  in.ExpenseID,
		InstanceID: in.ID,
		CompanyID:  in.CompanyID,
		ActorID:    actor,
		Comment:    comment,
	}}
}

func (in *Instance) hasRequiredSteps() bool {
	for _, step := range in.Steps {
		if step.IsRequired {
			return true
		}
	}
	return false
}

func (in *Instance) allDecided() bool {
	for _, step := range in.Steps {
		if step.Status == StepPending {
			return false
		}
	}
	return true
}

// allRequiredApproved reports whether every required step approved. It is
// vacuously true without required steps; callers guard on hasRequiredSteps.
func (in *Instance) allRequiredApproved() bool {
	for _, step := range in.Steps {
		if step.IsRequired && step.Status != StepApproved {
			return false
		}
	}
	return true
}

func (in *Instance) anyRequiredRejected() bool {
	for _, step := range in.Steps {
		if step.IsRequired && step.Status == StepRejected {
			return true
		}
	}
	return false
}

// overrideMet checks the short-circuit conditions. The percentage share is
// compared with integer cross multiplication so 2 of 3 against a 67%
// threshold resolves exactly.
func (in *Instance) overrideMet() bool {
	if in.Override == nil || len(in.Steps) == 0 {
		return false
	}
	approved := 0
	for _, step := range in.Steps {
		if step.Status == StepApproved {
			approved++
		}
	}
	if in.Override.PercentageThreshold > 0 && approved*100 >= in.Override.PercentageThreshold*len(in.Steps) {
		return true
	}
	for _, id := range in.Override.SpecificApproverIDs {
		for _, step := range in.Steps {
			if step.ApproverID == id && step.Status == StepApproved {
				return true
			}
		}
	}
	return false
}

// overrideReachable reports whether an override condition can still be met
// if every remaining pending step approves.
func (in *Instance) overrideReachable() bool {
	if in.Override == nil || len(in.Steps) == 0 {
		return false
	}
	possible := 0
	for _, step := range in.Steps {
		if step.Status == StepApproved || step.Status == StepPending {
			possible++
		}
	}
	if in.Override.PercentageThreshold > 0 && possible*100 >= in.Override.PercentageThreshold*len(in.Steps) {
		return true
	}
	for _, id := range in.Override.SpecificApproverIDs {
		for _, step := range in.Steps {
			if step.ApproverID == id && step.Status != StepRejected {
				return true
			}
		}
	}
	return false
}

// ForceDecision applies an administrative override, terminating the
// instance regardless of pending steps.
func (in *Instance) ForceDecision(actorID int64, decision Decision, comment string, at time.Time) ([]Event, error) {
	if in.Terminal() {
		return nil, ErrInstanceTerminal
	}
	status := InstanceApproved
	if decision == DecisionReject {
		status = InstanceRejected
	}
	in.UpdatedAt = at
	return in.complete(status, actorID, comment, at), nil
}

// Reassign hands the pending steps of one approver to another. Used for
// escalation when an approver is unavailable.
func (in *Instance) Reassign(fromApprover, toApprover int64, at time.Time) error {
	if in.Terminal() {
		return ErrInstanceTerminal
	}
	moved := false
	for i := range in.Steps {
		if in.Steps[i].ApproverID == fromApprover && in.Steps[i].Status == StepPending {
			in.Steps[i].ApproverID = toApprover
			moved = true
		}
	}
	if !moved {
		return ErrNotAuthorizedApprover
	}
	in.UpdatedAt = at
	return nil
}

func stepStatusFor(decision Decision) StepStatus {
	if decision == DecisionReject {
		return StepRejected
	}
	return StepApproved
}
