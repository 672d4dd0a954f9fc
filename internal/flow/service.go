package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, in Instance) error
	Get(ctx context.Context, id uuid.UUID) (Instance, error)
	GetByExpense(ctx context.Context, expenseID uuid.UUID) (Instance, error)
	Save(ctx context.Context, in Instance) error
	ListPendingForApprover(ctx context.Context, approverID int64) ([]Instance, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]Instance, error)
}

// RulesPort selects the applicable rule for an expense.
type RulesPort interface {
	MatchExpense(ctx context.Context, companyID int64, normalizedAmount float64, category string) (rules.ApprovalRule, error)
}

// DirectoryPort resolves organizational relationships.
type DirectoryPort interface {
	// ManagerOf returns the manager id of a user, zero when none exists.
	ManagerOf(ctx context.Context, userID int64) (int64, error)
	// AdminOf returns the administrator of a company scope.
	AdminOf(ctx context.Context, companyID int64) (int64, error)
	// ActiveMember reports whether the user is an active member of the
	// company.
	ActiveMember(ctx context.Context, companyID, userID int64) (bool, error)
}

// ExpensePort applies terminal flow outcomes to the owning expense.
type ExpensePort interface {
	MarkApproved(ctx context.Context, expenseID uuid.UUID) error
	MarkRejected(ctx context.Context, expenseID uuid.UUID) error
}

// NotifierPort hands domain events to the notification sink.
type NotifierPort interface {
	Publish(ctx context.Context, event Event) error
}

// HistoryPort records the audit trail of approval actions.
type HistoryPort interface {
	Record(ctx context.Context, log shared.DecisionLog) error
}

// Service advances approval flows. All inputs arrive as explicit arguments;
// the service holds no request-scoped state.
type Service struct {
	repo      RepositoryPort
	rules     RulesPort
	directory DirectoryPort
	expenses  ExpensePort
	notifier  NotifierPort
	history   HistoryPort
	logger    *slog.Logger
}

// NewService constructs the flow service.
func NewService(repo RepositoryPort, rulesPort RulesPort, directory DirectoryPort, expenses ExpensePort, notifier NotifierPort, history HistoryPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		rules:     rulesPort,
		directory: directory,
		expenses:  expenses,
		notifier:  notifier,
		history:   history,
		logger:    logger,
	}
}

// StartInput carries what the instantiator needs from a submitted expense.
type StartInput struct {
	ExpenseID        uuid.UUID
	CompanyID        int64
	SubmitterID      int64
	Category         string
	NormalizedAmount float64
}

// Start matches a rule and creates the flow instance for a freshly
// submitted expense. Nothing is persisted when matching or instantiation
// fails.
func (s *Service) Start(ctx context.Context, input StartInput) (Instance, error) {
	rule, err := s.rules.MatchExpense(ctx, input.CompanyID, input.NormalizedAmount, input.Category)
	if err != nil {
		return Instance{}, err
	}

	var managerID int64
	if rule.ManagerFirst {
		managerID, err = s.directory.ManagerOf(ctx, input.SubmitterID)
		if err != nil {
			return Instance{}, err
		}
	}

	instance, err := Instantiate(input.ExpenseID, input.CompanyID, rule, managerID)
	if err != nil {
		return Instance{}, err
	}
	if err := s.repo.Create(ctx, instance); err != nil {
		return Instance{}, err
	}
	instance.Version = 1

	s.recordHistory(ctx, input.ExpenseID, input.SubmitterID, shared.DecisionSubmit, "")
	s.publish(ctx, Event{
		Type:         EventStepAdvanced,
		ExpenseID:    instance.ExpenseID,
		InstanceID:   instance.ID,
		CompanyID:    instance.CompanyID,
		ActorID:      input.SubmitterID,
		NextApprover: firstApprover(instance),
	})
	return instance, nil
}

// DecideInput carries one approver decision.
type DecideInput struct {
	InstanceID uuid.UUID
	ApproverID int64
	Decision   Decision
	Comment    string
}

// Decide records an approve/reject action and persists the transition
// under the instance's optimistic version. Callers receiving
// ErrVersionConflict should re-fetch and retry; ErrAlreadyDecided means the
// step was handled earlier and current state should simply be re-read.
func (s *Service) Decide(ctx context.Context, input DecideInput) (Instance, error) {
	instance, err := s.repo.Get(ctx, input.InstanceID)
	if err != nil {
		return Instance{}, err
	}

	events, err := instance.RecordDecision(input.ApproverID, input.Decision, input.Comment, time.Now())
	if err != nil {
		return Instance{}, err
	}
	if err := s.repo.Save(ctx, instance); err != nil {
		return Instance{}, err
	}
	instance.Version++

	action := shared.DecisionApprove
	if input.Decision == DecisionReject {
		action = shared.DecisionReject
	}
	s.recordHistory(ctx, instance.ExpenseID, input.ApproverID, action, input.Comment)
	s.applyEvents(ctx, events)
	return instance, nil
}

// OverrideInput identifies the instance an administrator force-decides.
// CompanyID is the actor's scope; instances of other companies read as
// missing.
type OverrideInput struct {
	InstanceID uuid.UUID
	ActorID    int64
	CompanyID  int64
	Decision   Decision
	Comment    string
}

// Override lets an administrator terminate the flow regardless of pending
// steps. It is the administrative escape hatch for stuck approvals.
func (s *Service) Override(ctx context.Context, input OverrideInput) (Instance, error) {
	instance, err := s.repo.Get(ctx, input.InstanceID)
	if err != nil {
		return Instance{}, err
	}
	if instance.CompanyID != input.CompanyID {
		return Instance{}, ErrNotFound
	}
	events, err := instance.ForceDecision(input.ActorID, input.Decision, input.Comment, time.Now())
	if err != nil {
		return Instance{}, err
	}
	if err := s.repo.Save(ctx, instance); err != nil {
		return Instance{}, err
	}
	instance.Version++

	s.recordHistory(ctx, instance.ExpenseID, input.ActorID, shared.DecisionOverride, input.Comment)
	s.applyEvents(ctx, events)
	return instance, nil
}

// EscalateInput identifies the pending steps an approver hands over.
type EscalateInput struct {
	InstanceID uuid.UUID
	ActorID    int64
	CompanyID  int64
	TargetID   int64
	Reason     string
}

// Escalate reassigns the caller's pending steps to another approver. The
// target must be an active user of the same company.
func (s *Service) Escalate(ctx context.Context, input EscalateInput) (Instance, error) {
	instance, err := s.repo.Get(ctx, input.InstanceID)
	if err != nil {
		return Instance{}, err
	}
	if instance.CompanyID != input.CompanyID {
		return Instance{}, ErrNotFound
	}
	eligible, err := s.directory.ActiveMember(ctx, instance.CompanyID, input.TargetID)
	if err != nil {
		return Instance{}, err
	}
	if !eligible {
		return Instance{}, ErrTargetNotEligible
	}
	if err := instance.Reassign(input.ActorID, input.TargetID, time.Now()); err != nil {
		return Instance{}, err
	}
	if err := s.repo.Save(ctx, instance); err != nil {
		return Instance{}, err
	}
	instance.Version++

	s.recordHistory(ctx, instance.ExpenseID, input.ActorID, shared.DecisionEscalate, input.Reason)
	s.publish(ctx, Event{
		Type:         EventStepAdvanced,
		ExpenseID:    instance.ExpenseID,
		InstanceID:   instance.ID,
		CompanyID:    instance.CompanyID,
		ActorID:      input.ActorID,
		NextApprover: input.TargetID,
	})
	return instance, nil
}

// PendingFor returns the instances on which the approver can currently act.
func (s *Service) PendingFor(ctx context.Context, approverID int64) ([]Instance, error) {
	candidates, err := s.repo.ListPendingForApprover(ctx, approverID)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, in := range candidates {
		if in.ActionableBy(approverID) {
			out = append(out, in)
		}
	}
	return out, nil
}

// Get returns one instance.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Instance, error) {
	return s.repo.Get(ctx, id)
}

// GetByExpense returns the newest instance for an expense.
func (s *Service) GetByExpense(ctx context.Context, expenseID uuid.UUID) (Instance, error) {
	return s.repo.GetByExpense(ctx, expenseID)
}

// SweepStale escalates instances pending since before the cutoff to their
// company administrator. Returns the number of escalated instances.
func (s *Service) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, instance := range stale {
		adminID, err := s.directory.AdminOf(ctx, instance.CompanyID)
		if err != nil || adminID == 0 {
			s.logger.Warn("stale sweep: admin lookup failed",
				slog.String("instance", instance.ID.String()), slog.Any("error", err))
			continue
		}
		current := instance
		reassigned := false
		for _, approverID := range stalledApprovers(current) {
			if approverID == adminID {
				continue
			}
			if err := current.Reassign(approverID, adminID, time.Now()); err == nil {
				reassigned = true
			}
		}
		if !reassigned {
			continue
		}
		if err := s.repo.Save(ctx, current); err != nil {
			s.logger.Warn("stale sweep: save failed",
				slog.String("instance", current.ID.String()), slog.Any("error", err))
			continue
		}
		s.recordHistory(ctx, current.ExpenseID, adminID, shared.DecisionEscalate, "auto-escalated after timeout")
		escalated++
	}
	return escalated, nil
}

func (s *Service) applyEvents(ctx context.Context, events []Event) {
	for _, event := range events {
		switch event.Type {
		case EventExpenseApproved:
			if err := s.expenses.MarkApproved(ctx, event.ExpenseID); err != nil {
				s.logger.Error("mark expense approved", slog.Any("error", err))
			}
		case EventExpenseRejected:
			if err := s.expenses.MarkRejected(ctx, event.ExpenseID); err != nil {
				s.logger.Error("mark expense rejected", slog.Any("error", err))
			}
		}
		s.publish(ctx, event)
	}
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", slog.String("type", string(event.Type)), slog.Any("error", err))
	}
}

func (s *Service) recordHistory(ctx context.Context, expenseID uuid.UUID, actorID int64, action shared.DecisionAction, note string) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, shared.DecisionLog{
		ExpenseID: expenseID,
		ActorID:   actorID,
		Action:    action,
		Note:      note,
	}); err != nil {
		s.logger.Warn("record history", slog.Any("error", err))
	}
}

// stalledApprovers lists the approvers whose action the instance is
// currently waiting on.
func stalledApprovers(in Instance) []int64 {
	if in.Mode.Sequential() {
		if id := in.CurrentApprover(); id != 0 {
			return []int64{id}
		}
		return nil
	}
	var out []int64
	for _, step := range in.Steps {
		if step.Status == StepPending {
			out = append(out, step.ApproverID)
		}
	}
	return out
}

func firstApprover(in Instance) int64 {
	if in.Mode.Sequential() {
		return in.CurrentApprover()
	}
	for _, step := range in.Steps {
		if step.Status == StepPending {
			return step.ApproverID
		}
	}
	return 0
}
