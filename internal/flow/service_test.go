package flow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
)

type memoryRepo struct {
	instances map[uuid.UUID]Instance
	// beforeSave runs once ahead of the next Save, simulating a
	// concurrent writer landing between Get and Save.
	beforeSave func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{instances: make(map[uuid.UUID]Instance)}
}

func (m *memoryRepo) Create(_ context.Context, in Instance) error {
	in.Version = 1
	m.instances[in.ID] = in
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Instance, error) {
	in, ok := m.instances[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return in, nil
}

func (m *memoryRepo) GetByExpense(_ context.Context, expenseID uuid.UUID) (Instance, error) {
	var found Instance
	ok := false
	for _, in := range m.instances {
		if in.ExpenseID == expenseID && (!ok || in.CreatedAt.After(found.CreatedAt)) {
			found = in
			ok = true
		}
	}
	if !ok {
		return Instance{}, ErrNotFound
	}
	return found, nil
}

func (m *memoryRepo) Save(_ context.Context, in Instance) error {
	if m.beforeSave != nil {
		hook := m.beforeSave
		m.beforeSave = nil
		hook()
	}
	stored, ok := m.instances[in.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != in.Version {
		return ErrVersionConflict
	}
	in.Version++
	m.instances[in.ID] = in
	return nil
}

func (m *memoryRepo) ListPendingForApprover(_ context.Context, approverID int64) ([]Instance, error) {
	var out []Instance
	for _, in := range m.instances {
		if in.OverallStatus != InstancePending {
			continue
		}
		for _, step := range in.Steps {
			if step.ApproverID == approverID && step.Status == StepPending {
				out = append(out, in)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) ListStalePending(_ context.Context, cutoff time.Time) ([]Instance, error) {
	var out []Instance
	for _, in := range m.instances {
		if in.OverallStatus == InstancePending && in.UpdatedAt.Before(cutoff) {
			out = append(out, in)
		}
	}
	return out, nil
}

type stubRules struct {
	rule rules.ApprovalRule
	err  error
}

func (s stubRules) MatchExpense(context.Context, int64, float64, string) (rules.ApprovalRule, error) {
	return s.rule, s.err
}

type stubDirectory struct {
	manager int64
	admin   int64
	// members restricts ActiveMember when set; nil accepts everyone.
	members map[int64]bool
}

func (s stubDirectory) ManagerOf(context.Context, int64) (int64, error) { return s.manager, nil }
func (s stubDirectory) AdminOf(context.Context, int64) (int64, error)  { return s.admin, nil }

func (s stubDirectory) ActiveMember(_ context.Context, _, userID int64) (bool, error) {
	if s.members == nil {
		return true, nil
	}
	return s.members[userID], nil
}

type statusSink struct {
	approved []uuid.UUID
	rejected []uuid.UUID
}

func (s *statusSink) MarkApproved(_ context.Context, id uuid.UUID) error {
	s.approved = append(s.approved, id)
	return nil
}

func (s *statusSink) MarkRejected(_ context.Context, id uuid.UUID) error {
	s.rejected = append(s.rejected, id)
	return nil
}

type eventSink struct {
	events []Event
}

func (s *eventSink) Publish(_ context.Context, e Event) error {
	s.events = append(s.events, e)
	return nil
}

type historySink struct {
	logs []shared.DecisionLog
}

func (s *historySink) Record(_ context.Context, log shared.DecisionLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func testRule(mode rules.FlowMode, managerFirst bool) rules.ApprovalRule {
	return rules.ApprovalRule{
		ID:           uuid.New(),
		CompanyID:    1,
		Name:         "Default Rule",
		Mode:         mode,
		ManagerFirst: managerFirst,
		IsActive:     true,
		Slots: []rules.ApproverSlot{
			{ApproverID: 10, Order: 0, IsRequired: true},
			{ApproverID: 20, Order: 1, IsRequired: true},
		},
		CreatedAt: time.Now(),
	}
}

func newTestService(repo RepositoryPort, r RulesPort, dir DirectoryPort) (*Service, *statusSink, *eventSink, *historySink) {
	expenses := &statusSink{}
	notifier := &eventSink{}
	history := &historySink{}
	svc := NewService(repo, r, dir, expenses, notifier, history, slog.New(slog.DiscardHandler))
	return svc, expenses, notifier, history
}

func TestServiceStartManagerFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, notifier, history := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, true)}, stubDirectory{manager: 55})

	expenseID := uuid.New()
	in, err := svc.Start(context.Background(), StartInput{
		ExpenseID:        expenseID,
		CompanyID:        1,
		SubmitterID:      7,
		Category:         "Travel",
		NormalizedAmount: 1200,
	})
	require.NoError(t, err)
	require.Len(t, in.Steps, 3)
	assert.Equal(t, int64(55), in.Steps[0].ApproverID)

	stored, err := repo.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	require.NotEmpty(t, history.logs)
	assert.Equal(t, shared.DecisionSubmit, history.logs[0].Action)
	require.NotEmpty(t, notifier.events)
	assert.Equal(t, EventStepAdvanced, notifier.events[0].Type)
	assert.Equal(t, int64(55), notifier.events[0].NextApprover)
}

func TestServiceStartNoMatchingRule(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{err: rules.ErrNoMatchingRule}, stubDirectory{})

	_, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	assert.ErrorIs(t, err, rules.ErrNoMatchingRule)
	assert.Empty(t, repo.instances)
}

func TestServiceStartManagerMissing(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, true)}, stubDirectory{manager: 0})

	_, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	assert.ErrorIs(t, err, ErrManagerNotFound)
	assert.Empty(t, repo.instances)
}

func TestServiceDecideToApproval(t *testing.T) {
	repo := newMemoryRepo()
	svc, expenses, notifier, history := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	expenseID := uuid.New()
	in, err := svc.Start(context.Background(), StartInput{ExpenseID: expenseID, CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), DecideInput{InstanceID: in.ID, ApproverID: 10, Decision: DecisionApprove})
	require.NoError(t, err)
	final, err := svc.Decide(context.Background(), DecideInput{InstanceID: in.ID, ApproverID: 20, Decision: DecisionApprove, Comment: "ok"})
	require.NoError(t, err)

	assert.Equal(t, InstanceApproved, final.OverallStatus)
	assert.Equal(t, []uuid.UUID{expenseID}, expenses.approved)
	assert.Empty(t, expenses.rejected)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, EventExpenseApproved, last.Type)

	actions := make([]shared.DecisionAction, 0, len(history.logs))
	for _, log := range history.logs {
		actions = append(actions, log.Action)
	}
	assert.Equal(t, []shared.DecisionAction{shared.DecisionSubmit, shared.DecisionApprove, shared.DecisionApprove}, actions)
}

func TestServiceDecideReject(t *testing.T) {
	repo := newMemoryRepo()
	svc, expenses, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	expenseID := uuid.New()
	in, err := svc.Start(context.Background(), StartInput{ExpenseID: expenseID, CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	final, err := svc.Decide(context.Background(), DecideInput{InstanceID: in.ID, ApproverID: 10, Decision: DecisionReject, Comment: "no"})
	require.NoError(t, err)

	assert.Equal(t, InstanceRejected, final.OverallStatus)
	assert.Equal(t, []uuid.UUID{expenseID}, expenses.rejected)
}

func TestServiceDecideVersionConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeParallel, false)}, stubDirectory{})

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	// a concurrent writer lands between the service's Get and Save
	repo.beforeSave = func() {
		stored := repo.instances[in.ID]
		stored.Version++
		repo.instances[in.ID] = stored
	}

	_, err = svc.Decide(context.Background(), DecideInput{InstanceID: in.ID, ApproverID: 10, Decision: DecisionApprove})
	assert.ErrorIs(t, err, ErrVersionConflict)

	// the conflicting write is preserved, not overwritten
	stored, err := repo.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, InstancePending, stored.OverallStatus)
}

func TestServiceOverride(t *testing.T) {
	repo := newMemoryRepo()
	svc, expenses, _, history := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	expenseID := uuid.New()
	in, err := svc.Start(context.Background(), StartInput{ExpenseID: expenseID, CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	final, err := svc.Override(context.Background(), OverrideInput{
		InstanceID: in.ID,
		ActorID:    99,
		CompanyID:  1,
		Decision:   DecisionApprove,
		Comment:    "unblocking",
	})
	require.NoError(t, err)

	assert.Equal(t, InstanceApproved, final.OverallStatus)
	assert.Equal(t, []uuid.UUID{expenseID}, expenses.approved)
	last := history.logs[len(history.logs)-1]
	assert.Equal(t, shared.DecisionOverride, last.Action)
	assert.Equal(t, int64(99), last.ActorID)
}

func TestServiceEscalate(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	updated, err := svc.Escalate(context.Background(), EscalateInput{
		InstanceID: in.ID,
		ActorID:    10,
		CompanyID:  1,
		TargetID:   42,
		Reason:     "on leave",
	})
	require.NoError(t, err)
	assert.True(t, updated.ActionableBy(42))

	pending, err := svc.PendingFor(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestServiceOverrideScopedToCompany(t *testing.T) {
	repo := newMemoryRepo()
	svc, expenses, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	// an admin of another company holding the UUID reads it as missing
	_, err = svc.Override(context.Background(), OverrideInput{
		InstanceID: in.ID,
		ActorID:    99,
		CompanyID:  2,
		Decision:   DecisionApprove,
		Comment:    "unblocking",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := repo.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, InstancePending, stored.OverallStatus)
	assert.Empty(t, expenses.approved)
}

func TestServiceEscalateScopedToCompany(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	_, err = svc.Escalate(context.Background(), EscalateInput{
		InstanceID: in.ID,
		ActorID:    10,
		CompanyID:  2,
		TargetID:   42,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceEscalateTargetMustBeActiveMember(t *testing.T) {
	repo := newMemoryRepo()
	dir := stubDirectory{members: map[int64]bool{42: true}}
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, dir)

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	// deactivated or foreign target
	_, err = svc.Escalate(context.Background(), EscalateInput{
		InstanceID: in.ID,
		ActorID:    10,
		CompanyID:  1,
		TargetID:   77,
	})
	assert.ErrorIs(t, err, ErrTargetNotEligible)

	stored, err := repo.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.True(t, stored.ActionableBy(10))

	updated, err := svc.Escalate(context.Background(), EscalateInput{
		InstanceID: in.ID,
		ActorID:    10,
		CompanyID:  1,
		TargetID:   42,
	})
	require.NoError(t, err)
	assert.True(t, updated.ActionableBy(42))
}

func TestServicePendingForFiltersSequentialOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{})

	_, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	// approver 20 holds a later step, nothing actionable yet
	pending, err := svc.PendingFor(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = svc.PendingFor(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestServiceSweepStale(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, history := newTestService(repo, stubRules{rule: testRule(rules.ModeSequential, false)}, stubDirectory{admin: 1})

	in, err := svc.Start(context.Background(), StartInput{ExpenseID: uuid.New(), CompanyID: 1, SubmitterID: 7})
	require.NoError(t, err)

	// age the instance past the cutoff
	stored := repo.instances[in.ID]
	stored.UpdatedAt = time.Now().Add(-72 * time.Hour)
	repo.instances[in.ID] = stored

	count, err := svc.SweepStale(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	escalated, err := repo.Get(context.Background(), in.ID)
	require.NoError(t, err)
	assert.True(t, escalated.ActionableBy(1))

	last := history.logs[len(history.logs)-1]
	assert.Equal(t, shared.DecisionEscalate, last.Action)
}
