package expenses

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
)

type memoryRepo struct {
	expenses map[uuid.UUID]Expense
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{expenses: make(map[uuid.UUID]Expense)}
}

func (m *memoryRepo) Create(_ context.Context, e Expense) error {
	m.expenses[e.ID] = e
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Expense, error) {
	e, ok := m.expenses[id]
	if !ok {
		return Expense{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryRepo) UpdateDraft(_ context.Context, e Expense) error {
	stored, ok := m.expenses[e.ID]
	if !ok || stored.Status != StatusDraft {
		return ErrNotDraft
	}
	m.expenses[e.ID] = e
	return nil
}

func (m *memoryRepo) SetSubmitted(_ context.Context, id uuid.UUID, rate, normalized float64, reportingCurrency string) error {
	e, ok := m.expenses[id]
	if !ok {
		return ErrNotFound
	}
	e.ExchangeRate = rate
	e.NormalizedAmount = normalized
	e.ReportingCurrency = reportingCurrency
	e.Status = StatusWaiting
	m.expenses[id] = e
	return nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	e, ok := m.expenses[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	m.expenses[id] = e
	return nil
}

func (m *memoryRepo) ListBySubmitter(_ context.Context, submitterID int64, limit, offset int) ([]Expense, int, error) {
	var out []Expense
	for _, e := range m.expenses {
		if e.SubmitterID == submitterID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListByCompany(_ context.Context, companyID int64, limit, offset int) ([]Expense, int, error) {
	var out []Expense
	for _, e := range m.expenses {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

type stubRates struct {
	table fx.RateTable
}

func (s stubRates) Snapshot(_ context.Context, base string) (fx.RateTable, error) {
	if base != s.table.Base {
		return fx.RateTable{}, fx.ErrUnsupportedCurrency
	}
	return s.table, nil
}

type stubFlows struct {
	started  []flow.StartInput
	startErr error
	instance flow.Instance
}

func (s *stubFlows) Start(_ context.Context, input flow.StartInput) (flow.Instance, error) {
	if s.startErr != nil {
		return flow.Instance{}, s.startErr
	}
	s.started = append(s.started, input)
	return flow.Instance{ID: uuid.New(), ExpenseID: input.ExpenseID}, nil
}

func (s *stubFlows) GetByExpense(_ context.Context, expenseID uuid.UUID) (flow.Instance, error) {
	if s.instance.ExpenseID != expenseID {
		return flow.Instance{}, flow.ErrNotFound
	}
	return s.instance, nil
}

type stubCompanies struct {
	company company.Company
}

func (s stubCompanies) Get(context.Context, int64) (company.Company, error) {
	return s.company, nil
}

type historySink struct {
	logs []shared.DecisionLog
}

func (s *historySink) Record(_ context.Context, log shared.DecisionLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func inrTable() fx.RateTable {
	return fx.RateTable{
		Base:  "INR",
		AsOf:  time.Now(),
		Rates: map[string]float64{"USD": 0.012, "EUR": 0.011, "GBP": 0.0095},
	}
}

func acme() company.Company {
	return company.Company{
		ID:                1,
		Name:              "Acme",
		ReportingCurrency: "INR",
		Settings:          company.Settings{AutoApprovalLimit: 1000},
	}
}

func newTestService(repo RepositoryPort, flows FlowPort, comp company.Company) (*Service, *historySink) {
	history := &historySink{}
	svc := NewService(repo, stubRates{table: inrTable()}, flows, stubCompanies{company: comp}, history, slog.New(slog.DiscardHandler))
	return svc, history
}

func TestSubmitNormalizesAndStartsFlow(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{}
	svc, _ := newTestService(repo, flows, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	submitted, err := svc.Submit(context.Background(), 7, draft.ID)
	require.NoError(t, err)

	// 100 USD at 0.012 USD per INR values to 8333.33 INR
	assert.InDelta(t, 1/0.012, submitted.ExchangeRate, 1e-9)
	assert.InDelta(t, 100/0.012, submitted.NormalizedAmount, 1e-6)
	assert.Equal(t, "INR", submitted.ReportingCurrency)
	assert.Equal(t, StatusWaiting, submitted.Status)

	require.Len(t, flows.started, 1)
	assert.Equal(t, draft.ID, flows.started[0].ExpenseID)
	assert.InDelta(t, 100/0.012, flows.started[0].NormalizedAmount, 1e-6)
}

func TestSubmitAutoApprovesUnderLimit(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{}
	svc, history := newTestService(repo, flows, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Meals",
		OriginalAmount:   500,
		OriginalCurrency: "INR",
	})
	require.NoError(t, err)

	submitted, err := svc.Submit(context.Background(), 7, draft.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, submitted.Status)
	assert.Empty(t, flows.started)
	require.NotEmpty(t, history.logs)
	assert.Equal(t, shared.DecisionSubmit, history.logs[0].Action)
}

func TestSubmitNoMatchingRuleLeavesDraft(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{startErr: rules.ErrNoMatchingRule}
	svc, _ := newTestService(repo, flows, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), 7, draft.ID)
	assert.ErrorIs(t, err, rules.ErrNoMatchingRule)

	stored, err := repo.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Zero(t, stored.NormalizedAmount)
}

func TestSubmitUnsupportedCurrency(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, &stubFlows{}, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "XXX",
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), 7, draft.ID)
	assert.ErrorIs(t, err, fx.ErrUnsupportedCurrency)
}

func TestSubmitOwnershipAndState(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, &stubFlows{}, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), 8, draft.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, repo.SetStatus(context.Background(), draft.ID, StatusApproved))
	_, err = svc.Submit(context.Background(), 7, draft.ID)
	assert.ErrorIs(t, err, ErrNotSubmittable)
}

func TestResubmitRejectedExpense(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{}
	svc, _ := newTestService(repo, flows, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), 7, draft.ID)
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(context.Background(), draft.ID, StatusRejected))

	resubmitted, err := svc.Submit(context.Background(), 7, draft.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusWaiting, resubmitted.Status)
	// each submission starts a fresh flow instance
	assert.Len(t, flows.started, 2)
}

func TestUpdateDraftGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, &stubFlows{}, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateDraft(context.Background(), 7, draft.ID, CreateInput{
		Category:         "Meals",
		OriginalAmount:   50,
		OriginalCurrency: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "Meals", updated.Category)

	_, err = svc.UpdateDraft(context.Background(), 8, draft.ID, CreateInput{
		Category: "Meals", OriginalAmount: 50, OriginalCurrency: "EUR",
	})
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, repo.SetStatus(context.Background(), draft.ID, StatusWaiting))
	_, err = svc.UpdateDraft(context.Background(), 7, draft.ID, CreateInput{
		Category: "Meals", OriginalAmount: 50, OriginalCurrency: "EUR",
	})
	assert.ErrorIs(t, err, ErrNotDraft)
}

func TestGetVisibility(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{}
	svc, _ := newTestService(repo, flows, acme())

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	// owner sees it
	_, err = svc.Get(context.Background(), 7, 1, false, draft.ID)
	require.NoError(t, err)

	// admin sees it
	_, err = svc.Get(context.Background(), 99, 1, true, draft.ID)
	require.NoError(t, err)

	// another company never sees it
	_, err = svc.Get(context.Background(), 7, 2, true, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// a stranger without a flow step is denied
	_, err = svc.Get(context.Background(), 42, 1, false, draft.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	// an approver on the flow sees it
	flows.instance = flow.Instance{
		ExpenseID: draft.ID,
		Steps:     []flow.Step{{ApproverID: 42, Status: flow.StepPending}},
	}
	_, err = svc.Get(context.Background(), 42, 1, false, draft.ID)
	require.NoError(t, err)
}
