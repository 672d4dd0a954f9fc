package rules

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/shared"
)

type memoryRuleRepo struct {
	rules map[uuid.UUID]ApprovalRule
}

func newMemoryRuleRepo() *memoryRuleRepo {
	return &memoryRuleRepo{rules: make(map[uuid.UUID]ApprovalRule)}
}

func (r *memoryRuleRepo) Get(_ context.Context, id uuid.UUID) (ApprovalRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return ApprovalRule{}, ErrNotFound
	}
	return rule, nil
}

func (r *memoryRuleRepo) List(_ context.Context, companyID int64) ([]ApprovalRule, error) {
	var out []ApprovalRule
	for _, rule := range r.rules {
		if rule.CompanyID == companyID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memoryRuleRepo) ListActive(_ context.Context, companyID int64) ([]ApprovalRule, error) {
	var out []ApprovalRule
	for _, rule := range r.rules {
		if rule.CompanyID == companyID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memoryRuleRepo) Create(_ context.Context, rule ApprovalRule) error {
	r.rules[rule.ID] = rule
	return nil
}

func (r *memoryRuleRepo) Update(_ context.Context, rule ApprovalRule) error {
	if _, ok := r.rules[rule.ID]; !ok {
		return ErrNotFound
	}
	r.rules[rule.ID] = rule
	return nil
}

func (r *memoryRuleRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	rule, ok := r.rules[id]
	if !ok {
		return ErrNotFound
	}
	rule.IsActive = false
	r.rules[id] = rule
	return nil
}

type stubCompanies struct {
	company company.Company
}

func (s stubCompanies) Get(context.Context, int64) (company.Company, error) {
	return s.company, nil
}

type auditSink struct {
	logs []shared.AuditLog
}

func (a *auditSink) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestCreateValidatesDefinition(t *testing.T) {
	repo := newMemoryRuleRepo()
	audit := &auditSink{}
	svc := NewService(repo, nil, audit)

	_, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID: 1,
		Name:      "",
		Mode:      ModeSequential,
		Slots:     []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
	})
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Empty(t, repo.rules)
	assert.Empty(t, audit.logs)

	rule, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID:  1,
		Name:       "Travel over 10k",
		Conditions: Conditions{AmountThreshold: 10000, Categories: []string{"TRAVEL"}},
		Mode:       ModeSequential,
		Slots:      []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
		ActorID:    42,
	})
	require.NoError(t, err)
	assert.True(t, rule.IsActive)
	assert.NotEqual(t, uuid.Nil, rule.ID)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "RULE_CREATE", audit.logs[0].Action)
	assert.Equal(t, int64(42), audit.logs[0].ActorID)
}

func TestUpdatePreservesIdentityAndTimestamps(t *testing.T) {
	repo := newMemoryRuleRepo()
	svc := NewService(repo, nil, nil)

	created, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID: 1,
		Name:      "Default",
		Mode:      ModeSequential,
		Slots:     []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), UpdateRuleInput{
		ID:       created.ID,
		Name:     "Default v2",
		Mode:     ModeParallel,
		Slots:    []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}, {ApproverID: 8, Order: 2, IsRequired: false}},
		Override: &OverridePolicy{PercentageThreshold: 60},
		IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, ModeParallel, updated.Mode)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
}

func TestUpdateUnknownRule(t *testing.T) {
	svc := NewService(newMemoryRuleRepo(), nil, nil)
	_, err := svc.Update(context.Background(), UpdateRuleInput{
		ID:   uuid.New(),
		Name: "ghost",
		Mode: ModeSequential,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDeactivatesAndStopsMatching(t *testing.T) {
	repo := newMemoryRuleRepo()
	svc := NewService(repo, nil, nil)

	rule, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID: 1,
		Name:      "Everything",
		Mode:      ModeSequential,
		Slots:     []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
	})
	require.NoError(t, err)

	matched, err := svc.MatchExpense(context.Background(), 1, 500, "TRAVEL")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, matched.ID)

	require.NoError(t, svc.Delete(context.Background(), rule.ID, 42))

	_, err = svc.MatchExpense(context.Background(), 1, 500, "TRAVEL")
	require.ErrorIs(t, err, ErrNoMatchingRule)
}

func TestCreateDefaultsManagerFirstFromCompanySettings(t *testing.T) {
	repo := newMemoryRuleRepo()
	companies := stubCompanies{company: company.Company{
		ID:       1,
		Settings: company.Settings{RequireManagerApproval: true},
	}}
	svc := NewService(repo, companies, nil)

	// omitted flag inherits the company setting
	rule, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID: 1,
		Name:      "Inherits default",
		Mode:      ModeSequential,
		Slots:     []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
	})
	require.NoError(t, err)
	assert.True(t, rule.ManagerFirst)

	// an explicit false wins over the setting
	explicit := false
	rule, err = svc.Create(context.Background(), CreateRuleInput{
		CompanyID:    1,
		Name:         "Opts out",
		Mode:         ModeSequential,
		Slots:        []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
		ManagerFirst: &explicit,
	})
	require.NoError(t, err)
	assert.False(t, rule.ManagerFirst)
}

func TestMatchExpenseScopedToCompany(t *testing.T) {
	repo := newMemoryRuleRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateRuleInput{
		CompanyID: 2,
		Name:      "Other tenant",
		Mode:      ModeSequential,
		Slots:     []ApproverSlot{{ApproverID: 7, Order: 1, IsRequired: true}},
	})
	require.NoError(t, err)

	_, err = svc.MatchExpense(context.Background(), 1, 500, "TRAVEL")
	require.ErrorIs(t, err, ErrNoMatchingRule)
}
