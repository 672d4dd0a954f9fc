package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (ApprovalRule, error)
	List(ctx context.Context, companyID int64) ([]ApprovalRule, error)
	ListActive(ctx context.Context, companyID int64) ([]ApprovalRule, error)
	Create(ctx context.Context, rule ApprovalRule) error
	Update(ctx context.Context, rule ApprovalRule) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CompanyPort loads company settings feeding rule defaults.
type CompanyPort interface {
	Get(ctx context.Context, id int64) (company.Company, error)
}

// Service manages the rule store.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	audit     AuditPort
}

// NewService constructs the rules service.
func NewService(repo RepositoryPort, companies CompanyPort, audit AuditPort) *Service {
	return &Service{repo: repo, companies: companies, audit: audit}
}

// CreateRuleInput describes a new rule definition. A nil ManagerFirst
// defers to the company's require-manager-approval setting.
type CreateRuleInput struct {
	CompanyID    int64
	Name         string
	Description  string
	Conditions   Conditions
	Mode         FlowMode
	Slots        []ApproverSlot
	ManagerFirst *bool
	Override     *OverridePolicy
	ActorID      int64
}

// Create validates and persists a rule.
func (s *Service) Create(ctx context.Context, input CreateRuleInput) (ApprovalRule, error) {
	managerFirst, err := s.defaultManagerFirst(ctx, input)
	if err != nil {
		return ApprovalRule{}, err
	}
	now := time.Now()
	rule := ApprovalRule{
		ID:           uuid.New(),
		CompanyID:    input.CompanyID,
		Name:         input.Name,
		Description:  input.Description,
		Conditions:   input.Conditions,
		Mode:         input.Mode,
		Slots:        input.Slots,
		ManagerFirst: managerFirst,
		Override:     input.Override,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rule.Validate(); err != nil {
		return ApprovalRule{}, err
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return ApprovalRule{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RULE_CREATE", rule.ID, map[string]any{"name": rule.Name})
	return rule, nil
}

// UpdateRuleInput carries an edit of an existing rule.
type UpdateRuleInput struct {
	ID           uuid.UUID
	Name         string
	Description  string
	Conditions   Conditions
	Mode         FlowMode
	Slots        []ApproverSlot
	ManagerFirst bool
	Override     *OverridePolicy
	IsActive     bool
	ActorID      int64
}

// Update applies an edit. Flow instances created earlier keep their
// snapshot of the previous template.
func (s *Service) Update(ctx context.Context, input UpdateRuleInput) (ApprovalRule, error) {
	rule, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return ApprovalRule{}, err
	}
	rule.Name = input.Name
	rule.Description = input.Description
	rule.Conditions = input.Conditions
	rule.Mode = input.Mode
	rule.Slots = input.Slots
	rule.ManagerFirst = input.ManagerFirst
	rule.Override = input.Override
	rule.IsActive = input.IsActive
	rule.UpdatedAt = time.Now()
	if err := rule.Validate(); err != nil {
		return ApprovalRule{}, err
	}
	if err := s.repo.Update(ctx, rule); err != nil {
		return ApprovalRule{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RULE_UPDATE", rule.ID, map[string]any{"name": rule.Name})
	return rule, nil
}

// Delete deactivates a rule.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID int64) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "RULE_DELETE", id, nil)
	return nil
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ApprovalRule, error) {
	return s.repo.Get(ctx, id)
}

// List returns all rules for the company.
func (s *Service) List(ctx context.Context, companyID int64) ([]ApprovalRule, error) {
	return s.repo.List(ctx, companyID)
}

// MatchExpense selects the applicable rule for a normalized amount and
// category within the company scope.
func (s *Service) MatchExpense(ctx context.Context, companyID int64, normalizedAmount float64, category string) (ApprovalRule, error) {
	ruleSet, err := s.repo.ListActive(ctx, companyID)
	if err != nil {
		return ApprovalRule{}, err
	}
	return Match(normalizedAmount, category, ruleSet)
}

func (s *Service) defaultManagerFirst(ctx context.Context, input CreateRuleInput) (bool, error) {
	if input.ManagerFirst != nil {
		return *input.ManagerFirst, nil
	}
	if s.companies == nil {
		return false, nil
	}
	c, err := s.companies.Get(ctx, input.CompanyID)
	if err != nil {
		return false, err
	}
	return c.Settings.RequireManagerApproval, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.RuleAudit(actorID, action, id.String(), meta))
}
