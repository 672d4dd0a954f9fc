package company

import (
	"context"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// RepositoryPort describes the persistence operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Company, error)
	UpdateSettings(ctx context.Context, id int64, s Settings) error
}

// AuditPort records administrative changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes company settings management.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the company service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Get returns the company record.
func (s *Service) Get(ctx context.Context, id int64) (Company, error) {
	return s.repo.Get(ctx, id)
}

// UpdateSettings validates and stores new approval settings.
func (s *Service) UpdateSettings(ctx context.Context, actorID, companyID int64, settings Settings) (Company, error) {
	if settings.AutoApprovalLimit < 0 {
		return Company{}, ErrInvalidSettings
	}
	if err := s.repo.UpdateSettings(ctx, companyID, settings); err != nil {
		return Company{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.CompanyAudit(actorID, "COMPANY_SETTINGS_UPDATE", companyID, map[string]any{
			"auto_approval_limit":      settings.AutoApprovalLimit,
			"require_manager_approval": settings.RequireManagerApproval,
		}))
	}
	return s.repo.Get(ctx, companyID)
}
