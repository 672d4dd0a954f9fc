package identity

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// RepositoryPort describes the persistence operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, u User) (User, error)
	CreateWithCompany(ctx context.Context, comp company.Company, admin User) (company.Company, User, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, companyID int64) ([]User, error)
	Team(ctx context.Context, managerID int64) ([]User, error)
	UpdateRole(ctx context.Context, id int64, role string) error
	SetManager(ctx context.Context, id, managerID int64) error
	Deactivate(ctx context.Context, id int64) error
}

// AuditPort records administrative changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages accounts and authentication.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the identity service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RegisterInput bootstraps a company and its first administrator.
type RegisterInput struct {
	CompanyName string
	Country     string
	Name        string
	Email       string
	Password    string
}

// Register creates the company together with its admin account. The
// reporting currency is derived from the registration country.
func (s *Service) Register(ctx context.Context, input RegisterInput) (company.Company, User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return company.Company{}, User{}, err
	}
	comp := company.Company{
		Name:              input.CompanyName,
		Country:           input.Country,
		ReportingCurrency: company.CurrencyForCountry(input.Country),
		Settings:          company.Settings{RequireManagerApproval: true},
	}
	admin := User{
		Name:         input.Name,
		Email:        normalizeEmail(input.Email),
		Role:         rbac.RoleAdmin,
		IsActive:     true,
		PasswordHash: hash,
	}
	return s.repo.CreateWithCompany(ctx, comp, admin)
}

// Login verifies credentials and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return User{}, ErrUserInactive
	}
	return user, nil
}

// CreateUserInput is an admin-created account.
type CreateUserInput struct {
	Name      string
	Email     string
	Password  string
	Role      rbac.Role
	ManagerID int64
}

// CreateUser adds an account to the actor's company.
func (s *Service) CreateUser(ctx context.Context, actorID, companyID int64, input CreateUserInput) (User, error) {
	if !input.Role.Valid() {
		return User{}, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	created, err := s.repo.Create(ctx, User{
		CompanyID:    companyID,
		Name:         input.Name,
		Email:        normalizeEmail(input.Email),
		Role:         input.Role,
		ManagerID:    input.ManagerID,
		IsActive:     true,
		PasswordHash: hash,
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, "USER_CREATE", created.ID, map[string]any{"role": string(created.Role)})
	return created, nil
}

// ChangeRole updates a user's role after verifying company membership.
func (s *Service) ChangeRole(ctx context.Context, actorID, companyID, userID int64, role rbac.Role) (User, error) {
	if !role.Valid() {
		return User{}, ErrInvalidRole
	}
	user, err := s.userInCompany(ctx, companyID, userID)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateRole(ctx, user.ID, string(role)); err != nil {
		return User{}, err
	}
	user.Role = role
	s.recordAudit(ctx, actorID, "USER_ROLE_CHANGE", user.ID, map[string]any{"role": string(role)})
	return user, nil
}

// AssignManager sets a user's manager within the same company. Zero clears.
func (s *Service) AssignManager(ctx context.Context, actorID, companyID, userID, managerID int64) error {
	user, err := s.userInCompany(ctx, companyID, userID)
	if err != nil {
		return err
	}
	if managerID != 0 {
		if _, err := s.userInCompany(ctx, companyID, managerID); err != nil {
			return err
		}
	}
	if err := s.repo.SetManager(ctx, user.ID, managerID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "USER_MANAGER_CHANGE", user.ID, map[string]any{"manager_id": managerID})
	return nil
}

// Deactivate disables an account.
func (s *Service) Deactivate(ctx context.Context, actorID, companyID, userID int64) error {
	user, err := s.userInCompany(ctx, companyID, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, user.ID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "USER_DEACTIVATE", user.ID, nil)
	return nil
}

// List returns every user of the company.
func (s *Service) List(ctx context.Context, companyID int64) ([]User, error) {
	return s.repo.List(ctx, companyID)
}

// Team returns a manager's active direct reports.
func (s *Service) Team(ctx context.Context, managerID int64) ([]User, error) {
	return s.repo.Team(ctx, managerID)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) userInCompany(ctx context.Context, companyID, userID int64) (User, error) {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.CompanyID != companyID {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.UserAudit(actorID, action, userID, meta))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
