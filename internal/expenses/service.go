package expenses

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// RepositoryPort describes the persistence operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, e Expense) error
	Get(ctx context.Context, id uuid.UUID) (Expense, error)
	UpdateDraft(ctx context.Context, e Expense) error
	SetSubmitted(ctx context.Context, id uuid.UUID, rate, normalized float64, reportingCurrency string) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	ListBySubmitter(ctx context.Context, submitterID int64, limit, offset int) ([]Expense, int, error)
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Expense, int, error)
}

// RatesPort snapshots the rate table used to value a submission.
type RatesPort interface {
	Snapshot(ctx context.Context, base string) (fx.RateTable, error)
}

// FlowPort starts an approval flow for a submitted expense.
type FlowPort interface {
	Start(ctx context.Context, input flow.StartInput) (flow.Instance, error)
	GetByExpense(ctx context.Context, expenseID uuid.UUID) (flow.Instance, error)
}

// CompanyPort loads the company owning the expense.
type CompanyPort interface {
	Get(ctx context.Context, id int64) (company.Company, error)
}

// HistoryPort records submission actions.
type HistoryPort interface {
	Record(ctx context.Context, log shared.DecisionLog) error
}

// Service drives the expense lifecycle.
type Service struct {
	repo      RepositoryPort
	rates     RatesPort
	flows     FlowPort
	companies CompanyPort
	history   HistoryPort
	logger    *slog.Logger
}

// NewService constructs the expense service.
func NewService(repo RepositoryPort, rates RatesPort, flows FlowPort, companies CompanyPort, history HistoryPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		rates:     rates,
		flows:     flows,
		companies: companies,
		history:   history,
		logger:    logger,
	}
}

// CreateInput is a new draft.
type CreateInput struct {
	Category         string
	Description      string
	OriginalAmount   float64
	OriginalCurrency string
	ExpenseDate      time.Time
	ReceiptURL       string
}

// Create stores a draft. Valuation happens later at submission.
func (s *Service) Create(ctx context.Context, submitterID, companyID int64, input CreateInput) (Expense, error) {
	if input.OriginalAmount <= 0 || input.Category == "" || input.OriginalCurrency == "" {
		return Expense{}, ErrInvalidExpense
	}
	expense := Expense{
		ID:               uuid.New(),
		CompanyID:        companyID,
		SubmitterID:      submitterID,
		Category:         input.Category,
		Description:      input.Description,
		OriginalAmount:   input.OriginalAmount,
		OriginalCurrency: input.OriginalCurrency,
		ExpenseDate:      input.ExpenseDate,
		ReceiptURL:       input.ReceiptURL,
		Status:           StatusDraft,
	}
	if expense.ExpenseDate.IsZero() {
		expense.ExpenseDate = time.Now()
	}
	if err := s.repo.Create(ctx, expense); err != nil {
		return Expense{}, err
	}
	return expense, nil
}

// UpdateDraft edits an owned draft.
func (s *Service) UpdateDraft(ctx context.Context, actorID int64, id uuid.UUID, input CreateInput) (Expense, error) {
	expense, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if expense.SubmitterID != actorID {
		return Expense{}, ErrNotOwner
	}
	if expense.Status != StatusDraft {
		return Expense{}, ErrNotDraft
	}
	if input.OriginalAmount <= 0 || input.Category == "" || input.OriginalCurrency == "" {
		return Expense{}, ErrInvalidExpense
	}
	expense.Category = input.Category
	expense.Description = input.Description
	expense.OriginalAmount = input.OriginalAmount
	expense.OriginalCurrency = input.OriginalCurrency
	expense.ReceiptURL = input.ReceiptURL
	if !input.ExpenseDate.IsZero() {
		expense.ExpenseDate = input.ExpenseDate
	}
	if err := s.repo.UpdateDraft(ctx, expense); err != nil {
		return Expense{}, err
	}
	return expense, nil
}

// Submit values the expense in the company's reporting currency and routes
// it for approval. Expenses at or below the company auto-approval limit
// are approved immediately without a flow. A rejected expense may be
// resubmitted; it is revalued at current rates and receives a fresh flow.
func (s *Service) Submit(ctx context.Context, actorID int64, id uuid.UUID) (Expense, error) {
	expense, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if expense.SubmitterID != actorID {
		return Expense{}, ErrNotOwner
	}
	if !expense.Submittable() {
		return Expense{}, ErrNotSubmittable
	}

	comp, err := s.companies.Get(ctx, expense.CompanyID)
	if err != nil {
		return Expense{}, err
	}
	table, err := s.rates.Snapshot(ctx, comp.ReportingCurrency)
	if err != nil {
		return Expense{}, err
	}
	normalized, err := fx.Normalize(expense.OriginalAmount, expense.OriginalCurrency, table, comp.ReportingCurrency)
	if err != nil {
		return Expense{}, err
	}

	limit := comp.Settings.AutoApprovalLimit
	if limit > 0 && normalized.Amount <= limit {
		if err := s.repo.SetSubmitted(ctx, expense.ID, normalized.Rate, normalized.Amount, comp.ReportingCurrency); err != nil {
			return Expense{}, err
		}
		if err := s.repo.SetStatus(ctx, expense.ID, StatusApproved); err != nil {
			return Expense{}, err
		}
		s.recordHistory(ctx, expense.ID, actorID, shared.DecisionSubmit, "auto-approved under company limit")
		expense.ExchangeRate = normalized.Rate
		expense.NormalizedAmount = normalized.Amount
		expense.ReportingCurrency = comp.ReportingCurrency
		expense.Status = StatusApproved
		return expense, nil
	}

	// Match and instantiate before touching the stored status so a
	// missing rule or manager leaves the expense untouched.
	_, err = s.flows.Start(ctx, flow.StartInput{
		ExpenseID:        expense.ID,
		CompanyID:        expense.CompanyID,
		SubmitterID:      expense.SubmitterID,
		Category:         expense.Category,
		NormalizedAmount: normalized.Amount,
	})
	if err != nil {
		return Expense{}, err
	}
	if err := s.repo.SetSubmitted(ctx, expense.ID, normalized.Rate, normalized.Amount, comp.ReportingCurrency); err != nil {
		return Expense{}, err
	}

	expense.ExchangeRate = normalized.Rate
	expense.NormalizedAmount = normalized.Amount
	expense.ReportingCurrency = comp.ReportingCurrency
	expense.Status = StatusWaiting
	return expense, nil
}

// Get returns an expense visible to the actor: the submitter, a company
// admin, or anyone holding a step on its flow.
func (s *Service) Get(ctx context.Context, actorID, companyID int64, admin bool, id uuid.UUID) (Expense, error) {
	expense, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if expense.CompanyID != companyID {
		return Expense{}, ErrNotFound
	}
	if expense.SubmitterID == actorID || admin {
		return expense, nil
	}
	instance, err := s.flows.GetByExpense(ctx, id)
	if err != nil {
		if errors.Is(err, flow.ErrNotFound) {
			return Expense{}, ErrNotOwner
		}
		return Expense{}, err
	}
	for _, step := range instance.Steps {
		if step.ApproverID == actorID {
			return expense, nil
		}
	}
	return Expense{}, ErrNotOwner
}

// ListMine returns the actor's expenses with pagination.
func (s *Service) ListMine(ctx context.Context, submitterID int64, page, perPage int) ([]Expense, shared.Pagination, error) {
	limit, offset := pageBounds(page, perPage)
	items, total, err := s.repo.ListBySubmitter(ctx, submitterID, limit, offset)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, limit, total), nil
}

// ListAll returns every company expense with pagination.
func (s *Service) ListAll(ctx context.Context, companyID int64, page, perPage int) ([]Expense, shared.Pagination, error) {
	limit, offset := pageBounds(page, perPage)
	items, total, err := s.repo.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, limit, total), nil
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

func pageBounds(page, perPage int) (limit, offset int) {
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
