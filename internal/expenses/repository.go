package expenses

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists expenses in Postgres. MarkApproved and MarkRejected
// are called by the approval flow when an instance reaches a terminal
// state.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const expenseColumns = `id, company_id, submitter_id, category, description,
original_amount, original_currency, exchange_rate, normalized_amount,
COALESCE(reporting_currency, ''), expense_date, COALESCE(receipt_url, ''), status, created_at, updated_at`

// Create inserts a draft.
func (r *Repository) Create(ctx context.Context, e Expense) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO expenses
(id, company_id, submitter_id, category, description, original_amount, original_currency,
 exchange_rate, normalized_amount, reporting_currency, expense_date, receipt_url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''), $13, NOW(), NOW())`,
		e.ID, e.CompanyID, e.SubmitterID, e.Category, e.Description,
		e.OriginalAmount, e.OriginalCurrency, e.ExchangeRate, e.NormalizedAmount,
		e.ReportingCurrency, e.ExpenseDate, e.ReceiptURL, string(e.Status))
	if err != nil {
		return fmt.Errorf("expenses: insert: %w", err)
	}
	return nil
}

// Get returns one expense.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Expense, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id=$1`, id)
	return scanExpense(row)
}

// UpdateDraft replaces the editable fields of a draft.
func (r *Repository) UpdateDraft(ctx context.Context, e Expense) error {
	tag, err := r.pool.Exec(ctx, `UPDATE expenses SET category=$2, description=$3,
original_amount=$4, original_currency=$5, expense_date=$6, receipt_url=NULLIF($7, ''), updated_at=NOW()
WHERE id=$1 AND status=$8`,
		e.ID, e.Category, e.Description, e.OriginalAmount, e.OriginalCurrency,
		e.ExpenseDate, e.ReceiptURL, string(StatusDraft))
	if err != nil {
		return fmt.Errorf("expenses: update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

// SetSubmitted stores the valuation captured at submission and moves the
// expense to WAITING_APPROVAL.
func (r *Repository) SetSubmitted(ctx context.Context, id uuid.UUID, rate, normalized float64, reportingCurrency string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE expenses SET exchange_rate=$2, normalized_amount=$3,
reporting_currency=$4, status=$5, updated_at=NOW() WHERE id=$1`,
		id, rate, normalized, reportingCurrency, string(StatusWaiting))
	if err != nil {
		return fmt.Errorf("expenses: set submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves the expense to the given status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE expenses SET status=$2, updated_at=NOW() WHERE id=$1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("expenses: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkApproved implements the flow's expense port.
func (r *Repository) MarkApproved(ctx context.Context, id uuid.UUID) error {
	return r.SetStatus(ctx, id, StatusApproved)
}

// MarkRejected implements the flow's expense port.
func (r *Repository) MarkRejected(ctx context.Context, id uuid.UUID) error {
	return r.SetStatus(ctx, id, StatusRejected)
}

// ListBySubmitter returns the submitter's expenses newest first.
func (r *Repository) ListBySubmitter(ctx context.Context, submitterID int64, limit, offset int) ([]Expense, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE submitter_id=$1`, submitterID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("expenses: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM expenses
WHERE submitter_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, submitterID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("expenses: list by submitter: %w", err)
	}
	defer rows.Close()
	out, err := collectExpenses(rows)
	return out, total, err
}

// ListByCompany returns all expenses of a company newest first.
func (r *Repository) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Expense, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE company_id=$1`, companyID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("expenses: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM expenses
WHERE company_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("expenses: list by company: %w", err)
	}
	defer rows.Close()
	out, err := collectExpenses(rows)
	return out, total, err
}

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e      Expense
		status string
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.SubmitterID, &e.Category, &e.Description,
		&e.OriginalAmount, &e.OriginalCurrency, &e.ExchangeRate, &e.NormalizedAmount,
		&e.ReportingCurrency, &e.ExpenseDate, &e.ReceiptURL, &status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrNotFound
	}
	if err != nil {
		return Expense{}, fmt.Errorf("expenses: scan: %w", err)
	}
	e.Status = Status(status)
	return e, nil
}

func collectExpenses(rows pgx.Rows) ([]Expense, error) {
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
