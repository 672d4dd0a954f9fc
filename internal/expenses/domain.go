// Package expenses owns the expense lifecycle from draft to terminal
// approval state, including the submission pipeline that values the
// expense in the company's reporting currency and kicks off its approval
// flow.
package expenses

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the expense lifecycle state. Terminal states are set only by
// the approval flow or the auto-approval path.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusWaiting  Status = "WAITING_APPROVAL"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Expense is a single claim. ExchangeRate and NormalizedAmount are zero
// until submission; once submitted they are fixed and later rate changes
// never alter them.
type Expense struct {
	ID                uuid.UUID `json:"id"`
	CompanyID         int64     `json:"company_id"`
	SubmitterID       int64     `json:"submitter_id"`
	Category          string    `json:"category"`
	Description       string    `json:"description"`
	OriginalAmount    float64   `json:"original_amount"`
	OriginalCurrency  string    `json:"original_currency"`
	ExchangeRate      float64   `json:"exchange_rate,omitempty"`
	NormalizedAmount  float64   `json:"normalized_amount,omitempty"`
	ReportingCurrency string    `json:"reporting_currency,omitempty"`
	ExpenseDate       time.Time `json:"expense_date"`
	ReceiptURL        string    `json:"receipt_url,omitempty"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the expense record is missing.
	ErrNotFound = errors.New("expenses: not found")
	// ErrNotOwner indicates the actor does not own the expense.
	ErrNotOwner = errors.New("expenses: not the submitter")
	// ErrNotSubmittable indicates the expense is not in a state that can
	// be submitted. Only DRAFT and REJECTED expenses may be submitted.
	ErrNotSubmittable = errors.New("expenses: not submittable in current state")
	// ErrNotDraft indicates an edit on an already submitted expense.
	ErrNotDraft = errors.New("expenses: only drafts can be edited")
	// ErrInvalidExpense indicates rejected expense input.
	ErrInvalidExpense = errors.New("expenses: invalid expense")
)

// Submittable reports whether the expense may enter the approval
// pipeline. Rejected expenses may be resubmitted and receive a fresh flow.
func (e Expense) Submittable() bool {
	return e.Status == StatusDraft || e.Status == StatusRejected
}
