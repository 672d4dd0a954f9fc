package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/currency"

	"github.com/expenseflow/expenseflow/internal/expenses"
	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/identity"
)

// ExpenseLookup loads the expense a notification refers to.
type ExpenseLookup interface {
	Get(ctx context.Context, id uuid.UUID) (expenses.Expense, error)
}

// UserLookup resolves user records for addressing notifications.
type UserLookup interface {
	Get(ctx context.Context, id int64) (identity.User, error)
}

// Notifier enqueues approval events for delivery. It implements the
// flow's notifier port.
type Notifier struct {
	client *Client
}

// NewNotifier constructs a Notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Publish enqueues the event. A nil receiver drops events, used in tests
// and single-process setups without a worker.
func (n *Notifier) Publish(ctx context.Context, event flow.Event) error {
	if n == nil || n.client == nil {
		return nil
	}
	task, err := NewDecisionNotifyTask(DecisionNotifyPayload{
		EventType:    string(event.Type),
		ExpenseID:    event.ExpenseID,
		InstanceID:   event.InstanceID,
		CompanyID:    event.CompanyID,
		ActorID:      event.ActorID,
		NextApprover: event.NextApprover,
		Comment:      event.Comment,
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}

// NewDecisionNotifyHandler returns the handler delivering approval
// notifications. Delivery is a structured log line today; the payload and
// formatting are what an SMTP or chat integration would consume.
func NewDecisionNotifyHandler(logger *slog.Logger, expenseLookup ExpenseLookup, userLookup UserLookup) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DecisionNotifyPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		expense, err := expenseLookup.Get(ctx, payload.ExpenseID)
		if err != nil {
			return err
		}

		recipientID := expense.SubmitterID
		if payload.EventType == string(flow.EventStepAdvanced) && payload.NextApprover != 0 {
			recipientID = payload.NextApprover
		}
		recipient, err := userLookup.Get(ctx, recipientID)
		if err != nil {
			return err
		}

		amount := FormatAmount(expense.OriginalCurrency, expense.OriginalAmount)
		if expense.NormalizedAmount > 0 && expense.ReportingCurrency != "" {
			amount = FormatAmount(expense.ReportingCurrency, expense.NormalizedAmount)
		}

		logger.Info("approval notification",
			slog.String("event", payload.EventType),
			slog.String("expense", payload.ExpenseID.String()),
			slog.String("recipient", recipient.Email),
			slog.String("category", expense.Category),
			slog.String("amount", amount),
			slog.String("comment", payload.Comment),
		)
		return nil
	}
}

// FormatAmount renders an amount with its currency symbol, falling back to
// a plain "12.34 XYZ" form for codes outside ISO 4217.
func FormatAmount(code string, amount float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, code)
	}
	return fmt.Sprintf("%v", currency.Symbol(unit.Amount(amount)))
}
