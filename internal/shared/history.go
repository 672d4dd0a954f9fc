package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionAction enumerates approval history actions.
type DecisionAction string

const (
	// DecisionSubmit marks an expense submission.
	DecisionSubmit DecisionAction = "SUBMIT"
	// DecisionApprove marks an approve action.
	DecisionApprove DecisionAction = "APPROVE"
	// DecisionReject marks a reject action.
	DecisionReject DecisionAction = "REJECT"
	// DecisionOverride marks an administrative override.
	DecisionOverride DecisionAction = "OVERRIDE"
	// DecisionEscalate marks a reassignment to another approver.
	DecisionEscalate DecisionAction = "ESCALATE"
)

// DecisionLog represents a single approval history record.
type DecisionLog struct {
	ID        int64
	ExpenseID uuid.UUID
	ActorID   int64
	Action    DecisionAction
	Note      string
	At        time.Time
}

// DecisionRecorder persists the approval history of expenses.
type DecisionRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDecisionRecorder constructs DecisionRecorder.
func NewDecisionRecorder(pool *pgxpool.Pool, logger *slog.Logger) *DecisionRecorder {
	return &DecisionRecorder{pool: pool, logger: logger}
}

// Record writes a history entry to the database.
func (r *DecisionRecorder) Record(ctx context.Context, log DecisionLog) error {
	if r == nil {
		return errors.New("decision recorder not initialised")
	}
	if log.ActorID == 0 {
		return errors.New("decision actor required")
	}
	if log.ExpenseID == uuid.Nil {
		return errors.New("decision expense id required")
	}
	if log.Action == "" {
		return errors.New("decision action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO decision_history (expense_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`, log.ExpenseID, log.ActorID, string(log.Action), log.Note, log.At)
	if err != nil {
		r.logger.Error("record decision history", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the history for an expense oldest first.
func (r *DecisionRecorder) List(ctx context.Context, expenseID uuid.UUID) ([]DecisionLog, error) {
	if r == nil {
		return nil, errors.New("decision recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, expense_id, actor_id, action, note, at
FROM decision_history WHERE expense_id=$1 ORDER BY at ASC`, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []DecisionLog
	for rows.Next() {
		var l DecisionLog
		var action string
		if err := rows.Scan(&l.ID, &l.ExpenseID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = DecisionAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
