package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expenseflow/expenseflow/internal/rules"
)

// Repository provides PostgreSQL backed persistence for flow instances.
// Save enforces optimistic concurrency through the version column, which
// serializes concurrent decisions against the same instance.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const instanceColumns = `id, expense_id, company_id, rule_id, rule_name, mode, steps, override, overall_status, current_index, version, created_at, updated_at`

// Create inserts a fresh instance at version 1.
func (r *Repository) Create(ctx context.Context, in Instance) error {
	steps, override, err := marshalInstance(in)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO flow_instances
(id, expense_id, company_id, rule_id, rule_name, mode, steps, override, overall_status, current_index, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1,$11,$12)`,
		in.ID, in.ExpenseID, in.CompanyID, in.RuleID, in.RuleName, string(in.Mode),
		steps, override, string(in.OverallStatus), in.CurrentIndex, in.CreatedAt, in.UpdatedAt)
	return err
}

// Get returns one instance by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Instance, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM flow_instances WHERE id=$1`, id)
	return scanInstance(row)
}

// GetByExpense returns the newest instance bound to an expense.
func (r *Repository) GetByExpense(ctx context.Context, expenseID uuid.UUID) (Instance, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM flow_instances WHERE expense_id=$1 ORDER BY created_at DESC LIMIT 1`, expenseID)
	return scanInstance(row)
}

// Save persists the instance when nobody else updated it since it was
// loaded. A failed version check surfaces as ErrVersionConflict. The
// override column is immutable after Create and stays out of the UPDATE.
func (r *Repository) Save(ctx context.Context, in Instance) error {
	steps, _, err := marshalInstance(in)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE flow_instances SET
steps=$2, overall_status=$3, current_index=$4, version=version+1, updated_at=$5
WHERE id=$1 AND version=$6`,
		in.ID, steps, string(in.OverallStatus), in.CurrentIndex, in.UpdatedAt, in.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, in.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// ListPendingForApprover returns the pending instances in which the
// approver holds at least one pending step. Sequential actionability is
// filtered by the caller via ActionableBy.
func (r *Repository) ListPendingForApprover(ctx context.Context, approverID int64) ([]Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM flow_instances
WHERE overall_status='PENDING'
AND EXISTS (
  SELECT 1 FROM jsonb_array_elements(steps) AS s
  WHERE (s->>'approver_id')::bigint = $1 AND s->>'status' = 'PENDING'
)
ORDER BY created_at ASC`, approverID)
}

// ListStalePending returns pending instances untouched since the cutoff,
// candidates for escalation.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM flow_instances
WHERE overall_status='PENDING' AND updated_at < $1 ORDER BY updated_at ASC`, cutoff)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Instance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalInstance(in Instance) (steps, override []byte, err error) {
	steps, err = json.Marshal(in.Steps)
	if err != nil {
		return nil, nil, err
	}
	if in.Override != nil {
		override, err = json.Marshal(in.Override)
		if err != nil {
			return nil, nil, err
		}
	}
	return steps, override, nil
}

func scanInstance(row pgx.Row) (Instance, error) {
	var in Instance
	var mode, status string
	var steps, override []byte
	if err := row.Scan(&in.ID, &in.ExpenseID, &in.CompanyID, &in.RuleID, &in.RuleName,
		&mode, &steps, &override, &status, &in.CurrentIndex, &in.Version,
		&in.CreatedAt, &in.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, err
	}
	in.Mode = rules.FlowMode(mode)
	in.OverallStatus = InstanceStatus(status)
	if err := json.Unmarshal(steps, &in.Steps); err != nil {
		return Instance{}, err
	}
	if len(override) > 0 {
		var policy rules.OverridePolicy
		if err := json.Unmarshal(override, &policy); err != nil {
			return Instance{}, err
		}
		in.Override = &policy
	}
	return in, nil
}
