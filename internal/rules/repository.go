package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for approval rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, company_id, name, description, amount_threshold, categories, mode, slots, manager_first, override, is_active, created_at, updated_at`

// Get returns one rule by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (ApprovalRule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM approval_rules WHERE id=$1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApprovalRule{}, ErrNotFound
		}
		return ApprovalRule{}, err
	}
	return rule, nil
}

// ListActive returns the active rules for a company scope.
func (r *Repository) ListActive(ctx context.Context, companyID int64) ([]ApprovalRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM approval_rules WHERE company_id=$1 AND is_active ORDER BY created_at DESC`, companyID)
}

// List returns all rules for a company scope, newest first.
func (r *Repository) List(ctx context.Context, companyID int64) ([]ApprovalRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM approval_rules WHERE company_id=$1 ORDER BY created_at DESC`, companyID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]ApprovalRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new rule.
func (r *Repository) Create(ctx context.Context, rule ApprovalRule) error {
	categories, slots, override, err := marshalRule(rule)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO approval_rules
(id, company_id, name, description, amount_threshold, categories, mode, slots, manager_first, override, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rule.ID, rule.CompanyID, rule.Name, rule.Description, rule.Conditions.AmountThreshold,
		categories, string(rule.Mode), slots, rule.ManagerFirst, override, rule.IsActive,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

// Update replaces the mutable fields of an existing rule.
func (r *Repository) Update(ctx context.Context, rule ApprovalRule) error {
	categories, slots, override, err := marshalRule(rule)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE approval_rules SET
name=$2, description=$3, amount_threshold=$4, categories=$5, mode=$6, slots=$7, manager_first=$8, override=$9, is_active=$10, updated_at=$11
WHERE id=$1`,
		rule.ID, rule.Name, rule.Description, rule.Conditions.AmountThreshold,
		categories, string(rule.Mode), slots, rule.ManagerFirst, override, rule.IsActive, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate removes the rule from future matching without touching
// instances that already snapshotted it.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE approval_rules SET is_active=false, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalRule(rule ApprovalRule) (categories, slots, override []byte, err error) {
	categories, err = json.Marshal(rule.Conditions.Categories)
	if err != nil {
		return nil, nil, nil, err
	}
	slots, err = json.Marshal(rule.Slots)
	if err != nil {
		return nil, nil, nil, err
	}
	if rule.Override != nil {
		override, err = json.Marshal(rule.Override)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return categories, slots, override, nil
}

func scanRule(row pgx.Row) (ApprovalRule, error) {
	var rule ApprovalRule
	var mode string
	var categories, slots []byte
	var override []byte
	if err := row.Scan(&rule.ID, &rule.CompanyID, &rule.Name, &rule.Description,
		&rule.Conditions.AmountThreshold, &categories, &mode, &slots,
		&rule.ManagerFirst, &override, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return ApprovalRule{}, err
	}
	rule.Mode = FlowMode(mode)
	if err := json.Unmarshal(categories, &rule.Conditions.Categories); err != nil {
		return ApprovalRule{}, err
	}
	if err := json.Unmarshal(slots, &rule.Slots); err != nil {
		return ApprovalRule{}, err
	}
	if len(override) > 0 {
		var policy OverridePolicy
		if err := json.Unmarshal(override, &policy); err != nil {
			return ApprovalRule{}, err
		}
		rule.Override = &policy
	}
	return rule, nil
}
