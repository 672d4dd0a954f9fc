package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/platform/db"
	"github.com/expenseflow/expenseflow/internal/rbac"
)

// Repository persists users in Postgres. It also owns the registration
// transaction that creates a company together with its first admin.
type Repository struct {
	pool      *pgxpool.Pool
	companies *company.Repository
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool, companies *company.Repository) *Repository {
	return &Repository{pool: pool, companies: companies}
}

const userColumns = `id, company_id, name, email, role, COALESCE(manager_id, 0), is_active, password_hash, created_at, updated_at`

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (company_id, name, email, role, manager_id, is_active, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7, NOW(), NOW())
RETURNING `+userColumns,
		u.CompanyID, u.Name, u.Email, string(u.Role), u.ManagerID, u.IsActive, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return User{}, mapInsertError(err)
	}
	return created, nil
}

// CreateWithCompany runs the registration transaction: the company row and
// its first administrator commit together or not at all.
func (r *Repository) CreateWithCompany(ctx context.Context, comp company.Company, admin User) (company.Company, User, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		companyID, err := r.companies.CreateTx(ctx, tx, comp)
		if err != nil {
			return err
		}
		comp.ID = companyID
		admin.CompanyID = companyID
		row := tx.QueryRow(ctx, `INSERT INTO users (company_id, name, email, role, manager_id, is_active, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULL, TRUE, $5, NOW(), NOW())
RETURNING `+userColumns,
			admin.CompanyID, admin.Name, admin.Email, string(admin.Role), admin.PasswordHash)
		admin, err = scanUser(row)
		return err
	})
	if err != nil {
		return company.Company{}, User{}, mapInsertError(err)
	}
	return comp, admin, nil
}

// Get returns one user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

// GetByEmail returns one user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email)
	return scanUser(row)
}

// List returns every user of a company.
func (r *Repository) List(ctx context.Context, companyID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE company_id=$1 ORDER BY name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("identity: list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// Team returns the active direct reports of a manager.
func (r *Repository) Team(ctx context.Context, managerID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE manager_id=$1 AND is_active ORDER BY name`, managerID)
	if err != nil {
		return nil, fmt.Errorf("identity: list team: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// UpdateRole changes a user's role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, id, role)
	if err != nil {
		return fmt.Errorf("identity: update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetManager changes a user's manager. Zero clears it.
func (r *Repository) SetManager(ctx context.Context, id, managerID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET manager_id=NULLIF($2, 0), updated_at=NOW() WHERE id=$1`, id, managerID)
	if err != nil {
		return fmt.Errorf("identity: set manager: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate disables a user account.
func (r *Repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("identity: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ManagerOf returns the manager id of a user, zero when none exists.
func (r *Repository) ManagerOf(ctx context.Context, userID int64) (int64, error) {
	var managerID int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(manager_id, 0) FROM users WHERE id=$1`, userID).Scan(&managerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("identity: manager lookup: %w", err)
	}
	return managerID, nil
}

// AdminOf returns the oldest active administrator of a company.
func (r *Repository) AdminOf(ctx context.Context, companyID int64) (int64, error) {
	var adminID int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE company_id=$1 AND role='ADMIN' AND is_active ORDER BY created_at LIMIT 1`, companyID).Scan(&adminID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("identity: admin lookup: %w", err)
	}
	return adminID, nil
}

// ActiveMember reports whether the user is an active member of the company.
func (r *Repository) ActiveMember(ctx context.Context, companyID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1 AND company_id=$2 AND is_active)`, userID, companyID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("identity: membership lookup: %w", err)
	}
	return ok, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &role, &u.ManagerID, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: scan user: %w", err)
	}
	u.Role = rbac.Role(role)
	return u, nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}
