package company

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists companies in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const companyColumns = `id, name, country, reporting_currency, settings, created_at, updated_at`

// Get returns one company by id.
func (r *Repository) Get(ctx context.Context, id int64) (Company, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=$1`, id)
	return scanCompany(row)
}

// CreateTx inserts a company inside an existing transaction. Used during
// registration where the company and its first admin commit together.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, c Company) (int64, error) {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return 0, fmt.Errorf("company: marshal settings: %w", err)
	}
	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO companies (name, country, reporting_currency, settings, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id`,
		c.Name, c.Country, c.ReportingCurrency, settings).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("company: insert: %w", err)
	}
	return id, nil
}

// UpdateSettings replaces the settings document.
func (r *Repository) UpdateSettings(ctx context.Context, id int64, s Settings) error {
	settings, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("company: marshal settings: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET settings=$2, updated_at=NOW() WHERE id=$1`, id, settings)
	if err != nil {
		return fmt.Errorf("company: update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCompany(row pgx.Row) (Company, error) {
	var (
		c        Company
		settings []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.ReportingCurrency, &settings, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, fmt.Errorf("company: scan: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &c.Settings); err != nil {
			return Company{}, fmt.Errorf("company: decode settings: %w", err)
		}
	}
	return c, nil
}
