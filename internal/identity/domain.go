// Package identity manages users, credentials and the reporting hierarchy.
package identity

import (
	"errors"
	"time"

	"github.com/expenseflow/expenseflow/internal/rbac"
)

// User is an account inside one company. ManagerID is zero when the user
// has no manager.
type User struct {
	ID           int64     `json:"id"`
	CompanyID    int64     `json:"company_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         rbac.Role `json:"role"`
	ManagerID    int64     `json:"manager_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the user record is missing.
	ErrNotFound = errors.New("identity: user not found")
	// ErrEmailTaken indicates a duplicate email within the company.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUserInactive indicates the account was deactivated.
	ErrUserInactive = errors.New("identity: user deactivated")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("identity: invalid role")
)
