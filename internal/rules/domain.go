// Package rules stores approval rule definitions and selects the rule
// applicable to a submitted expense.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlowMode determines how approver steps are evaluated.
type FlowMode string

const (
	// ModeSequential activates steps one at a time in slot order.
	ModeSequential FlowMode = "SEQUENTIAL"
	// ModeParallel makes every step actionable at once.
	ModeParallel FlowMode = "PARALLEL"
)

// Sequential reports whether the mode evaluates steps in slot order.
func (m FlowMode) Sequential() bool {
	return m == ModeSequential
}

// ApproverSlot is one position in a rule's flow template.
type ApproverSlot struct {
	ApproverID int64 `json:"approver_id"`
	Order      int   `json:"order"`
	IsRequired bool  `json:"is_required"`
}

// OverridePolicy short-circuits the remaining flow when either condition
// holds: the approved share reaches PercentageThreshold, or any approver in
// SpecificApproverIDs approves.
type OverridePolicy struct {
	PercentageThreshold int     `json:"percentage_threshold"`
	SpecificApproverIDs []int64 `json:"specific_approver_ids"`
}

// Conditions gate which expenses a rule applies to. AmountThreshold is an
// inclusive lower bound in the company reporting currency; an empty category
// set matches every category.
type Conditions struct {
	AmountThreshold float64  `json:"amount_threshold"`
	Categories      []string `json:"categories"`
}

// ApprovalRule is the reusable definition an administrator maintains.
// In-flight flow instances snapshot the template, so edits here only affect
// future instantiations.
type ApprovalRule struct {
	ID           uuid.UUID
	CompanyID    int64
	Name         string
	Description  string
	Conditions   Conditions
	Mode         FlowMode
	Slots        []ApproverSlot
	ManagerFirst bool
	Override     *OverridePolicy
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrInvalidRule indicates the definition failed save-time validation.
	ErrInvalidRule = errors.New("rules: invalid rule definition")
	// ErrNoMatchingRule indicates no rule covers the expense.
	ErrNoMatchingRule = errors.New("rules: no matching rule")
	// ErrNotFound indicates the rule record is missing.
	ErrNotFound = errors.New("rules: not found")
)

// Validate checks the definition before persistence.
func (r ApprovalRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidRule)
	}
	switch r.Mode {
	case ModeSequential, ModeParallel:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRule, r.Mode)
	}
	if len(r.Slots) == 0 && !r.ManagerFirst {
		return fmt.Errorf("%w: flow template needs at least one approver", ErrInvalidRule)
	}
	if r.Conditions.AmountThreshold < 0 {
		return fmt.Errorf("%w: amount threshold must not be negative", ErrInvalidRule)
	}
	seen := make(map[int]struct{}, len(r.Slots))
	for _, slot := range r.Slots {
		if slot.ApproverID == 0 {
			return fmt.Errorf("%w: slot approver required", ErrInvalidRule)
		}
		if slot.Order <= 0 {
			return fmt.Errorf("%w: slot order must be positive", ErrInvalidRule)
		}
		if _, dup := seen[slot.Order]; dup && r.Mode == ModeSequential {
			return fmt.Errorf("%w: duplicate order %d", ErrInvalidRule, slot.Order)
		}
		seen[slot.Order] = struct{}{}
	}
	if r.Override != nil {
		if r.Override.PercentageThreshold < 0 || r.Override.PercentageThreshold > 100 {
			return fmt.Errorf("%w: percentage threshold outside 0-100", ErrInvalidRule)
		}
		if r.Override.PercentageThreshold == 0 && len(r.Override.SpecificApproverIDs) == 0 {
			return fmt.Errorf("%w: override policy is empty", ErrInvalidRule)
		}
	}
	return nil
}

// AppliesTo reports whether the rule's conditions cover the expense.
func (r ApprovalRule) AppliesTo(normalizedAmount float64, category string) bool {
	if !r.IsActive {
		return false
	}
	if normalizedAmount < r.Conditions.AmountThreshold {
		return false
	}
	if len(r.Conditions.Categories) == 0 {
		return true
	}
	for _, c := range r.Conditions.Categories {
		if c == category {
			return true
		}
	}
	return false
}
