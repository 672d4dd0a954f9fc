package flow

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/rules"
)

// Instantiate builds a concrete flow instance from a matched rule. The
// rule's template is copied, every step starts PENDING. When the rule asks
// for manager-first approval, managerID must resolve to the submitter's
// manager; a zero managerID fails with ErrManagerNotFound and nothing is
// persisted by the caller.
func Instantiate(expenseID uuid.UUID, companyID int64, rule rules.ApprovalRule, managerID int64) (Instance, error) {
	steps := make([]Step, 0, len(rule.Slots)+1)
	for _, slot := range rule.Slots {
		steps = append(steps, Step{
			ApproverID: slot.ApproverID,
			Order:      slot.Order,
			IsRequired: slot.IsRequired,
			Status:     StepPending,
		})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	if rule.ManagerFirst {
		if managerID == 0 {
			return Instance{}, ErrManagerNotFound
		}
		for i := range steps {
			steps[i].Order++
		}
		steps = append([]Step{{
			ApproverID:    managerID,
			Order:         0,
			IsRequired:    true,
			IsManagerStep: true,
			Status:        StepPending,
		}}, steps...)
	}

	currentIndex := -1
	if rule.Mode == rules.ModeSequential {
		currentIndex = 0
	}

	var override *rules.OverridePolicy
	if rule.Override != nil {
		copied := *rule.Override
		copied.SpecificApproverIDs = append([]int64(nil), rule.Override.SpecificApproverIDs...)
		override = &copied
	}

	now := time.Now()
	return Instance{
		ID:            uuid.New(),
		ExpenseID:     expenseID,
		CompanyID:     companyID,
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Mode:          rule.Mode,
		Steps:         steps,
		Override:      override,
		OverallStatus: InstancePending,
		CurrentIndex:  currentIndex,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
