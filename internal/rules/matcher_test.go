package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func rule(name string, threshold float64, categories []string, created time.Time) ApprovalRule {
	return ApprovalRule{
		ID:         uuid.New(),
		Name:       name,
		Conditions: Conditions{AmountThreshold: threshold, Categories: categories},
		Mode:       ModeSequential,
		Slots:      []ApproverSlot{{ApproverID: 1, Order: 1, IsRequired: true}},
		IsActive:   true,
		CreatedAt:  created,
	}
}

func TestMatchPrefersHighestThreshold(t *testing.T) {
	base := time.Now()
	ruleSet := []ApprovalRule{
		rule("all expenses", 0, nil, base),
		rule("high value", 1000, []string{"Travel", "Equipment"}, base),
	}

	matched, err := Match(1500, "Travel", ruleSet)
	require.NoError(t, err)
	require.Equal(t, "high value", matched.Name)

	// Below the specific threshold only the catch-all applies.
	matched, err = Match(500, "Travel", ruleSet)
	require.NoError(t, err)
	require.Equal(t, "all expenses", matched.Name)
}

func TestMatchCategoryFilter(t *testing.T) {
	ruleSet := []ApprovalRule{rule("travel only", 100, []string{"Travel"}, time.Now())}

	_, err := Match(500, "Meals", ruleSet)
	require.ErrorIs(t, err, ErrNoMatchingRule)

	matched, err := Match(500, "Travel", ruleSet)
	require.NoError(t, err)
	require.Equal(t, "travel only", matched.Name)
}

func TestMatchTieBreakByCreation(t *testing.T) {
	base := time.Now()
	older := rule("older", 1000, nil, base.Add(-time.Hour))
	newer := rule("newer", 1000, nil, base)

	matched, err := Match(2000, "Supplies", []ApprovalRule{older, newer})
	require.NoError(t, err)
	require.Equal(t, "newer", matched.Name)
}

func TestMatchSkipsInactive(t *testing.T) {
	inactive := rule("inactive", 0, nil, time.Now())
	inactive.IsActive = false

	_, err := Match(100, "Meals", []ApprovalRule{inactive})
	require.ErrorIs(t, err, ErrNoMatchingRule)
}

func TestMatchThresholdInclusive(t *testing.T) {
	ruleSet := []ApprovalRule{rule("exact", 1000, nil, time.Now())}
	matched, err := Match(1000, "Travel", ruleSet)
	require.NoError(t, err)
	require.Equal(t, "exact", matched.Name)
}
