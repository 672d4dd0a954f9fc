package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validRule() ApprovalRule {
	return ApprovalRule{
		Name: "standard",
		Mode: ModeSequential,
		Slots: []ApproverSlot{
			{ApproverID: 2, Order: 1, IsRequired: true},
			{ApproverID: 1, Order: 2, IsRequired: false},
		},
	}
}

func TestValidateAcceptsWellFormedRule(t *testing.T) {
	require.NoError(t, validRule().Validate())
}

func TestValidateRejectsDuplicateSequentialOrders(t *testing.T) {
	r := validRule()
	r.Slots[1].Order = 1
	require.ErrorIs(t, r.Validate(), ErrInvalidRule)
}

func TestValidateAllowsDuplicateOrdersInParallel(t *testing.T) {
	r := validRule()
	r.Mode = ModeParallel
	r.Slots[1].Order = 1
	require.NoError(t, r.Validate())
}

func TestValidateRejectsPercentageOutOfRange(t *testing.T) {
	r := validRule()
	r.Override = &OverridePolicy{PercentageThreshold: 120}
	require.ErrorIs(t, r.Validate(), ErrInvalidRule)
}

func TestValidateRejectsEmptyOverride(t *testing.T) {
	r := validRule()
	r.Override = &OverridePolicy{}
	require.ErrorIs(t, r.Validate(), ErrInvalidRule)
}

func TestValidateRejectsEmptyFlowWithoutManager(t *testing.T) {
	r := validRule()
	r.Slots = nil
	require.ErrorIs(t, r.Validate(), ErrInvalidRule)

	r.ManagerFirst = true
	require.NoError(t, r.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	r := validRule()
	r.Mode = "ROUND_ROBIN"
	require.ErrorIs(t, r.Validate(), ErrInvalidRule)
}
