package flow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/rules"
)

func TestInstantiateCopiesTemplate(t *testing.T) {
	rule := rules.ApprovalRule{
		ID:   uuid.New(),
		Name: "High Value",
		Mode: rules.ModeSequential,
		Slots: []rules.ApproverSlot{
			{ApproverID: 20, Order: 1, IsRequired: false},
			{ApproverID: 10, Order: 0, IsRequired: true},
		},
		Override: &rules.OverridePolicy{PercentageThreshold: 60, SpecificApproverIDs: []int64{99}},
	}

	in, err := Instantiate(uuid.New(), 1, rule, 0)
	require.NoError(t, err)

	require.Len(t, in.Steps, 2)
	// steps come out ordered regardless of template slot ordering
	assert.Equal(t, int64(10), in.Steps[0].ApproverID)
	assert.Equal(t, int64(20), in.Steps[1].ApproverID)
	assert.Equal(t, StepPending, in.Steps[0].Status)
	assert.Equal(t, 0, in.CurrentIndex)
	assert.Equal(t, InstancePending, in.OverallStatus)
	assert.Equal(t, rule.Name, in.RuleName)

	// override is a deep copy, later rule edits must not leak in
	rule.Override.SpecificApproverIDs[0] = 1
	assert.Equal(t, int64(99), in.Override.SpecificApproverIDs[0])
}

func TestInstantiateManagerFirst(t *testing.T) {
	rule := rules.ApprovalRule{
		ID:           uuid.New(),
		Name:         "Manager Then Finance",
		Mode:         rules.ModeSequential,
		ManagerFirst: true,
		Slots: []rules.ApproverSlot{
			{ApproverID: 10, Order: 0, IsRequired: true},
			{ApproverID: 20, Order: 1, IsRequired: true},
		},
	}

	in, err := Instantiate(uuid.New(), 1, rule, 55)
	require.NoError(t, err)

	require.Len(t, in.Steps, 3)
	assert.Equal(t, int64(55), in.Steps[0].ApproverID)
	assert.True(t, in.Steps[0].IsManagerStep)
	assert.True(t, in.Steps[0].IsRequired)
	assert.Equal(t, 0, in.Steps[0].Order)
	assert.Equal(t, 1, in.Steps[1].Order)
	assert.Equal(t, 2, in.Steps[2].Order)
	assert.Equal(t, int64(55), in.CurrentApprover())
}

func TestInstantiateManagerMissing(t *testing.T) {
	rule := rules.ApprovalRule{
		ID:           uuid.New(),
		Mode:         rules.ModeSequential,
		ManagerFirst: true,
		Slots:        []rules.ApproverSlot{{ApproverID: 10, Order: 0, IsRequired: true}},
	}

	_, err := Instantiate(uuid.New(), 1, rule, 0)
	assert.ErrorIs(t, err, ErrManagerNotFound)
}

func TestInstantiateParallelHasNoPointer(t *testing.T) {
	rule := rules.ApprovalRule{
		ID:   uuid.New(),
		Mode: rules.ModeParallel,
		Slots: []rules.ApproverSlot{
			{ApproverID: 10, Order: 0},
			{ApproverID: 20, Order: 1},
		},
	}

	in, err := Instantiate(uuid.New(), 1, rule, 0)
	require.NoError(t, err)
	assert.Equal(t, -1, in.CurrentIndex)
	assert.True(t, in.ActionableBy(10))
	assert.True(t, in.ActionableBy(20))
}
