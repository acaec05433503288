package approval

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullApprovalChain(t *testing.T) {
	engine := NewEngine(nil)

	flow, err := engine.Start("reversal", "txn-1", "teller-a", "duplicate posting")
	require.NoError(t, err)
	assert.Equal(t, StatePending, flow.State)

	flow, err = engine.Validate(flow.ID, "supervisor-b", "checked against receipt", true)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, flow.State)

	flow, err = engine.Approve(flow.ID, "accountant-c", "", true)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, flow.State)
	assert.Len(t, flow.Steps, 2)

	ok, err := engine.VerifyChain(flow.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRejectionIsTerminal(t *testing.T) {
	engine := NewEngine(nil)

	flow, err := engine.Start("replenishment", "teller-9", "teller-a", "drawer low")
	require.NoError(t, err)

	flow, err = engine.Validate(flow.ID, "supervisor-b", "amount looks wrong", false)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, flow.State)

	_, err = engine.Approve(flow.ID, "accountant-c", "", true)
	require.Error(t, err)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateRejected, invalid.State)
}

func TestMakerCheckerEnforced(t *testing.T) {
	engine := NewEngine(nil)

	flow, err := engine.Start("vault-movement", "mv-1", "teller-a", "")
	require.NoError(t, err)

	_, err = engine.Validate(flow.ID, "teller-a", "self-approve attempt", true)
	assert.ErrorIs(t, err, ErrMakerChecker)
}

func TestAuthorizerConsulted(t *testing.T) {
	denied := errors.New("not a custodian")
	engine := NewEngine(func(stage Stage, actor, kind, id string) error {
		if actor != "custodian-x" {
			return denied
		}
		return nil
	})

	flow, err := engine.Start("vault-movement", "mv-2", "teller-a", "")
	require.NoError(t, err)

	_, err = engine.Validate(flow.ID, "random-user", "", true)
	assert.ErrorIs(t, err, denied)

	_, err = engine.Validate(flow.ID, "custodian-x", "", true)
	require.NoError(t, err)
}

func TestApproveRequiresValidation(t *testing.T) {
	engine := NewEngine(nil)

	flow, err := engine.Start("reversal", "txn-2", "teller-a", "")
	require.NoError(t, err)

	_, err = engine.Approve(flow.ID, "accountant-c", "", true)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StageApprove, invalid.Stage)
	assert.Equal(t, StatePending, invalid.State)
}

func TestCanApproveChecksWithoutRecording(t *testing.T) {
	engine := NewEngine(nil)

	flow, err := engine.Start("reversal", "txn-3", "teller-a", "")
	require.NoError(t, err)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, engine.CanApprove(flow.ID, "accountant-c"), &invalid)
	assert.Equal(t, StatePending, invalid.State)

	_, err = engine.Validate(flow.ID, "supervisor-b", "", true)
	require.NoError(t, err)

	assert.ErrorIs(t, engine.CanApprove(flow.ID, "teller-a"), ErrMakerChecker)
	require.NoError(t, engine.CanApprove(flow.ID, "accountant-c"))

	// The pre-check records nothing: the workflow is still Validated with
	// only the validation step on the chain.
	got, err := engine.Get(flow.ID)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, got.State)
	assert.Len(t, got.Steps, 1)

	assert.ErrorIs(t, engine.CanApprove("missing", "accountant-c"), ErrNotFound)
}

func TestUnknownWorkflow(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.Validate("missing", "actor", "", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
