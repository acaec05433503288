package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

type mockCashMover struct {
	calls []money.Amount
	err   error
}

func (m *mockCashMover) ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error) {
	if m.err != nil {
		return money.Zero, m.err
	}
	m.calls = append(m.calls, delta)
	return delta, nil
}

func newTestVault(t *testing.T, drawers CashMover) *Service {
	t.Helper()
	svc := NewService(drawers, nil)
	require.NoError(t, svc.Register(Vault{
		ID:              "V-1",
		BranchID:        "BR-01",
		MaximumCapacity: money.FromInt(1000000),
		Balance:         money.FromInt(400000),
		Custodians: []Custodian{
			{UserID: "head-henry", IsLeader: true},
			{UserID: "deputy-diane"},
		},
	}))
	return svc
}

func TestRegisterRejectsOverCapacity(t *testing.T) {
	svc := NewService(&mockCashMover{}, nil)
	err := svc.Register(Vault{
		ID:              "V-X",
		BranchID:        "BR-01",
		MaximumCapacity: money.FromInt(100),
		Balance:         money.FromInt(200),
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestMovementToTeller(t *testing.T) {
	mover := &mockCashMover{}
	svc := newTestVault(t, mover)

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(50000), DirectionToTeller, "teller-alice")
	require.NoError(t, err)
	assert.Equal(t, MovementPending, movement.Status)

	movement, err = svc.Approve(movement.ID, "head-henry", "morning float")
	require.NoError(t, err)
	assert.Equal(t, MovementApproved, movement.Status)
	assert.Equal(t, "head-henry", movement.Approver)
	require.NotNil(t, movement.DecidedAt)

	v, err := svc.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(350000)))
	assert.True(t, v.PreviousBalance.Equal(money.FromInt(400000)))

	// The drawer received the matching positive leg.
	require.Len(t, mover.calls, 1)
	assert.True(t, mover.calls[0].Equal(money.FromInt(50000)))

	log, err := svc.OperationLog("V-1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Delta.Equal(money.FromInt(50000).Neg()))
	assert.True(t, log[0].Balance.Equal(money.FromInt(350000)))
}

func TestMovementFromTeller(t *testing.T) {
	mover := &mockCashMover{}
	svc := newTestVault(t, mover)

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(30000), DirectionFromTeller, "teller-alice")
	require.NoError(t, err)
	_, err = svc.Approve(movement.ID, "deputy-diane", "end of day sweep")
	require.NoError(t, err)

	v, err := svc.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(430000)))

	require.Len(t, mover.calls, 1)
	assert.True(t, mover.calls[0].Equal(money.FromInt(30000).Neg()))
}

func TestApproveEnforcesCustodianAndMakerChecker(t *testing.T) {
	svc := newTestVault(t, &mockCashMover{})

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(1000), DirectionToTeller, "head-henry")
	require.NoError(t, err)

	_, err = svc.Approve(movement.ID, "mallory", "")
	assert.ErrorIs(t, err, ErrNotCustodian)

	// The requester cannot approve their own movement.
	_, err = svc.Approve(movement.ID, "head-henry", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maker-checker")

	_, err = svc.Approve(movement.ID, "deputy-diane", "")
	require.NoError(t, err)
}

func TestCapacityCeilingOnInbound(t *testing.T) {
	svc := newTestVault(t, &mockCashMover{})

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(700000), DirectionFromTeller, "teller-alice")
	require.NoError(t, err)

	_, err = svc.Approve(movement.ID, "head-henry", "")
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Nothing moved and the movement is still pending.
	v, err := svc.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(400000)))
}

func TestVaultCannotGoNegative(t *testing.T) {
	svc := newTestVault(t, &mockCashMover{})

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(500000), DirectionToTeller, "teller-alice")
	require.NoError(t, err)

	_, err = svc.Approve(movement.ID, "head-henry", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot release")
}

func TestDrawerFailureLeavesMovementPending(t *testing.T) {
	mover := &mockCashMover{err: errors.New("drawer limit exceeded")}
	svc := newTestVault(t, mover)

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(50000), DirectionToTeller, "teller-alice")
	require.NoError(t, err)

	_, err = svc.Approve(movement.ID, "head-henry", "")
	require.Error(t, err)

	v, err := svc.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(400000)), "vault balance must be untouched")

	// The failed leg left the movement pending; a retry after the drawer
	// recovers succeeds.
	mover.err = nil
	movement, err = svc.Approve(movement.ID, "head-henry", "retry")
	require.NoError(t, err)
	assert.Equal(t, MovementApproved, movement.Status)
}

func TestRejectHasNoBalanceEffect(t *testing.T) {
	mover := &mockCashMover{}
	svc := newTestVault(t, mover)

	movement, err := svc.RequestMovement("V-1", "T-1", money.FromInt(50000), DirectionToTeller, "teller-alice")
	require.NoError(t, err)

	movement, err = svc.Reject(movement.ID, "head-henry", "not today")
	require.NoError(t, err)
	assert.Equal(t, MovementRejected, movement.Status)

	v, err := svc.Get("V-1")
	require.NoError(t, err)
	assert.True(t, v.Balance.Equal(money.FromInt(400000)))
	assert.Empty(t, mover.calls)

	// A decided movement cannot be approved afterwards.
	_, err = svc.Approve(movement.ID, "deputy-diane", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestRequestMovementValidation(t *testing.T) {
	svc := newTestVault(t, &mockCashMover{})

	_, err := svc.RequestMovement("V-1", "T-1", money.Zero, DirectionToTeller, "a")
	require.Error(t, err)

	_, err = svc.RequestMovement("V-1", "T-1", money.FromInt(10), "SIDEWAYS", "a")
	require.Error(t, err)

	_, err = svc.RequestMovement("V-9", "T-1", money.FromInt(10), DirectionToTeller, "a")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}
