package drawer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

func cash(t *testing.T, total int64) money.DenominationSet {
	t.Helper()
	set, err := money.NewDenominationSet(
		[]money.Denomination{{Value: money.FromInt(1000), Count: total / 1000}},
		money.FromInt(total),
	)
	require.NoError(t, err)
	return set
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(approval.NewEngine(nil))
	require.NoError(t, svc.RegisterTeller(Teller{
		ID:           "T-1",
		BranchID:     "BR-01",
		AssignedUser: "alice",
		Limits: map[fees.OperationType]BalanceLimit{
			fees.OpWithdrawal: {Min: money.FromInt(10000)},
			fees.OpDeposit:    {Max: money.FromInt(500000)},
		},
	}))
	return svc
}

func TestOpenSession(t *testing.T) {
	svc := newTestService(t)

	session, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, session.State)
	assert.True(t, session.Balance.Equal(money.FromInt(100000)))

	// Cannot open twice.
	_, err = svc.OpenSession("T-1", cash(t, 50000), "alice")
	var stateErr *SessionStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateOpen, stateErr.State)
}

func TestOpenSessionAuthorization(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.OpenSession("T-1", cash(t, 100000), "mallory")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.OpenSession("T-9", cash(t, 100000), "alice")
	assert.ErrorIs(t, err, ErrTellerNotFound)
}

func TestApplyCashLimits(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)

	// Withdrawal that would leave the drawer under its 10,000 floor.
	_, err = svc.ApplyCash("T-1", money.FromInt(95000).Neg(), fees.OpWithdrawal)
	assert.ErrorIs(t, err, ErrDrawerLimitExceeded)

	balance, err := svc.ApplyCash("T-1", money.FromInt(80000).Neg(), fees.OpWithdrawal)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.FromInt(20000)))

	// Deposit that would push past the 500,000 ceiling.
	_, err = svc.ApplyCash("T-1", money.FromInt(490000), fees.OpDeposit)
	assert.ErrorIs(t, err, ErrDrawerLimitExceeded)

	// Drawer can never go negative even without a configured floor.
	_, err = svc.ApplyCash("T-1", money.FromInt(999999).Neg(), fees.OpTransfer)
	assert.ErrorIs(t, err, ErrDrawerLimitExceeded)
}

func TestApplyCashRequiresOpenSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ApplyCash("T-1", money.FromInt(100), fees.OpDeposit)
	var stateErr *SessionStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateUnopened, stateErr.State)
}

func TestCloseConfirmationChain(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)

	_, err = svc.ApplyCash("T-1", money.FromInt(25000), fees.OpDeposit)
	require.NoError(t, err)

	// Declared closing cash is 5,000 short.
	session, err := svc.DeclareClose("T-1", cash(t, 120000), "alice")
	require.NoError(t, err)
	assert.Equal(t, StatePendingClose, session.State)
	assert.True(t, session.Variance.Equal(money.FromInt(5000).Neg()), "variance %s", session.Variance)

	session, err = svc.CountersignClose("T-1", "primary-bob", "count verified", true)
	require.NoError(t, err)
	assert.Equal(t, StatePendingClose, session.State)

	session, err = svc.ConfirmClose("T-1", "accountant-carol", "variance booked", true)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, session.State)
	require.NotNil(t, session.EndedAt)

	history, err := svc.ProvisioningHistory("T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Confirmed)
	assert.True(t, history[0].Variance.Equal(money.FromInt(5000).Neg()))
	assert.True(t, history[0].BalanceAtHand.Equal(money.FromInt(120000)))
}

func TestCloseRejectionReopensSession(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)

	_, err = svc.DeclareClose("T-1", cash(t, 90000), "alice")
	require.NoError(t, err)

	session, err := svc.CountersignClose("T-1", "primary-bob", "recount required", false)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, session.State)
	assert.Nil(t, session.Closing)

	// The teller corrects the count and declares again.
	_, err = svc.DeclareClose("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)
	_, err = svc.CountersignClose("T-1", "primary-bob", "", true)
	require.NoError(t, err)
	session, err = svc.ConfirmClose("T-1", "accountant-carol", "", true)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, session.State)
}

func TestMakerCheckerOnConfirmationChain(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)
	_, err = svc.DeclareClose("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)

	// The declaring teller cannot countersign their own close.
	_, err = svc.CountersignClose("T-1", "alice", "", true)
	assert.ErrorIs(t, err, approval.ErrMakerChecker)
}

func TestReopenNextDayCarriesPreviousBalance(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)
	_, err = svc.DeclareClose("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)
	_, err = svc.CountersignClose("T-1", "primary-bob", "", true)
	require.NoError(t, err)
	_, err = svc.ConfirmClose("T-1", "accountant-carol", "", true)
	require.NoError(t, err)

	_, err = svc.OpenSession("T-1", cash(t, 80000), "alice")
	require.NoError(t, err)

	history, err := svc.ProvisioningHistory("T-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].PreviousBalance.Equal(money.FromInt(100000)))
}

func TestAllSessionsClosed(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RegisterTeller(Teller{ID: "T-2", BranchID: "BR-02", AssignedUser: "dave"}))

	// No sessions yet: nothing open.
	require.NoError(t, svc.AllSessionsClosed("BR-01"))

	_, err := svc.OpenSession("T-1", cash(t, 100000), "alice")
	require.NoError(t, err)

	err = svc.AllSessionsClosed("BR-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "T-1")

	// Other branches are unaffected.
	require.NoError(t, svc.AllSessionsClosed("BR-02"))
}
