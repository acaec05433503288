package remit

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

type fakeDrawer struct {
	balances map[string]money.Amount
	failNext error
}

func (d *fakeDrawer) ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error) {
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return money.Zero, err
	}
	if d.balances == nil {
		d.balances = make(map[string]money.Amount)
	}
	d.balances[tellerID] = d.balances[tellerID].Add(delta)
	return d.balances[tellerID], nil
}

func newTestService(t *testing.T) (*Service, *fakeDrawer) {
	t.Helper()

	schedule, err := fees.NewSchedule("remit", true, []fees.Band{
		{From: money.Zero, To: money.FromInt(10000000), Flat: money.FromInt(500)},
	})
	require.NoError(t, err)

	shares := fees.Shares{
		SourceBranch:      decimal.RequireFromString("0.4"),
		DestinationBranch: decimal.RequireFromString("0.3"),
		HeadOffice:        decimal.RequireFromString("0.3"),
	}
	splits, err := fees.NewSplitConfig(map[fees.OperationType]map[fees.Channel]fees.Shares{
		fees.OpTransfer: {fees.ChannelCash: shares},
	})
	require.NoError(t, err)

	drawer := &fakeDrawer{}
	return NewService(approval.NewEngine(nil), drawer, schedule, splits), drawer
}

func initiate(t *testing.T, svc *Service, method VerificationMethod) (*Remittance, string) {
	t.Helper()
	remittance, otp, err := svc.Initiate(InitiateRequest{
		Reference:         "RMT-1",
		Sender:            Party{Name: "Samuel Njoya", Phone: "+237650000001"},
		Receiver:          Party{Name: "Rita Ebai", Phone: "+237650000002", IDNumber: "ID-774"},
		Amount:            money.FromInt(50000),
		Channel:           fees.ChannelCash,
		SourceBranch:      "BR-01",
		DestinationBranch: "BR-02",
		Verification:      method,
		TellerID:          "T-SRC",
		Actor:             "teller-alice",
	})
	require.NoError(t, err)
	return remittance, otp
}

func TestInitiateTakesCashAndFee(t *testing.T) {
	svc, drawer := newTestService(t)

	remittance, otp := initiate(t, svc, VerifyOTP)
	assert.Equal(t, StatusInitiated, remittance.Status)
	assert.True(t, remittance.Fee.Total.Equal(money.FromInt(500)))
	require.Len(t, otp, 6)

	// Source drawer holds amount plus fee.
	assert.True(t, drawer.balances["T-SRC"].Equal(money.FromInt(50500)))
}

func TestFullLifecycleWithOTP(t *testing.T) {
	svc, drawer := newTestService(t)
	remittance, otp := initiate(t, svc, VerifyOTP)

	remittance, err := svc.Approve(remittance.ID, "supervisor-bob", "funds verified", true)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, remittance.Status)

	remittance, err = svc.PayOut(PayOutRequest{
		RemittanceID: remittance.ID,
		TellerID:     "T-DST",
		Actor:        "teller-dan",
		OTP:          otp,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOut, remittance.Status)
	assert.Equal(t, "teller-dan", remittance.PaidOutBy)
	require.NotNil(t, remittance.PaidOutAt)

	// Destination drawer paid the principal, fee stays with the system.
	assert.True(t, drawer.balances["T-DST"].Equal(money.FromInt(50000).Neg()))

	// Inter-branch split covers the whole fee exactly.
	assert.True(t, remittance.CommissionSplit.Total().Equal(money.FromInt(500)))
	assert.False(t, remittance.CommissionSplit.DestinationBranch.IsZero())
}

func TestPayOutRejectsWrongOTP(t *testing.T) {
	svc, _ := newTestService(t)
	remittance, otp := initiate(t, svc, VerifyOTP)

	_, err := svc.Approve(remittance.ID, "supervisor-bob", "", true)
	require.NoError(t, err)

	wrong := "000000"
	if otp == wrong {
		wrong = "000001"
	}
	_, err = svc.PayOut(PayOutRequest{
		RemittanceID: remittance.ID,
		TellerID:     "T-DST",
		Actor:        "teller-dan",
		OTP:          wrong,
	})
	assert.ErrorIs(t, err, ErrVerificationFailed)

	got, err := svc.Get(remittance.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status, "failed verification must not advance the state")
}

func TestManualVerificationChecksIDNumber(t *testing.T) {
	svc, _ := newTestService(t)
	remittance, otp := initiate(t, svc, VerifyManual)
	assert.Empty(t, otp)

	_, err := svc.Approve(remittance.ID, "supervisor-bob", "", true)
	require.NoError(t, err)

	_, err = svc.PayOut(PayOutRequest{
		RemittanceID:     remittance.ID,
		TellerID:         "T-DST",
		Actor:            "teller-dan",
		ReceiverIDNumber: "ID-999",
	})
	assert.ErrorIs(t, err, ErrVerificationFailed)

	paid, err := svc.PayOut(PayOutRequest{
		RemittanceID:     remittance.ID,
		TellerID:         "T-DST",
		Actor:            "teller-dan",
		ReceiverIDNumber: "ID-774",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOut, paid.Status)
}

func TestPayOutRetryableAfterDrawerFailure(t *testing.T) {
	svc, drawer := newTestService(t)
	remittance, otp := initiate(t, svc, VerifyOTP)

	_, err := svc.Approve(remittance.ID, "supervisor-bob", "", true)
	require.NoError(t, err)

	payout := PayOutRequest{
		RemittanceID: remittance.ID,
		TellerID:     "T-DST",
		Actor:        "teller-dan",
		OTP:          otp,
	}

	drawer.failNext = errors.New("drawer limit exceeded")
	_, err = svc.PayOut(payout)
	require.Error(t, err)

	// The failed cash leg must not consume the approval: the remittance is
	// still Approved and a retry completes the payout.
	got, err := svc.Get(remittance.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)

	paid, err := svc.PayOut(payout)
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOut, paid.Status)
	assert.True(t, drawer.balances["T-DST"].Equal(money.FromInt(50000).Neg()))
}

func TestRejectionRefundsSender(t *testing.T) {
	svc, drawer := newTestService(t)
	remittance, _ := initiate(t, svc, VerifyOTP)

	remittance, err := svc.Approve(remittance.ID, "supervisor-bob", "suspicious", false)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, remittance.Status)

	// Amount plus fee returned out of the source drawer.
	assert.True(t, drawer.balances["T-SRC"].IsZero())

	// A rejected remittance cannot be paid out.
	_, err = svc.PayOut(PayOutRequest{RemittanceID: remittance.ID, TellerID: "T-DST", Actor: "teller-dan"})
	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestMakerCheckerOnApproval(t *testing.T) {
	svc, _ := newTestService(t)
	remittance, _ := initiate(t, svc, VerifyOTP)

	_, err := svc.Approve(remittance.ID, "teller-alice", "", true)
	assert.ErrorIs(t, err, approval.ErrMakerChecker)
}

func TestInitiateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Initiate(InitiateRequest{Reference: "R", Sender: Party{Name: "a"}, Receiver: Party{Name: "b"},
		Amount: money.Zero, Verification: VerifyOTP, Actor: "x"})
	require.Error(t, err)

	_, _, err = svc.Initiate(InitiateRequest{Reference: "R", Sender: Party{Name: "a"}, Receiver: Party{Name: "b"},
		Amount: money.FromInt(100), Verification: VerifyManual, Actor: "x"})
	require.Error(t, err, "manual verification without receiver id must fail")
}
