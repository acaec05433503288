package remit

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

const workflowKindRemittance = "remittance"

// CashDrawer moves cash through a teller drawer at initiation and payout.
type CashDrawer interface {
	ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error)
}

type remitState struct {
	remittance     Remittance
	otpHash        string
	sourceTellerID string
}

// Service runs the remittance lifecycle. Maker-checker runs through the
// approval engine: the initiating teller cannot approve or pay out their
// own remittance.
type Service struct {
	mu        sync.Mutex
	remits    map[string]*remitState
	approvals *approval.Engine
	drawers   CashDrawer
	schedule  *fees.Schedule
	splits    *fees.SplitConfig
}

// NewService creates a remittance service. schedule may be nil for fee-free
// corridors.
func NewService(approvals *approval.Engine, drawers CashDrawer, schedule *fees.Schedule, splits *fees.SplitConfig) *Service {
	return &Service{
		remits:    make(map[string]*remitState),
		approvals: approvals,
		drawers:   drawers,
		schedule:  schedule,
		splits:    splits,
	}
}

// InitiateRequest captures a new remittance at the source counter.
type InitiateRequest struct {
	Reference         string
	Sender            Party
	Receiver          Party
	Amount            money.Amount
	Channel           fees.Channel
	SourceBranch      string
	DestinationBranch string
	Verification      VerificationMethod
	TellerID          string
	Actor             string
}

// Initiate records a remittance, takes the sender's cash plus fee into the
// source drawer and opens the approval workflow. For OTP verification the
// one-time code is returned exactly once, for delivery to the receiver.
func (s *Service) Initiate(req InitiateRequest) (*Remittance, string, error) {
	if req.Reference == "" || req.Sender.Name == "" || req.Receiver.Name == "" {
		return nil, "", fmt.Errorf("reference, sender and receiver are required")
	}
	if !req.Amount.IsPositive() {
		return nil, "", fmt.Errorf("remittance amount must be positive")
	}
	if req.Verification != VerifyOTP && req.Verification != VerifyManual {
		return nil, "", fmt.Errorf("unknown verification method %q", req.Verification)
	}
	if req.Verification == VerifyManual && req.Receiver.IDNumber == "" {
		return nil, "", fmt.Errorf("manual verification requires the receiver id number")
	}

	charge := fees.Charge{Flat: money.Zero, RateBased: money.Zero, Total: money.Zero}
	if s.schedule != nil {
		charge = s.schedule.Charge(req.Amount)
	}

	// Sender hands over amount plus fee in cash.
	if _, err := s.drawers.ApplyCash(req.TellerID, req.Amount.Add(charge.Total), fees.OpDeposit); err != nil {
		return nil, "", err
	}

	remittance := Remittance{
		ID:                uuid.New().String(),
		Reference:         req.Reference,
		Sender:            req.Sender,
		Receiver:          req.Receiver,
		Amount:            req.Amount,
		Fee:               charge,
		Channel:           req.Channel,
		SourceBranch:      req.SourceBranch,
		DestinationBranch: req.DestinationBranch,
		Verification:      req.Verification,
		Status:            StatusInitiated,
		InitiatedBy:       req.Actor,
		InitiatedAt:       time.Now().UTC(),
	}

	flow, err := s.approvals.Start(workflowKindRemittance, remittance.ID, req.Actor, "remittance initiation")
	if err != nil {
		return nil, "", err
	}
	remittance.WorkflowID = flow.ID

	var otp string
	state := &remitState{remittance: remittance, sourceTellerID: req.TellerID}
	if req.Verification == VerifyOTP {
		otp, err = generateOTP()
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate OTP: %w", err)
		}
		state.otpHash = hashOTP(otp)
	}

	s.mu.Lock()
	s.remits[remittance.ID] = state
	s.mu.Unlock()

	out := remittance
	return &out, otp, nil
}

// Approve records the second-stage decision. A refusal terminates the
// remittance Rejected; the sender's cash is returned through the drawer.
func (s *Service) Approve(remittanceID, actor, comment string, accepted bool) (*Remittance, error) {
	s.mu.Lock()
	state, ok := s.remits[remittanceID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRemittanceNotFound, remittanceID)
	}
	if state.remittance.Status != StatusInitiated {
		status := state.remittance.Status
		s.mu.Unlock()
		return nil, &StateError{RemittanceID: remittanceID, Status: status, Op: "approve"}
	}
	workflowID := state.remittance.WorkflowID
	s.mu.Unlock()

	flow, err := s.approvals.Validate(workflowID, actor, comment, accepted)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if flow.State == approval.StateRejected {
		state.remittance.Status = StatusRejected
	} else {
		state.remittance.Status = StatusApproved
		state.remittance.ApprovedBy = actor
	}
	out := state.remittance
	refundTeller := state.sourceTellerID
	s.mu.Unlock()

	if out.Status == StatusRejected {
		refund := out.Amount.Add(out.Fee.Total)
		if _, err := s.drawers.ApplyCash(refundTeller, refund.Neg(), fees.OpWithdrawal); err != nil {
			return nil, fmt.Errorf("sender refund drawer leg failed: %w", err)
		}
	}
	return &out, nil
}

// PayOutRequest identifies the collecting receiver at the destination
// counter.
type PayOutRequest struct {
	RemittanceID     string
	TellerID         string
	Actor            string
	OTP              string
	ReceiverIDNumber string
	Comment          string
}

// PayOut verifies the receiver, completes the approval chain, pays the cash
// out of the destination drawer and fixes the commission split.
func (s *Service) PayOut(req PayOutRequest) (*Remittance, error) {
	s.mu.Lock()
	state, ok := s.remits[req.RemittanceID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRemittanceNotFound, req.RemittanceID)
	}
	if state.remittance.Status != StatusApproved {
		status := state.remittance.Status
		s.mu.Unlock()
		return nil, &StateError{RemittanceID: req.RemittanceID, Status: status, Op: "pay out"}
	}
	remittance := state.remittance
	otpHash := state.otpHash
	s.mu.Unlock()

	switch remittance.Verification {
	case VerifyOTP:
		if subtle.ConstantTimeCompare([]byte(hashOTP(req.OTP)), []byte(otpHash)) != 1 {
			return nil, fmt.Errorf("%w: OTP mismatch", ErrVerificationFailed)
		}
	case VerifyManual:
		if req.ReceiverIDNumber == "" || req.ReceiverIDNumber != remittance.Receiver.IDNumber {
			return nil, fmt.Errorf("%w: id number mismatch", ErrVerificationFailed)
		}
	}

	var split fees.Split
	if remittance.Fee.Total.IsPositive() && s.splits != nil {
		shares, err := s.splits.SharesFor(fees.OpTransfer, remittance.Channel)
		if err != nil {
			return nil, err
		}
		interBranch := remittance.DestinationBranch != remittance.SourceBranch
		split = fees.ComputeSplit(remittance.Fee.Total, shares, interBranch)
	}

	// The drawer leg runs before the terminal approval record: a drawer
	// failure leaves the remittance Approved and the payout retryable.
	if err := s.approvals.CanApprove(remittance.WorkflowID, req.Actor); err != nil {
		return nil, err
	}
	if _, err := s.drawers.ApplyCash(req.TellerID, remittance.Amount.Neg(), fees.OpWithdrawal); err != nil {
		return nil, fmt.Errorf("payout drawer leg failed: %w", err)
	}
	if _, err := s.approvals.Approve(remittance.WorkflowID, req.Actor, req.Comment, true); err != nil {
		if _, rerr := s.drawers.ApplyCash(req.TellerID, remittance.Amount, fees.OpDeposit); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("drawer restore failed: %w", rerr))
		}
		return nil, err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	state.remittance.Status = StatusPaidOut
	state.remittance.PaidOutBy = req.Actor
	state.remittance.PaidOutAt = &now
	state.remittance.CommissionSplit = split
	out := state.remittance
	return &out, nil
}

// Get returns a snapshot of a remittance.
func (s *Service) Get(remittanceID string) (*Remittance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.remits[remittanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRemittanceNotFound, remittanceID)
	}
	out := state.remittance
	return &out, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashOTP(otp string) string {
	sum := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(sum[:])
}
