package drawer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

const workflowKindProvisioning = "provisioning-close"

type tellerState struct {
	mu           sync.Mutex
	teller       Teller
	session      *Session
	prevBalance  money.Amount
	provisioning []ProvisioningRecord
}

// Service owns teller drawers, their daily sessions and the provisioning
// confirmation chain. Drawer balance and open/close state mutate only under
// the per-teller lock.
type Service struct {
	mu        sync.Mutex
	tellers   map[string]*tellerState
	approvals *approval.Engine
}

// NewService creates a drawer service. The approval engine runs the
// teller → primary-teller → accountant confirmation chain on close.
func NewService(approvals *approval.Engine) *Service {
	return &Service{
		tellers:   make(map[string]*tellerState),
		approvals: approvals,
	}
}

// RegisterTeller adds a teller position.
func (s *Service) RegisterTeller(teller Teller) error {
	if teller.ID == "" || teller.BranchID == "" {
		return errors.New("teller id and branch id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tellers[teller.ID]; ok {
		return fmt.Errorf("teller %s already registered", teller.ID)
	}
	s.tellers[teller.ID] = &tellerState{teller: teller}
	return nil
}

func (s *Service) state(tellerID string) (*tellerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tellers[tellerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTellerNotFound, tellerID)
	}
	return st, nil
}

// OpenSession starts a teller's daily session with the counted opening cash.
// It requires the prior session (if any) to be Closed and the actor to be
// the teller's assigned user.
func (s *Service) OpenSession(tellerID string, opening money.DenominationSet, actor string) (*Session, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if actor != st.teller.AssignedUser {
		return nil, fmt.Errorf("%w: %s is not assigned to teller %s", ErrNotAuthorized, actor, tellerID)
	}
	if st.session != nil && st.session.State != StateClosed {
		return nil, &SessionStateError{TellerID: tellerID, State: st.session.State, Op: "open session"}
	}

	session := &Session{
		ID:        uuid.New().String(),
		TellerID:  tellerID,
		OpenedBy:  actor,
		StartedAt: time.Now().UTC(),
		Opening:   opening,
		Balance:   opening.Total,
		State:     StateOpen,
	}
	st.session = session
	st.provisioning = append(st.provisioning, ProvisioningRecord{
		ID:              uuid.New().String(),
		SessionID:       session.ID,
		TellerID:        tellerID,
		IsPrimary:       st.teller.IsPrimary,
		OpeningCash:     opening,
		PreviousBalance: st.prevBalance,
		CreatedAt:       session.StartedAt,
	})
	return cloneSession(session), nil
}

// ApplyCash moves cash through the drawer: positive delta for cash in,
// negative for cash out. The resulting balance must stay inside the teller's
// band for the operation type.
func (s *Service) ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return money.Zero, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return s.applyCashLocked(st, delta, op)
}

func (s *Service) applyCashLocked(st *tellerState, delta money.Amount, op fees.OperationType) (money.Amount, error) {
	if st.session == nil || st.session.State != StateOpen {
		state := StateUnopened
		if st.session != nil {
			state = st.session.State
		}
		return money.Zero, &SessionStateError{TellerID: st.teller.ID, State: state, Op: "move cash"}
	}

	next := st.session.Balance.Add(delta)
	if next.IsNegative() {
		return money.Zero, fmt.Errorf("%w: teller %s holds %s, cannot pay out %s",
			ErrDrawerLimitExceeded, st.teller.ID, st.session.Balance, delta.Neg())
	}
	if limit, ok := st.teller.Limits[op]; ok {
		if !limit.Min.IsZero() && next.LessThan(limit.Min) {
			return money.Zero, fmt.Errorf("%w: %s balance %s below minimum %s for %s",
				ErrDrawerLimitExceeded, st.teller.ID, next, limit.Min, op)
		}
		if !limit.Max.IsZero() && limit.Max.LessThan(next) {
			return money.Zero, fmt.Errorf("%w: %s balance %s above maximum %s for %s",
				ErrDrawerLimitExceeded, st.teller.ID, next, limit.Max, op)
		}
	}

	st.session.Balance = next
	return next, nil
}

// DeclareClose is the teller's self-declaration: the closing cash is counted,
// the variance against the running balance recorded, and the confirmation
// chain started. The session waits in PendingClose.
func (s *Service) DeclareClose(tellerID string, closing money.DenominationSet, actor string) (*Session, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if actor != st.teller.AssignedUser {
		return nil, fmt.Errorf("%w: %s is not assigned to teller %s", ErrNotAuthorized, actor, tellerID)
	}
	if st.session == nil || st.session.State != StateOpen {
		state := StateUnopened
		if st.session != nil {
			state = st.session.State
		}
		return nil, &SessionStateError{TellerID: tellerID, State: state, Op: "declare close"}
	}

	flow, err := s.approvals.Start(workflowKindProvisioning, st.session.ID, actor, "session close declaration")
	if err != nil {
		return nil, err
	}

	variance := closing.Total.Sub(st.session.Balance)
	st.session.Closing = &closing
	st.session.Variance = variance
	st.session.State = StatePendingClose
	st.session.WorkflowID = flow.ID
	return cloneSession(st.session), nil
}

// CountersignClose is the primary teller's stage of the confirmation chain.
// A refusal returns the session to Open for correction.
func (s *Service) CountersignClose(tellerID, actor, comment string, accepted bool) (*Session, error) {
	return s.confirmStage(tellerID, actor, comment, accepted, s.approvals.Validate)
}

// ConfirmClose is the accountant's final stage. Acceptance closes the
// session and freezes the provisioning record; refusal reopens the session.
func (s *Service) ConfirmClose(tellerID, actor, comment string, accepted bool) (*Session, error) {
	return s.confirmStage(tellerID, actor, comment, accepted, s.approvals.Approve)
}

func (s *Service) confirmStage(tellerID, actor, comment string, accepted bool, stage func(id, actor, comment string, accepted bool) (*approval.Workflow, error)) (*Session, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session == nil || st.session.State != StatePendingClose {
		state := StateUnopened
		if st.session != nil {
			state = st.session.State
		}
		return nil, &SessionStateError{TellerID: tellerID, State: state, Op: "confirm close"}
	}

	flow, err := stage(st.session.WorkflowID, actor, comment, accepted)
	if err != nil {
		return nil, err
	}

	switch flow.State {
	case approval.StateRejected:
		// Back to Open: the teller corrects the count and declares again
		// with a fresh workflow.
		st.session.State = StateOpen
		st.session.Closing = nil
		st.session.Variance = money.Zero
		st.session.WorkflowID = ""
	case approval.StateApproved:
		now := time.Now().UTC()
		st.session.State = StateClosed
		st.session.EndedAt = &now
		st.prevBalance = st.session.Closing.Total

		rec := &st.provisioning[len(st.provisioning)-1]
		rec.ClosingCash = st.session.Closing
		rec.BalanceAtHand = st.session.Closing.Total
		rec.Variance = st.session.Variance
		rec.Confirmed = true
		rec.CompletedAt = &now
	}
	return cloneSession(st.session), nil
}

// Balance returns the drawer's running cash balance.
func (s *Service) Balance(tellerID string) (money.Amount, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return money.Zero, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == nil {
		return money.Zero, nil
	}
	return st.session.Balance, nil
}

// Session returns a snapshot of the teller's current session, or nil when
// no session was ever opened.
func (s *Service) Session(tellerID string) (*Session, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == nil {
		return nil, nil
	}
	return cloneSession(st.session), nil
}

// ProvisioningHistory returns the teller's provisioning records.
func (s *Service) ProvisioningHistory(tellerID string) ([]ProvisioningRecord, error) {
	st, err := s.state(tellerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]ProvisioningRecord, len(st.provisioning))
	copy(out, st.provisioning)
	return out, nil
}

// AllSessionsClosed reports an error naming the first teller under the
// branch whose session is not Closed. The accounting calendar uses it as the
// day-close gate.
func (s *Service) AllSessionsClosed(branchID string) error {
	s.mu.Lock()
	states := make([]*tellerState, 0, len(s.tellers))
	for _, st := range s.tellers {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		open := st.teller.BranchID == branchID && st.session != nil && st.session.State != StateClosed
		id := st.teller.ID
		st.mu.Unlock()
		if open {
			return fmt.Errorf("teller %s session is not closed", id)
		}
	}
	return nil
}

func cloneSession(session *Session) *Session {
	out := *session
	if session.EndedAt != nil {
		at := *session.EndedAt
		out.EndedAt = &at
	}
	if session.Closing != nil {
		closing := *session.Closing
		out.Closing = &closing
	}
	return &out
}
