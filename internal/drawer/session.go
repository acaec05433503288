package drawer

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

// SessionState is the daily lifecycle of a teller drawer.
type SessionState string

const (
	StateUnopened     SessionState = "UNOPENED"
	StateOpen         SessionState = "OPEN"
	StatePendingClose SessionState = "PENDING_CLOSE"
	StateClosed       SessionState = "CLOSED"
)

// ErrDrawerLimitExceeded is returned when a cash movement would push the
// drawer balance outside the teller's configured band for that operation.
var ErrDrawerLimitExceeded = errors.New("drawer limit exceeded")

// ErrTellerNotFound is returned for an unknown teller id.
var ErrTellerNotFound = errors.New("teller not found")

// ErrNotAuthorized is returned when an actor acts on a teller they are not
// assigned to.
var ErrNotAuthorized = errors.New("actor not authorized for teller")

// SessionStateError reports an operation attempted in the wrong session state.
type SessionStateError struct {
	TellerID string
	State    SessionState
	Op       string
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("teller %s: cannot %s while session is %s", e.TellerID, e.Op, e.State)
}

// BalanceLimit is the allowed drawer balance band after an operation of a
// given type. A zero-value limit means the band is unbounded on that side.
type BalanceLimit struct {
	Min money.Amount
	Max money.Amount
}

// Teller is a cash-handling position. Primary tellers are branch-level cash
// custodians; sub tellers are individual cashiers.
type Teller struct {
	ID           string                               `json:"id"`
	BranchID     string                               `json:"branch_id"`
	AssignedUser string                               `json:"assigned_user"`
	IsPrimary    bool                                 `json:"is_primary"`
	Limits       map[fees.OperationType]BalanceLimit `json:"limits"`
}

// Session is one daily open/close cycle for a teller drawer.
type Session struct {
	ID         string                `json:"id"`
	TellerID   string                `json:"teller_id"`
	OpenedBy   string                `json:"opened_by"`
	StartedAt  time.Time             `json:"started_at"`
	EndedAt    *time.Time            `json:"ended_at,omitempty"`
	Opening    money.DenominationSet `json:"opening"`
	Closing    *money.DenominationSet `json:"closing,omitempty"`
	Balance    money.Amount          `json:"balance"`
	Variance   money.Amount          `json:"variance"`
	State      SessionState          `json:"state"`
	WorkflowID string                `json:"workflow_id,omitempty"`
}

// ProvisioningRecord snapshots a session's cash positions. It is created at
// session open, completed at declare-close and frozen once the confirmation
// chain finishes.
type ProvisioningRecord struct {
	ID              string                 `json:"id"`
	SessionID       string                 `json:"session_id"`
	TellerID        string                 `json:"teller_id"`
	IsPrimary       bool                   `json:"is_primary"`
	OpeningCash     money.DenominationSet  `json:"opening_cash"`
	ClosingCash     *money.DenominationSet `json:"closing_cash,omitempty"`
	PreviousBalance money.Amount           `json:"previous_balance"`
	BalanceAtHand   money.Amount           `json:"balance_at_hand"`
	Variance        money.Amount           `json:"variance"`
	Confirmed       bool                   `json:"confirmed"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}
