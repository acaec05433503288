package remit

import (
	"errors"
	"time"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

// ErrRemittanceNotFound is returned for an unknown remittance id.
var ErrRemittanceNotFound = errors.New("remittance not found")

// ErrVerificationFailed is returned when the payout verification does not
// match what was captured at initiation.
var ErrVerificationFailed = errors.New("receiver verification failed")

// StateError reports an action attempted against a remittance outside the
// state the action requires.
type StateError struct {
	RemittanceID string
	Status       Status
	Op           string
}

func (e *StateError) Error() string {
	return "remittance " + e.RemittanceID + " is " + string(e.Status) + ": cannot " + e.Op
}

// Status is the lifecycle state of a remittance.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusApproved  Status = "APPROVED"
	StatusPaidOut   Status = "PAID_OUT"
	StatusRejected  Status = "REJECTED"
)

// VerificationMethod selects how the receiver proves identity at payout.
type VerificationMethod string

const (
	VerifyOTP    VerificationMethod = "OTP"
	VerifyManual VerificationMethod = "MANUAL"
)

// Party is one side of a remittance.
type Party struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	IDNumber string `json:"id_number,omitempty"`
}

// Remittance is a cash-to-cash transfer paid out to a named receiver. The
// sender hands cash to a teller at the source branch; the receiver collects
// at the destination branch after verification.
type Remittance struct {
	ID                string             `json:"id"`
	Reference         string             `json:"reference"`
	Sender            Party              `json:"sender"`
	Receiver          Party              `json:"receiver"`
	Amount            money.Amount       `json:"amount"`
	Fee               fees.Charge        `json:"fee"`
	CommissionSplit   fees.Split         `json:"commission_split"`
	Channel           fees.Channel       `json:"channel"`
	SourceBranch      string             `json:"source_branch"`
	DestinationBranch string             `json:"destination_branch"`
	Verification      VerificationMethod `json:"verification"`
	Status            Status             `json:"status"`
	WorkflowID        string             `json:"workflow_id"`
	InitiatedBy       string             `json:"initiated_by"`
	ApprovedBy        string             `json:"approved_by,omitempty"`
	PaidOutBy         string             `json:"paid_out_by,omitempty"`
	InitiatedAt       time.Time          `json:"initiated_at"`
	PaidOutAt         *time.Time         `json:"paid_out_at,omitempty"`
}
