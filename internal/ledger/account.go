package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/corebank/internal/money"
)

// Status is the lifecycle state of a member account.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusDormant Status = "DORMANT"
	StatusBlocked Status = "BLOCKED"
	StatusClosed  Status = "CLOSED"
)

// OperationKind classifies a posting against an account.
type OperationKind string

const (
	KindDeposit         OperationKind = "DEPOSIT"
	KindWithdrawal      OperationKind = "WITHDRAWAL"
	KindTransferIn      OperationKind = "TRANSFER_IN"
	KindTransferOut     OperationKind = "TRANSFER_OUT"
	KindFee             OperationKind = "FEE"
	KindReversal        OperationKind = "REVERSAL"
	KindUnblock         OperationKind = "UNBLOCK"
	KindAdminAdjustment OperationKind = "ADMIN_ADJUSTMENT"
)

// ErrInsufficientFunds is returned when a debit would breach the overdraft
// allowance or eat into the blocked reservation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrAccountNotFound is returned for an unknown account id.
var ErrAccountNotFound = errors.New("account not found")

// ErrVersionConflict signals an optimistic-lock failure in a store. The
// service retries it internally with a bounded budget before surfacing.
var ErrVersionConflict = errors.New("account version conflict")

// StatusError reports a posting rejected because of the account's status.
type StatusError struct {
	AccountID string
	Status    Status
	Kind      OperationKind
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account %s is %s: %s postings are not allowed", e.AccountID, e.Status, e.Kind)
}

// Account is a member account owned by the ledger. Balance and
// PreviousBalance move together: no reader may observe the pair
// half-updated.
type Account struct {
	ID                 string       `json:"id"`
	ProductID          string       `json:"product_id"`
	BranchID           string       `json:"branch_id"`
	BankID             string       `json:"bank_id"`
	Balance            money.Amount `json:"balance"`
	PreviousBalance    money.Amount `json:"previous_balance"`
	BlockedAmount      money.Amount `json:"blocked_amount"`
	BlockReason        string       `json:"block_reason,omitempty"`
	BlockedAt          *time.Time   `json:"blocked_at,omitempty"`
	BlockReleasedAt    *time.Time   `json:"block_released_at,omitempty"`
	Status             Status       `json:"status"`
	OverdraftAllowance money.Amount `json:"overdraft_allowance"`
	Version            int64        `json:"version"`

	Deleted   bool       `json:"deleted"`
	DeletedBy string     `json:"deleted_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Available is the balance a withdrawal may draw on: the blocked amount is a
// hard reservation, independent of the overdraft allowance.
func (a *Account) Available() money.Amount {
	return a.Balance.Sub(a.BlockedAmount)
}

// Posting is one committed balance mutation. Postings are immutable and
// idempotent on their reference.
type Posting struct {
	Reference       string        `json:"reference"`
	AccountID       string        `json:"account_id"`
	Delta           money.Amount  `json:"delta"`
	Kind            OperationKind `json:"kind"`
	PreviousBalance money.Amount  `json:"previous_balance"`
	NewBalance      money.Amount  `json:"new_balance"`
	PostedAt        time.Time     `json:"posted_at"`
}
