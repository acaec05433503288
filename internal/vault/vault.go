package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/corebank/internal/money"
)

// ErrCapacityExceeded is returned when a movement would push the vault above
// its maximum capacity.
var ErrCapacityExceeded = errors.New("vault capacity exceeded")

// ErrVaultNotFound is returned for an unknown vault id.
var ErrVaultNotFound = errors.New("vault not found")

// ErrNotCustodian is returned when an actor outside the authorized-person
// list acts on the vault.
var ErrNotCustodian = errors.New("actor is not an authorized vault custodian")

// Direction of a cash-ceiling movement, seen from the vault.
type Direction string

const (
	// DirectionToTeller moves cash from the vault into a teller drawer.
	DirectionToTeller Direction = "VAULT_TO_TELLER"
	// DirectionFromTeller moves cash from a teller drawer into the vault.
	DirectionFromTeller Direction = "TELLER_TO_VAULT"
)

// MovementStatus is the approval state of a cash-ceiling movement.
type MovementStatus string

const (
	MovementPending  MovementStatus = "PENDING"
	MovementApproved MovementStatus = "APPROVED"
	MovementRejected MovementStatus = "REJECTED"
)

// Custodian is one authorized person on a vault.
type Custodian struct {
	UserID   string `json:"user_id"`
	IsLeader bool   `json:"is_leader"`
}

// Vault is a branch-level cash reservoir above the teller drawers.
type Vault struct {
	ID              string       `json:"id"`
	BranchID        string       `json:"branch_id"`
	MaximumCapacity money.Amount `json:"maximum_capacity"`
	Balance         money.Amount `json:"balance"`
	PreviousBalance money.Amount `json:"previous_balance"`
	Custodians      []Custodian  `json:"custodians"`
}

// IsCustodian reports whether userID is on the vault's authorized list.
func (v *Vault) IsCustodian(userID string) bool {
	for _, c := range v.Custodians {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Movement is a vault↔teller cash-ceiling transfer request under
// maker-checker control.
type Movement struct {
	ID          string         `json:"id"`
	VaultID     string         `json:"vault_id"`
	TellerID    string         `json:"teller_id"`
	BranchID    string         `json:"branch_id"`
	Amount      money.Amount   `json:"amount"`
	Direction   Direction      `json:"direction"`
	Requester   string         `json:"requester"`
	Approver    string         `json:"approver,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Status      MovementStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

// Operation is one entry in a vault's operation log.
type Operation struct {
	VaultID    string       `json:"vault_id"`
	MovementID string       `json:"movement_id"`
	Delta      money.Amount `json:"delta"`
	Balance    money.Amount `json:"balance"`
	Actor      string       `json:"actor"`
	At         time.Time    `json:"at"`
}

func validDirection(d Direction) error {
	switch d {
	case DirectionToTeller, DirectionFromTeller:
		return nil
	default:
		return fmt.Errorf("unknown movement direction %q", d)
	}
}
