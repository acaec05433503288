package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

// CashMover moves cash through a teller drawer. The drawer service satisfies
// it; vault movements call it while holding the vault lock, which fixes the
// global lock order: vault before teller.
type CashMover interface {
	ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error)
}

type vaultState struct {
	mu    sync.Mutex
	vault Vault
	log   []Operation
}

// Service owns branch vaults and the cash-ceiling movement workflow.
// State lives in memory; when a store is attached every registration,
// decision and operation-log entry is written through to it.
type Service struct {
	mu        sync.Mutex
	vaults    map[string]*vaultState
	movements map[string]*Movement
	drawers   CashMover
	store     *Store
}

// NewService creates a vault service over a drawer cash mover. A nil store
// keeps state in memory only.
func NewService(drawers CashMover, store *Store) *Service {
	return &Service{
		vaults:    make(map[string]*vaultState),
		movements: make(map[string]*Movement),
		drawers:   drawers,
		store:     store,
	}
}

// Load restores vaults, movements and operation logs from the store. It is
// called once at startup, before the service takes traffic.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	vaults, err := s.store.ListVaults(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vaults {
		st := &vaultState{vault: v}
		operations, err := s.store.ListOperations(ctx, v.ID)
		if err != nil {
			return err
		}
		st.log = operations

		movements, err := s.store.ListMovements(ctx, v.ID)
		if err != nil {
			return err
		}
		for i := range movements {
			m := movements[i]
			s.movements[m.ID] = &m
		}
		s.vaults[v.ID] = st
	}
	return nil
}

// Register adds a vault.
func (s *Service) Register(v Vault) error {
	if v.ID == "" || v.BranchID == "" {
		return errors.New("vault id and branch id are required")
	}
	if v.Balance.Cmp(v.MaximumCapacity) > 0 {
		return fmt.Errorf("%w: opening balance %s over capacity %s", ErrCapacityExceeded, v.Balance, v.MaximumCapacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.ID]; ok {
		return fmt.Errorf("vault %s already registered", v.ID)
	}
	if err := s.persistVault(v); err != nil {
		return err
	}
	s.vaults[v.ID] = &vaultState{vault: v}
	return nil
}

func (s *Service) persistVault(v Vault) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveVault(context.Background(), v)
}

func (s *Service) persistMovement(m Movement) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveMovement(context.Background(), m)
}

func (s *Service) persistOperation(op Operation) error {
	if s.store == nil {
		return nil
	}
	return s.store.AppendOperation(context.Background(), op)
}

func (s *Service) state(vaultID string) (*vaultState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.vaults[vaultID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}
	return st, nil
}

// Get returns a snapshot of a vault.
func (s *Service) Get(vaultID string) (*Vault, error) {
	st, err := s.state(vaultID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.vault
	out.Custodians = append([]Custodian(nil), st.vault.Custodians...)
	return &out, nil
}

// RequestMovement opens a Pending cash-ceiling movement between the vault
// and a teller drawer.
func (s *Service) RequestMovement(vaultID, tellerID string, amount money.Amount, direction Direction, requester string) (*Movement, error) {
	if !amount.IsPositive() {
		return nil, errors.New("movement amount must be positive")
	}
	if err := validDirection(direction); err != nil {
		return nil, err
	}

	st, err := s.state(vaultID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	branchID := st.vault.BranchID
	st.mu.Unlock()

	movement := &Movement{
		ID:          uuid.New().String(),
		VaultID:     vaultID,
		TellerID:    tellerID,
		BranchID:    branchID,
		Amount:      amount,
		Direction:   direction,
		Requester:   requester,
		Status:      MovementPending,
		RequestedAt: time.Now().UTC(),
	}

	if err := s.persistMovement(*movement); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.movements[movement.ID] = movement
	s.mu.Unlock()
	return cloneMovement(movement), nil
}

// Approve commits a pending movement. The approver must be a vault custodian
// and must differ from the requester. Vault and drawer balances move
// together or not at all: the drawer leg runs under the vault lock and a
// drawer failure rolls the whole movement back to Pending.
func (s *Service) Approve(movementID, approver, comment string) (*Movement, error) {
	s.mu.Lock()
	movement, ok := s.movements[movementID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("movement %s not found", movementID)
	}

	st, err := s.state(movement.VaultID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if movement.Status != MovementPending {
		return nil, fmt.Errorf("movement %s is %s, not pending", movementID, movement.Status)
	}
	if !st.vault.IsCustodian(approver) {
		return nil, fmt.Errorf("%w: %s on vault %s", ErrNotCustodian, approver, movement.VaultID)
	}
	if approver == movement.Requester {
		return nil, fmt.Errorf("approver %s requested this movement: maker-checker requires a second actor", approver)
	}

	var vaultDelta, drawerDelta money.Amount
	switch movement.Direction {
	case DirectionToTeller:
		vaultDelta = movement.Amount.Neg()
		drawerDelta = movement.Amount
	case DirectionFromTeller:
		vaultDelta = movement.Amount
		drawerDelta = movement.Amount.Neg()
	}

	next := st.vault.Balance.Add(vaultDelta)
	if next.IsNegative() {
		return nil, fmt.Errorf("vault %s holds %s, cannot release %s", movement.VaultID, st.vault.Balance, movement.Amount)
	}
	if next.Cmp(st.vault.MaximumCapacity) > 0 {
		return nil, fmt.Errorf("%w: %s would hold %s over capacity %s",
			ErrCapacityExceeded, movement.VaultID, next, st.vault.MaximumCapacity)
	}

	// Drawer leg first: it can fail on limits, and the vault balance has
	// not been touched yet, so failure leaves no partial state.
	if _, err := s.drawers.ApplyCash(movement.TellerID, drawerDelta, fees.OpTransfer); err != nil {
		return nil, fmt.Errorf("drawer leg failed, movement left pending: %w", err)
	}

	st.vault.PreviousBalance = st.vault.Balance
	st.vault.Balance = next

	now := time.Now().UTC()
	movement.Status = MovementApproved
	movement.Approver = approver
	movement.Comment = comment
	movement.DecidedAt = &now

	op := Operation{
		VaultID:    movement.VaultID,
		MovementID: movement.ID,
		Delta:      vaultDelta,
		Balance:    st.vault.Balance,
		Actor:      approver,
		At:         now,
	}
	st.log = append(st.log, op)

	if err := s.persistVault(st.vault); err != nil {
		return nil, fmt.Errorf("movement committed but vault persistence failed: %w", err)
	}
	if err := s.persistMovement(*movement); err != nil {
		return nil, fmt.Errorf("movement committed but persistence failed: %w", err)
	}
	if err := s.persistOperation(op); err != nil {
		return nil, fmt.Errorf("movement committed but operation-log persistence failed: %w", err)
	}
	return cloneMovement(movement), nil
}

// Reject terminates a pending movement with no balance effect.
func (s *Service) Reject(movementID, approver, comment string) (*Movement, error) {
	s.mu.Lock()
	movement, ok := s.movements[movementID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("movement %s not found", movementID)
	}

	st, err := s.state(movement.VaultID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if movement.Status != MovementPending {
		return nil, fmt.Errorf("movement %s is %s, not pending", movementID, movement.Status)
	}
	if !st.vault.IsCustodian(approver) {
		return nil, fmt.Errorf("%w: %s on vault %s", ErrNotCustodian, approver, movement.VaultID)
	}

	now := time.Now().UTC()
	movement.Status = MovementRejected
	movement.Approver = approver
	movement.Comment = comment
	movement.DecidedAt = &now

	if err := s.persistMovement(*movement); err != nil {
		return nil, fmt.Errorf("rejection recorded but persistence failed: %w", err)
	}
	return cloneMovement(movement), nil
}

// OperationLog returns the vault's committed operations.
func (s *Service) OperationLog(vaultID string) ([]Operation, error) {
	st, err := s.state(vaultID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Operation, len(st.log))
	copy(out, st.log)
	return out, nil
}

func cloneMovement(m *Movement) *Movement {
	out := *m
	if m.DecidedAt != nil {
		at := *m.DecidedAt
		out.DecidedAt = &at
	}
	return &out
}
