package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/corebank/internal/money"
)

// Store persists accounts and postings. Save must fail with
// ErrVersionConflict when the stored version differs from the one loaded.
type Store interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, accountID string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	GetPosting(ctx context.Context, reference string) (*Posting, error)
	SavePosting(ctx context.Context, posting *Posting) error
}

// maxConflictRetries bounds internal retries on optimistic-lock conflicts
// before the error surfaces to the caller.
const maxConflictRetries = 3

// Service owns all balance mutation. Mutations to one account are serialized
// behind a per-account mutex so two concurrent postings can never both read
// the same balance and compute independent deltas.
type Service struct {
	store Store
	locks sync.Map // accountID -> *sync.Mutex
}

// NewService creates a ledger service over a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) lock(accountID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateAccount registers a new account. Accounts arrive from membership
// onboarding; the ledger only validates what it owns.
func (s *Service) CreateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		return errors.New("account id is required")
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("account %s: opening balance must not be negative", account.ID)
	}
	return s.store.Create(ctx, account)
}

// GetAccount returns a snapshot of an account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return s.store.Get(ctx, accountID)
}

// ApplyPosting mutates an account balance by delta. It is idempotent on
// reference: replaying a committed reference returns the original posting
// without a second mutation. On success PreviousBalance and Balance are
// updated as a pair.
func (s *Service) ApplyPosting(ctx context.Context, accountID string, delta money.Amount, kind OperationKind, reference string) (*Posting, error) {
	if reference == "" {
		return nil, errors.New("posting reference is required")
	}
	if delta.IsZero() {
		return nil, errors.New("posting delta must not be zero")
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	var posting *Posting
	err := s.withConflictRetry(func() error {
		existing, err := s.store.GetPosting(ctx, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			posting = existing
			return nil
		}

		account, err := s.store.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if err := checkStatus(account, kind); err != nil {
			return err
		}
		if delta.IsNegative() {
			if err := checkFunds(account, delta); err != nil {
				return err
			}
		}

		account.PreviousBalance = account.Balance
		account.Balance = account.Balance.Add(delta)
		account.Version++
		if err := s.store.Save(ctx, account); err != nil {
			return err
		}

		posting = &Posting{
			Reference:       reference,
			AccountID:       accountID,
			Delta:           delta,
			Kind:            kind,
			PreviousBalance: account.PreviousBalance,
			NewBalance:      account.Balance,
			PostedAt:        time.Now().UTC(),
		}
		return s.store.SavePosting(ctx, posting)
	})
	if err != nil {
		return nil, err
	}
	return posting, nil
}

// BlockAmount places a hard reservation on an account. The reservation can
// never exceed what is currently unreserved.
func (s *Service) BlockAmount(ctx context.Context, accountID string, amount money.Amount, reason string) error {
	if !amount.IsPositive() {
		return errors.New("block amount must be positive")
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	return s.withConflictRetry(func() error {
		account, err := s.store.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if amount.Cmp(account.Available()) > 0 {
			return fmt.Errorf("%w: cannot block %s, only %s unreserved", ErrInsufficientFunds, amount, account.Available())
		}

		now := time.Now().UTC()
		account.BlockedAmount = account.BlockedAmount.Add(amount)
		account.BlockReason = reason
		account.BlockedAt = &now
		account.BlockReleasedAt = nil
		account.Version++
		return s.store.Save(ctx, account)
	})
}

// ReleaseBlock releases part or all of the blocked reservation.
func (s *Service) ReleaseBlock(ctx context.Context, accountID string, amount money.Amount) error {
	if !amount.IsPositive() {
		return errors.New("release amount must be positive")
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	return s.withConflictRetry(func() error {
		account, err := s.store.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if amount.Cmp(account.BlockedAmount) > 0 {
			return fmt.Errorf("cannot release %s: only %s is blocked on account %s", amount, account.BlockedAmount, accountID)
		}

		account.BlockedAmount = account.BlockedAmount.Sub(amount)
		if account.BlockedAmount.IsZero() {
			now := time.Now().UTC()
			account.BlockReason = ""
			account.BlockReleasedAt = &now
		}
		account.Version++
		return s.store.Save(ctx, account)
	})
}

func (s *Service) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("gave up after %d conflict retries: %w", maxConflictRetries, err)
}

func checkStatus(account *Account, kind OperationKind) error {
	if account.Status == StatusActive {
		return nil
	}
	if kind == KindUnblock || kind == KindAdminAdjustment {
		return nil
	}
	return &StatusError{AccountID: account.ID, Status: account.Status, Kind: kind}
}

func checkFunds(account *Account, delta money.Amount) error {
	// delta is negative here. The overdraft allowance applies to the raw
	// balance; the blocked amount is a hard reservation on top of it.
	floor := account.OverdraftAllowance.Neg()
	if account.Balance.Add(delta).LessThan(floor) {
		return fmt.Errorf("%w: balance %s, overdraft allowance %s, requested %s",
			ErrInsufficientFunds, account.Balance, account.OverdraftAllowance, delta.Neg())
	}
	if account.BlockedAmount.IsPositive() && account.Available().Add(delta).IsNegative() {
		return fmt.Errorf("%w: %s is blocked, only %s available",
			ErrInsufficientFunds, account.BlockedAmount, account.Available())
	}
	return nil
}
