package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and single-process
// deployments. It enforces the same optimistic version check as the durable
// stores so conflict handling is exercised everywhere.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	postings map[string]Posting
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		postings: make(map[string]Posting),
	}
}

// Create stores a new account; duplicate ids are rejected.
func (m *MemoryStore) Create(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; ok {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	m.accounts[account.ID] = *account
	return nil
}

// Get returns a copy of the account.
func (m *MemoryStore) Get(ctx context.Context, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok || account.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	out := account
	return &out, nil
}

// Save writes an account back, failing on a stale version.
func (m *MemoryStore) Save(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.accounts[account.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}
	if account.Version != current.Version+1 {
		return fmt.Errorf("%w: account %s at version %d, write claims %d",
			ErrVersionConflict, account.ID, current.Version, account.Version)
	}
	m.accounts[account.ID] = *account
	return nil
}

// GetPosting returns a committed posting by reference, or nil when the
// reference has not been seen.
func (m *MemoryStore) GetPosting(ctx context.Context, reference string) (*Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posting, ok := m.postings[reference]
	if !ok {
		return nil, nil
	}
	out := posting
	return &out, nil
}

// SavePosting records a posting; references are write-once.
func (m *MemoryStore) SavePosting(ctx context.Context, posting *Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.postings[posting.Reference]; ok {
		return fmt.Errorf("posting reference %s already committed", posting.Reference)
	}
	m.postings[posting.Reference] = *posting
	return nil
}
