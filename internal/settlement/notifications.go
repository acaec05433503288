package settlement

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/corebank/internal/money"
)

// NoticeStatus is the lifecycle state of a withdrawal notice.
type NoticeStatus string

const (
	NoticeActive   NoticeStatus = "ACTIVE"
	NoticeConsumed NoticeStatus = "CONSUMED"
	NoticeExpired  NoticeStatus = "EXPIRED"
)

// Notice is an advance withdrawal notification. While active it holds the
// notified amount against the account; the funds are released when the
// notice is consumed by the matching withdrawal or when it expires.
type Notice struct {
	ID        string       `json:"id"`
	AccountID string       `json:"account_id"`
	Amount    money.Amount `json:"amount"`
	Status    NoticeStatus `json:"status"`
	NoticedAt time.Time    `json:"noticed_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// NoticeBook tracks withdrawal notices per account. Expiry is lazy: a notice
// past its ExpiresAt flips to Expired on the next access that observes it.
type NoticeBook struct {
	mu      sync.Mutex
	notices map[string]*Notice
	now     func() time.Time
}

// NewNoticeBook creates an empty notice book.
func NewNoticeBook() *NoticeBook {
	return &NoticeBook{
		notices: make(map[string]*Notice),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Request records a new active notice.
func (b *NoticeBook) Request(accountID string, amount money.Amount, expiresAt time.Time) (*Notice, error) {
	if accountID == "" {
		return nil, &ValidationError{Field: "accountID", Reason: "is required"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	notice := &Notice{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		Status:    NoticeActive,
		NoticedAt: b.now(),
		ExpiresAt: expiresAt,
	}
	b.notices[notice.ID] = notice
	out := *notice
	return &out, nil
}

// HoldTotal sums the active holds against an account, expiring stale
// notices as it passes them.
func (b *NoticeBook) HoldTotal(accountID string) money.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := money.Zero
	now := b.now()
	for _, notice := range b.notices {
		if notice.AccountID != accountID {
			continue
		}
		b.expireLocked(notice, now)
		if notice.Status == NoticeActive {
			total = total.Add(notice.Amount)
		}
	}
	return total
}

// Consume marks a notice consumed for a withdrawal of at most its amount.
func (b *NoticeBook) Consume(noticeID, accountID string, amount money.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	notice, ok := b.notices[noticeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoticeNotFound, noticeID)
	}
	b.expireLocked(notice, b.now())
	if notice.Status != NoticeActive {
		return fmt.Errorf("%w: notice %s is %s", ErrNoticeNotUsable, noticeID, notice.Status)
	}
	if notice.AccountID != accountID {
		return fmt.Errorf("%w: notice %s belongs to another account", ErrNoticeNotUsable, noticeID)
	}
	if notice.Amount.LessThan(amount) {
		return fmt.Errorf("%w: notice %s covers %s, withdrawal is %s", ErrNoticeNotUsable, noticeID, notice.Amount, amount)
	}

	notice.Status = NoticeConsumed
	return nil
}

// Get returns a snapshot of a notice, applying lazy expiry.
func (b *NoticeBook) Get(noticeID string) (*Notice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	notice, ok := b.notices[noticeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoticeNotFound, noticeID)
	}
	b.expireLocked(notice, b.now())
	out := *notice
	return &out, nil
}

// reactivate restores a consumed notice after the withdrawal that consumed
// it failed to commit.
func (b *NoticeBook) reactivate(noticeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if notice, ok := b.notices[noticeID]; ok && notice.Status == NoticeConsumed {
		notice.Status = NoticeActive
	}
}

func (b *NoticeBook) expireLocked(notice *Notice, now time.Time) {
	if notice.Status == NoticeActive && !now.Before(notice.ExpiresAt) {
		notice.Status = NoticeExpired
	}
}
