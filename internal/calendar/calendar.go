package calendar

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDayClosed is returned when a posting is attempted outside the branch's
// open accounting day.
var ErrDayClosed = errors.New("accounting day is not open for posting")

// ErrSessionsOpen is returned when a day close is attempted while teller
// sessions under the branch are still open.
var ErrSessionsOpen = errors.New("branch has teller sessions that are not closed")

// AccountingDay is the logical posting date for one branch. It is distinct
// from the wall-clock date and transitions Open→Closed exactly once; reopen
// is an explicit administrative override.
type AccountingDay struct {
	BranchID string     `json:"branch_id"`
	Date     time.Time  `json:"date"`
	IsClosed bool       `json:"is_closed"`
	OpenedBy string     `json:"opened_by"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedBy string     `json:"closed_by"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// DateRange is an inclusive holy-day span during which posting is blocked.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) contains(d time.Time) bool {
	return !d.Before(DateOf(r.From)) && !d.After(DateOf(r.To))
}

// DateOf normalizes t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SessionGate reports whether every teller session under a branch is closed.
// The drawer service supplies the implementation; a nil gate skips the check.
type SessionGate func(branchID string) error

type branchState struct {
	mu       sync.RWMutex
	current  *AccountingDay
	history  []AccountingDay
	holidays map[time.Weekday]bool
}

// Calendar owns per-branch accounting-day state. Centralized mode shares one
// calendar instance across branches; each branch still gets its own day row
// and lock, so postings against different branches never contend.
type Calendar struct {
	mu          sync.Mutex
	branches    map[string]*branchState
	holyDays    []DateRange
	sessionGate SessionGate
	Centralized bool
}

// New creates a calendar. holyDays apply to every branch.
func New(sessionGate SessionGate, holyDays []DateRange, centralized bool) *Calendar {
	return &Calendar{
		branches:    make(map[string]*branchState),
		holyDays:    holyDays,
		sessionGate: sessionGate,
		Centralized: centralized,
	}
}

// SetBranchHolidays configures recurring weekday holidays for a branch.
func (c *Calendar) SetBranchHolidays(branchID string, weekdays ...time.Weekday) {
	b := c.branch(branchID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holidays = make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		b.holidays[wd] = true
	}
}

func (c *Calendar) branch(branchID string) *branchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.branches[branchID]
	if !ok {
		b = &branchState{holidays: make(map[time.Weekday]bool)}
		c.branches[branchID] = b
	}
	return b
}

// OpenDay opens the accounting day for a branch. After the first day, only
// the calendar day immediately following the last closed day may be opened:
// no gaps, no skipping.
func (c *Calendar) OpenDay(branchID string, date time.Time, actor string) (*AccountingDay, error) {
	b := c.branch(branchID)
	date = DateOf(date)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil && !b.current.IsClosed {
		return nil, fmt.Errorf("branch %s already has open accounting day %s", branchID, b.current.Date.Format(time.DateOnly))
	}
	if b.current != nil {
		next := b.current.Date.AddDate(0, 0, 1)
		if !date.Equal(next) {
			return nil, fmt.Errorf("branch %s must open %s next, not %s",
				branchID, next.Format(time.DateOnly), date.Format(time.DateOnly))
		}
	}

	day := &AccountingDay{
		BranchID: branchID,
		Date:     date,
		OpenedBy: actor,
		OpenedAt: time.Now().UTC(),
	}
	b.current = day
	return snapshot(day), nil
}

// CloseDay closes the branch's open accounting day. It requires every teller
// session under the branch to be closed, and acts as a write barrier: the
// branch write lock is held, so a posting in flight either committed before
// the close or observes the closed day. Automatic close runs this same
// operation with a system actor.
func (c *Calendar) CloseDay(branchID, actor string) (*AccountingDay, error) {
	b := c.branch(branchID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil || b.current.IsClosed {
		return nil, fmt.Errorf("branch %s has no open accounting day", branchID)
	}
	if c.sessionGate != nil {
		if err := c.sessionGate(branchID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionsOpen, err)
		}
	}

	now := time.Now().UTC()
	b.current.IsClosed = true
	b.current.ClosedBy = actor
	b.current.ClosedAt = &now
	b.history = append(b.history, *b.current)
	return snapshot(b.current), nil
}

// ReopenDay is the administrative override that reverses a close. It is not
// part of the normal lifecycle.
func (c *Calendar) ReopenDay(branchID, actor string) (*AccountingDay, error) {
	b := c.branch(branchID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil || !b.current.IsClosed {
		return nil, fmt.Errorf("branch %s has no closed accounting day to reopen", branchID)
	}
	b.current.IsClosed = false
	b.current.ClosedBy = ""
	b.current.ClosedAt = nil
	b.current.OpenedBy = actor
	b.current.OpenedAt = time.Now().UTC()
	return snapshot(b.current), nil
}

// CurrentDay returns the branch's current accounting day, open or closed.
func (c *Calendar) CurrentDay(branchID string) (*AccountingDay, error) {
	b := c.branch(branchID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return nil, fmt.Errorf("branch %s has no accounting day", branchID)
	}
	return snapshot(b.current), nil
}

// IsOpenForPosting reports whether a posting dated date may commit for the
// branch right now. Post-dated and back-dated postings are rejected.
func (c *Calendar) IsOpenForPosting(branchID string, date time.Time) error {
	b := c.branch(branchID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return c.checkOpenLocked(b, branchID, DateOf(date))
}

func (c *Calendar) checkOpenLocked(b *branchState, branchID string, date time.Time) error {
	if b.current == nil || b.current.IsClosed {
		return fmt.Errorf("%w: branch %s", ErrDayClosed, branchID)
	}
	if !b.current.Date.Equal(date) {
		return fmt.Errorf("%w: branch %s is posting on %s, not %s",
			ErrDayClosed, branchID, b.current.Date.Format(time.DateOnly), date.Format(time.DateOnly))
	}
	if b.holidays[date.Weekday()] {
		return fmt.Errorf("%w: %s is a branch holiday", ErrDayClosed, date.Weekday())
	}
	for _, r := range c.holyDays {
		if r.contains(date) {
			return fmt.Errorf("%w: %s falls in a holy-day range", ErrDayClosed, date.Format(time.DateOnly))
		}
	}
	return nil
}

// BeginPosting checks the day gate and holds the branch read lock until the
// returned release func is called. Gate check and posting commit form one
// logical unit: a concurrent CloseDay blocks until every in-flight posting
// releases, and postings started after the close observe the closed day.
func (c *Calendar) BeginPosting(branchID string, date time.Time) (func(), error) {
	b := c.branch(branchID)
	b.mu.RLock()
	if err := c.checkOpenLocked(b, branchID, DateOf(date)); err != nil {
		b.mu.RUnlock()
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(b.mu.RUnlock) }, nil
}

// History returns the closed days recorded for a branch.
func (c *Calendar) History(branchID string) []AccountingDay {
	b := c.branch(branchID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AccountingDay, len(b.history))
	copy(out, b.history)
	return out
}

func snapshot(day *AccountingDay) *AccountingDay {
	out := *day
	if day.ClosedAt != nil {
		at := *day.ClosedAt
		out.ClosedAt = &at
	}
	return &out
}
