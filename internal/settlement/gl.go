package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

// Instruction is one general-ledger posting instruction. A committed
// transaction emits exactly one.
type Instruction struct {
	TransactionID string       `json:"transaction_id"`
	Reference     string       `json:"reference"`
	DebitAccount  string       `json:"debit_account"`
	CreditAccount string       `json:"credit_account"`
	Amount        money.Amount `json:"amount"`
	FeeAmount     money.Amount `json:"fee_amount"`
	Memo          string       `json:"memo,omitempty"`
	Date          time.Time    `json:"date"`
}

// Poster receives general-ledger instructions for committed transactions.
type Poster interface {
	Post(ctx context.Context, instruction Instruction) error
}

// ChartOfAccounts resolves the GL accounts a transaction type posts against.
type ChartOfAccounts struct {
	Cash           string
	MemberDeposits string
	FeeIncome      string
	Clearing       string
}

// Resolve returns the debit and credit GL accounts for an operation.
func (c ChartOfAccounts) Resolve(op fees.OperationType) (debit, credit string, err error) {
	switch op {
	case fees.OpDeposit:
		return c.Cash, c.MemberDeposits, nil
	case fees.OpWithdrawal:
		return c.MemberDeposits, c.Cash, nil
	case fees.OpTransfer:
		return c.MemberDeposits, c.Clearing, nil
	default:
		return "", "", fmt.Errorf("no chart accounts for operation %s", op)
	}
}

// MemoryPoster collects instructions in memory. It backs tests and the
// single-process deployment; a durable poster satisfies the same interface.
type MemoryPoster struct {
	mu           sync.Mutex
	instructions []Instruction
}

// NewMemoryPoster creates an empty in-memory poster.
func NewMemoryPoster() *MemoryPoster {
	return &MemoryPoster{}
}

// Post appends the instruction.
func (p *MemoryPoster) Post(_ context.Context, instruction Instruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions = append(p.instructions, instruction)
	return nil
}

// Instructions returns a copy of everything posted so far.
func (p *MemoryPoster) Instructions() []Instruction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Instruction, len(p.instructions))
	copy(out, p.instructions)
	return out
}
