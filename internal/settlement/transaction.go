package settlement

import (
	"time"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/money"
)

// TransactionStatus is the lifecycle state of a committed transaction.
type TransactionStatus string

const (
	StatusPosted   TransactionStatus = "POSTED"
	StatusReversed TransactionStatus = "REVERSED"
)

// Transaction is the full record of one settled operation. It is written
// once when the operation commits; a reversal marks it Reversed and links
// the reversing record, history is never deleted.
type Transaction struct {
	ID                 string                `json:"id"`
	Reference          string                `json:"reference"`
	Type               fees.OperationType    `json:"type"`
	Channel            fees.Channel          `json:"channel"`
	Status             TransactionStatus     `json:"status"`
	AccountID          string                `json:"account_id"`
	CounterpartyID     string                `json:"counterparty_id,omitempty"`
	SourceBranch       string                `json:"source_branch"`
	DestinationBranch  string                `json:"destination_branch,omitempty"`
	TellerID           string                `json:"teller_id,omitempty"`
	Amount             money.Amount          `json:"amount"`
	Fee                fees.Charge           `json:"fee"`
	CommissionSplit    fees.Split            `json:"commission_split"`
	PreviousBalance    money.Amount          `json:"previous_balance"`
	ResultingBalance   money.Amount          `json:"resulting_balance"`
	AccountingDate     time.Time             `json:"accounting_date"`
	Denominations      *money.DenominationSet `json:"denominations,omitempty"`
	ReversalOf         string                `json:"reversal_of,omitempty"`
	ReversedBy         string                `json:"reversed_by,omitempty"`
	Actor              string                `json:"actor"`
	CreatedAt          time.Time             `json:"created_at"`
}

// IsInterBranch reports whether the transaction crosses branches.
func (t *Transaction) IsInterBranch() bool {
	return t.DestinationBranch != "" && t.DestinationBranch != t.SourceBranch
}

func cloneTransaction(t *Transaction) *Transaction {
	out := *t
	if t.Denominations != nil {
		d := *t.Denominations
		out.Denominations = &d
	}
	return &out
}
