package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/ledger"
	"github.com/example/corebank/internal/money"
	"github.com/example/corebank/internal/vault"
	"github.com/example/corebank/pkg/audit"
)

const (
	workflowKindReversal      = "reversal"
	workflowKindReplenishment = "replenishment"
)

// AccountPoster is the account-ledger collaborator. Postings are idempotent
// on their reference. The ledger service satisfies it.
type AccountPoster interface {
	ApplyPosting(ctx context.Context, accountID string, delta money.Amount, kind ledger.OperationKind, reference string) (*ledger.Posting, error)
	GetAccount(ctx context.Context, accountID string) (*ledger.Account, error)
}

// CashDrawer moves physical cash through a teller drawer.
type CashDrawer interface {
	ApplyCash(tellerID string, delta money.Amount, op fees.OperationType) (money.Amount, error)
}

// DayGate admits postings for an open accounting day. The release func must
// be called once the posting has committed or failed.
type DayGate interface {
	BeginPosting(branchID string, date time.Time) (func(), error)
}

// VaultMover drives vault cash-ceiling movements for replenishments.
type VaultMover interface {
	RequestMovement(vaultID, tellerID string, amount money.Amount, direction vault.Direction, requester string) (*vault.Movement, error)
	Approve(movementID, approver, comment string) (*vault.Movement, error)
	Reject(movementID, approver, comment string) (*vault.Movement, error)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Accounts  AccountPoster
	Drawers   CashDrawer
	Vaults    VaultMover
	Calendar  DayGate
	Approvals *approval.Engine
	Audit     *audit.Recorder
	GL        Poster
	Chart     ChartOfAccounts
	Schedules map[fees.OperationType]*fees.Schedule
	Splits    *fees.SplitConfig
	Notices   *NoticeBook
	Logger    *zap.Logger
}

// Replenishment is a teller cash top-up moving through the approval engine
// and, on final approval, a vault-to-teller movement.
type Replenishment struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	MovementID string         `json:"movement_id"`
	VaultID    string         `json:"vault_id"`
	TellerID   string         `json:"teller_id"`
	Amount     money.Amount   `json:"amount"`
	Requester  string         `json:"requester"`
	State      approval.State `json:"state"`
}

type glRoute struct {
	debit  string
	credit string
}

// Orchestrator settles teller transactions across the ledger, drawer, vault
// and general ledger. Every committed transaction produces exactly one GL
// instruction and one audit event.
type Orchestrator struct {
	deps     Deps
	log      *zap.Logger
	glRoutes map[fees.OperationType]glRoute

	// accountLocks serializes the funds check and the posting legs of a
	// withdrawal per account, so concurrent withdrawals cannot both pass
	// the hold check and debit past the reserved amount.
	accountLocks sync.Map

	// approveMu serializes terminal approvals so the engine transition
	// cannot fail after the money legs have already moved.
	approveMu sync.Mutex

	mu             sync.Mutex
	transactions   map[string]*Transaction
	byReference    map[string]string
	reversals      map[string]string
	replenishments map[string]*Replenishment
	pendingGL      []Instruction
}

// NewOrchestrator validates the dependency set and builds an orchestrator.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("account poster is required")
	case deps.Drawers == nil:
		return nil, errors.New("cash drawer is required")
	case deps.Calendar == nil:
		return nil, errors.New("day gate is required")
	case deps.Approvals == nil:
		return nil, errors.New("approval engine is required")
	case deps.GL == nil:
		return nil, errors.New("GL poster is required")
	case deps.Splits == nil:
		return nil, errors.New("split config is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewRecorder()
	}
	if deps.Notices == nil {
		deps.Notices = NewNoticeBook()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	// Chart routes are resolved once here so an incomplete chart fails the
	// build instead of surfacing at commit time.
	routes := make(map[fees.OperationType]glRoute, 3)
	for _, op := range []fees.OperationType{fees.OpDeposit, fees.OpWithdrawal, fees.OpTransfer} {
		debit, credit, err := deps.Chart.Resolve(op)
		if err != nil {
			return nil, err
		}
		routes[op] = glRoute{debit: debit, credit: credit}
	}

	return &Orchestrator{
		deps:           deps,
		log:            deps.Logger,
		glRoutes:       routes,
		transactions:   make(map[string]*Transaction),
		byReference:    make(map[string]string),
		reversals:      make(map[string]string),
		replenishments: make(map[string]*Replenishment),
	}, nil
}

func (o *Orchestrator) accountLock(accountID string) *sync.Mutex {
	mu, _ := o.accountLocks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// DepositRequest is a cash deposit at a teller counter.
type DepositRequest struct {
	Reference string
	BranchID  string
	TellerID  string
	AccountID string
	Amount    money.Amount
	Cash      money.DenominationSet
	Channel   fees.Channel
	Actor     string
	Date      time.Time
}

// Deposit settles a cash deposit. The account is credited with the full
// amount; the fee is never netted against the member balance, it rides the
// transaction and the GL instruction as its own leg.
func (o *Orchestrator) Deposit(ctx context.Context, req DepositRequest) (*Transaction, error) {
	if err := validateCashRequest(req.Reference, req.AccountID, req.Amount, req.Cash); err != nil {
		return nil, err
	}
	if txn := o.byReferenceSnapshot(req.Reference); txn != nil {
		return txn, nil
	}

	release, err := o.deps.Calendar.BeginPosting(req.BranchID, req.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	charge, split, err := o.priceOperation(fees.OpDeposit, req.Channel, req.Amount, false)
	if err != nil {
		return nil, err
	}

	if _, err := o.deps.Drawers.ApplyCash(req.TellerID, req.Amount, fees.OpDeposit); err != nil {
		return nil, err
	}

	posting, err := o.deps.Accounts.ApplyPosting(ctx, req.AccountID, req.Amount, ledger.KindDeposit, req.Reference)
	if err != nil {
		o.compensateDrawer(req.TellerID, req.Amount.Neg(), fees.OpDeposit)
		return nil, err
	}

	cash := req.Cash
	txn := o.commit(ctx, &Transaction{
		Reference:        req.Reference,
		Type:             fees.OpDeposit,
		Channel:          req.Channel,
		AccountID:        req.AccountID,
		SourceBranch:     req.BranchID,
		TellerID:         req.TellerID,
		Amount:           req.Amount,
		Fee:              charge,
		CommissionSplit:  split,
		PreviousBalance:  posting.PreviousBalance,
		ResultingBalance: posting.NewBalance,
		AccountingDate:   req.Date,
		Denominations:    &cash,
		Actor:            req.Actor,
	})
	return txn, nil
}

// WithdrawRequest is a cash withdrawal at a teller counter. NoticeID
// references an advance withdrawal notice when one was required.
type WithdrawRequest struct {
	Reference string
	BranchID  string
	TellerID  string
	AccountID string
	Amount    money.Amount
	Cash      money.DenominationSet
	Channel   fees.Channel
	NoticeID  string
	Actor     string
	Date      time.Time
}

// Withdraw settles a cash withdrawal. Available funds are the balance less
// the blocked reservation and any active withdrawal-notice holds not being
// consumed by this request, plus the overdraft allowance.
func (o *Orchestrator) Withdraw(ctx context.Context, req WithdrawRequest) (*Transaction, error) {
	if err := validateCashRequest(req.Reference, req.AccountID, req.Amount, req.Cash); err != nil {
		return nil, err
	}
	if txn := o.byReferenceSnapshot(req.Reference); txn != nil {
		return txn, nil
	}

	release, err := o.deps.Calendar.BeginPosting(req.BranchID, req.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	charge, split, err := o.priceOperation(fees.OpWithdrawal, req.Channel, req.Amount, false)
	if err != nil {
		return nil, err
	}
	totalDebit := req.Amount.Add(charge.Total)

	// Notice consumption, the usable-funds check and the postings run as
	// one critical section per account.
	lock := o.accountLock(req.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if req.NoticeID != "" {
		if err := o.deps.Notices.Consume(req.NoticeID, req.AccountID, req.Amount); err != nil {
			return nil, err
		}
	}
	restoreNotice := func() {
		if req.NoticeID != "" {
			o.deps.Notices.reactivate(req.NoticeID)
		}
	}

	account, err := o.deps.Accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		restoreNotice()
		return nil, err
	}
	holds := o.deps.Notices.HoldTotal(req.AccountID)
	usable := account.Available().Sub(holds).Add(account.OverdraftAllowance)
	if usable.LessThan(totalDebit) {
		restoreNotice()
		return nil, fmt.Errorf("%w: account %s has %s usable, withdrawal needs %s",
			ledger.ErrInsufficientFunds, req.AccountID, usable, totalDebit)
	}

	posting, err := o.deps.Accounts.ApplyPosting(ctx, req.AccountID, req.Amount.Neg(), ledger.KindWithdrawal, req.Reference)
	if err != nil {
		restoreNotice()
		return nil, err
	}

	resulting := posting.NewBalance
	if charge.Total.IsPositive() {
		feePosting, err := o.deps.Accounts.ApplyPosting(ctx, req.AccountID, charge.Total.Neg(), ledger.KindFee, req.Reference+"/fee")
		if err != nil {
			o.compensatePosting(ctx, req.AccountID, posting.Delta, req.Reference)
			restoreNotice()
			return nil, err
		}
		resulting = feePosting.NewBalance
	}

	if _, err := o.deps.Drawers.ApplyCash(req.TellerID, req.Amount.Neg(), fees.OpWithdrawal); err != nil {
		if charge.Total.IsPositive() {
			o.compensatePosting(ctx, req.AccountID, charge.Total.Neg(), req.Reference+"/fee")
		}
		o.compensatePosting(ctx, req.AccountID, posting.Delta, req.Reference)
		restoreNotice()
		return nil, err
	}

	cash := req.Cash
	txn := o.commit(ctx, &Transaction{
		Reference:        req.Reference,
		Type:             fees.OpWithdrawal,
		Channel:          req.Channel,
		AccountID:        req.AccountID,
		SourceBranch:     req.BranchID,
		TellerID:         req.TellerID,
		Amount:           req.Amount,
		Fee:              charge,
		CommissionSplit:  split,
		PreviousBalance:  posting.PreviousBalance,
		ResultingBalance: resulting,
		AccountingDate:   req.Date,
		Denominations:    &cash,
		Actor:            req.Actor,
	})
	return txn, nil
}

// TransferRequest moves funds between two member accounts.
type TransferRequest struct {
	Reference          string
	SourceBranch       string
	DestinationBranch  string
	SourceAccount      string
	DestinationAccount string
	Amount             money.Amount
	Channel            fees.Channel
	Actor              string
	Date               time.Time
}

// Transfer settles an account-to-account transfer. Both legs commit or
// neither: the destination is validated before the source is touched, and a
// failed credit leg unwinds the debits.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if req.Reference == "" {
		return nil, &ValidationError{Field: "reference", Reason: "is required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.SourceAccount == req.DestinationAccount {
		return nil, &ValidationError{Field: "destinationAccount", Reason: "must differ from source"}
	}
	if txn := o.byReferenceSnapshot(req.Reference); txn != nil {
		return txn, nil
	}

	release, err := o.deps.Calendar.BeginPosting(req.SourceBranch, req.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	// Destination validation happens before any source mutation so a bad
	// destination can never strand a half-committed transfer.
	destination, err := o.deps.Accounts.GetAccount(ctx, req.DestinationAccount)
	if err != nil {
		return nil, fmt.Errorf("destination account: %w", err)
	}
	if destination.Status != ledger.StatusActive {
		return nil, &ledger.StatusError{AccountID: destination.ID, Status: destination.Status, Kind: ledger.KindTransferIn}
	}

	interBranch := req.DestinationBranch != "" && req.DestinationBranch != req.SourceBranch
	charge, split, err := o.priceOperation(fees.OpTransfer, req.Channel, req.Amount, interBranch)
	if err != nil {
		return nil, err
	}

	debit, err := o.deps.Accounts.ApplyPosting(ctx, req.SourceAccount, req.Amount.Neg(), ledger.KindTransferOut, req.Reference+"/out")
	if err != nil {
		return nil, err
	}

	resulting := debit.NewBalance
	if charge.Total.IsPositive() {
		feePosting, err := o.deps.Accounts.ApplyPosting(ctx, req.SourceAccount, charge.Total.Neg(), ledger.KindFee, req.Reference+"/fee")
		if err != nil {
			o.compensatePosting(ctx, req.SourceAccount, debit.Delta, req.Reference+"/out")
			return nil, err
		}
		resulting = feePosting.NewBalance
	}

	if _, err := o.deps.Accounts.ApplyPosting(ctx, req.DestinationAccount, req.Amount, ledger.KindTransferIn, req.Reference+"/in"); err != nil {
		if charge.Total.IsPositive() {
			o.compensatePosting(ctx, req.SourceAccount, charge.Total.Neg(), req.Reference+"/fee")
		}
		o.compensatePosting(ctx, req.SourceAccount, debit.Delta, req.Reference+"/out")
		return nil, err
	}

	txn := o.commit(ctx, &Transaction{
		Reference:         req.Reference,
		Type:              fees.OpTransfer,
		Channel:           req.Channel,
		AccountID:         req.SourceAccount,
		CounterpartyID:    req.DestinationAccount,
		SourceBranch:      req.SourceBranch,
		DestinationBranch: req.DestinationBranch,
		Amount:            req.Amount,
		Fee:               charge,
		CommissionSplit:   split,
		PreviousBalance:   debit.PreviousBalance,
		ResultingBalance:  resulting,
		AccountingDate:    req.Date,
		Actor:             req.Actor,
	})
	return txn, nil
}

// Reverse opens a reversal request for a posted transaction. The reversal
// only takes effect once the approval chain completes.
func (o *Orchestrator) Reverse(transactionID, requester, reason string) (*approval.Workflow, error) {
	o.mu.Lock()
	txn, ok := o.transactions[transactionID]
	if ok {
		switch {
		case txn.Status == StatusReversed:
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyReversed, transactionID)
		case txn.Status != StatusPosted || txn.ReversalOf != "":
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s is %s", ErrNotReversible, transactionID, txn.Status)
		}
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}

	flow, err := o.deps.Approvals.Start(workflowKindReversal, transactionID, requester, reason)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.reversals[flow.ID] = transactionID
	o.mu.Unlock()
	return flow, nil
}

// ValidateReversal records the second-stage decision on a reversal request.
func (o *Orchestrator) ValidateReversal(workflowID, actor, comment string, accepted bool) (*approval.Workflow, error) {
	return o.deps.Approvals.Validate(workflowID, actor, comment, accepted)
}

// ApproveReversal records the final decision. Acceptance inverts every leg
// of the original transaction on the given accounting date and marks the
// original Reversed; the original record is never deleted. The terminal
// workflow transition is recorded only after every leg has posted, so a
// closed day or a failed leg leaves the workflow Validated and retryable.
func (o *Orchestrator) ApproveReversal(ctx context.Context, workflowID, actor, comment string, accepted bool, date time.Time) (*Transaction, error) {
	o.mu.Lock()
	transactionID, ok := o.reversals[workflowID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no reversal for workflow %s", ErrTransactionNotFound, workflowID)
	}

	if !accepted {
		if _, err := o.deps.Approvals.Approve(workflowID, actor, comment, false); err != nil {
			return nil, err
		}
		return o.Transaction(transactionID)
	}

	o.approveMu.Lock()
	defer o.approveMu.Unlock()

	if err := o.deps.Approvals.CanApprove(workflowID, actor); err != nil {
		return nil, err
	}

	o.mu.Lock()
	original := o.transactions[transactionID]
	o.mu.Unlock()

	release, err := o.deps.Calendar.BeginPosting(original.SourceBranch, date)
	if err != nil {
		return nil, err
	}
	defer release()

	reversal, undo, err := o.invert(ctx, original, actor, date)
	if err != nil {
		return nil, err
	}

	if _, err := o.deps.Approvals.Approve(workflowID, actor, comment, true); err != nil {
		undo()
		return nil, err
	}
	committed := o.commit(ctx, reversal)

	o.mu.Lock()
	original.Status = StatusReversed
	original.ReversedBy = committed.ID
	o.mu.Unlock()
	return committed, nil
}

// invert posts every leg of the inversion and returns the uncommitted
// reversal record plus an undo that unwinds all posted legs.
func (o *Orchestrator) invert(ctx context.Context, original *Transaction, actor string, date time.Time) (*Transaction, func(), error) {
	ref := "rev:" + original.Reference

	// The drawer leg runs first: a closed or limited drawer fails cleanly
	// before any ledger mutation.
	var drawerDelta money.Amount
	switch original.Type {
	case fees.OpDeposit:
		drawerDelta = original.Amount.Neg()
	case fees.OpWithdrawal:
		drawerDelta = original.Amount
	}
	if !drawerDelta.IsZero() {
		if _, err := o.deps.Drawers.ApplyCash(original.TellerID, drawerDelta, original.Type); err != nil {
			return nil, nil, fmt.Errorf("drawer leg of reversal failed: %w", err)
		}
	}

	undoDrawer := func() {
		if !drawerDelta.IsZero() {
			o.compensateDrawer(original.TellerID, drawerDelta.Neg(), original.Type)
		}
	}

	// The deposit fee never touched the member balance, so only withdrawal
	// and transfer reversals carry a fee refund leg.
	refundFee := original.Fee.Total.IsPositive() && original.Type != fees.OpDeposit
	if refundFee {
		if _, err := o.deps.Accounts.ApplyPosting(ctx, original.AccountID, original.Fee.Total, ledger.KindReversal, ref+"/fee"); err != nil {
			undoDrawer()
			return nil, nil, fmt.Errorf("fee refund leg of reversal failed: %w", err)
		}
	}
	undoFee := func() {
		if refundFee {
			o.compensatePosting(ctx, original.AccountID, original.Fee.Total, ref+"/fee")
		}
	}

	var posting *ledger.Posting
	var err error
	switch original.Type {
	case fees.OpDeposit:
		posting, err = o.deps.Accounts.ApplyPosting(ctx, original.AccountID, original.Amount.Neg(), ledger.KindReversal, ref)
	case fees.OpWithdrawal:
		posting, err = o.deps.Accounts.ApplyPosting(ctx, original.AccountID, original.Amount, ledger.KindReversal, ref)
	case fees.OpTransfer:
		if _, err := o.deps.Accounts.ApplyPosting(ctx, original.CounterpartyID, original.Amount.Neg(), ledger.KindReversal, ref+"/in"); err != nil {
			undoFee()
			undoDrawer()
			return nil, nil, err
		}
		posting, err = o.deps.Accounts.ApplyPosting(ctx, original.AccountID, original.Amount, ledger.KindReversal, ref+"/out")
		if err != nil {
			o.compensatePosting(ctx, original.CounterpartyID, original.Amount.Neg(), ref+"/in")
		}
	default:
		err = fmt.Errorf("%w: cannot invert %s", ErrNotReversible, original.Type)
	}
	if err != nil {
		undoFee()
		undoDrawer()
		return nil, nil, err
	}

	undo := func() {
		switch original.Type {
		case fees.OpDeposit:
			o.compensatePosting(ctx, original.AccountID, original.Amount.Neg(), ref)
		case fees.OpWithdrawal:
			o.compensatePosting(ctx, original.AccountID, original.Amount, ref)
		case fees.OpTransfer:
			o.compensatePosting(ctx, original.AccountID, original.Amount, ref+"/out")
			o.compensatePosting(ctx, original.CounterpartyID, original.Amount.Neg(), ref+"/in")
		}
		undoFee()
		undoDrawer()
	}

	return &Transaction{
		Reference:         ref,
		Type:              original.Type,
		Channel:           original.Channel,
		AccountID:         original.AccountID,
		CounterpartyID:    original.CounterpartyID,
		SourceBranch:      original.SourceBranch,
		DestinationBranch: original.DestinationBranch,
		TellerID:          original.TellerID,
		Amount:            original.Amount,
		Fee:               original.Fee,
		PreviousBalance:   posting.PreviousBalance,
		ResultingBalance:  posting.NewBalance,
		AccountingDate:    date,
		ReversalOf:        original.ID,
		Actor:             actor,
	}, undo, nil
}

// RequestReplenishment opens a teller cash top-up: a pending vault-to-teller
// movement plus an approval workflow over it.
func (o *Orchestrator) RequestReplenishment(vaultID, tellerID string, amount money.Amount, requester, reason string) (*Replenishment, error) {
	if o.deps.Vaults == nil {
		return nil, errors.New("no vault mover configured")
	}

	movement, err := o.deps.Vaults.RequestMovement(vaultID, tellerID, amount, vault.DirectionToTeller, requester)
	if err != nil {
		return nil, err
	}
	flow, err := o.deps.Approvals.Start(workflowKindReplenishment, movement.ID, requester, reason)
	if err != nil {
		return nil, err
	}

	rep := &Replenishment{
		ID:         uuid.New().String(),
		WorkflowID: flow.ID,
		MovementID: movement.ID,
		VaultID:    vaultID,
		TellerID:   tellerID,
		Amount:     amount,
		Requester:  requester,
		State:      flow.State,
	}
	o.mu.Lock()
	o.replenishments[rep.ID] = rep
	o.mu.Unlock()
	out := *rep
	return &out, nil
}

// ValidateReplenishment records the second-stage decision.
func (o *Orchestrator) ValidateReplenishment(replenishmentID, actor, comment string, accepted bool) (*Replenishment, error) {
	o.mu.Lock()
	rep, ok := o.replenishments[replenishmentID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("replenishment %s not found", replenishmentID)
	}

	flow, err := o.deps.Approvals.Validate(rep.WorkflowID, actor, comment, accepted)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	rep.State = flow.State
	out := *rep
	o.mu.Unlock()

	if flow.State == approval.StateRejected {
		if _, err := o.deps.Vaults.Reject(rep.MovementID, actor, comment); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// ApproveReplenishment records the final decision. Acceptance commits the
// vault movement, which moves the cash into the teller drawer. The vault leg
// runs before the terminal workflow transition: a capacity or custodian
// failure leaves the workflow Validated and the approval retryable.
func (o *Orchestrator) ApproveReplenishment(replenishmentID, actor, comment string, accepted bool) (*Replenishment, error) {
	o.mu.Lock()
	rep, ok := o.replenishments[replenishmentID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("replenishment %s not found", replenishmentID)
	}

	if !accepted {
		flow, err := o.deps.Approvals.Approve(rep.WorkflowID, actor, comment, false)
		if err != nil {
			return nil, err
		}
		if _, err := o.deps.Vaults.Reject(rep.MovementID, actor, comment); err != nil {
			return nil, err
		}
		o.mu.Lock()
		rep.State = flow.State
		out := *rep
		o.mu.Unlock()
		return &out, nil
	}

	o.approveMu.Lock()
	defer o.approveMu.Unlock()

	if err := o.deps.Approvals.CanApprove(rep.WorkflowID, actor); err != nil {
		return nil, err
	}
	if _, err := o.deps.Vaults.Approve(rep.MovementID, actor, comment); err != nil {
		return nil, err
	}
	flow, err := o.deps.Approvals.Approve(rep.WorkflowID, actor, comment, true)
	if err != nil {
		return nil, fmt.Errorf("vault movement committed but approval record failed: %w", err)
	}

	o.mu.Lock()
	rep.State = flow.State
	out := *rep
	o.mu.Unlock()
	return &out, nil
}

// Transaction returns a snapshot of a transaction by id.
func (o *Orchestrator) Transaction(id string) (*Transaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	txn, ok := o.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return cloneTransaction(txn), nil
}

// Notices exposes the withdrawal-notice book.
func (o *Orchestrator) Notices() *NoticeBook {
	return o.deps.Notices
}

func (o *Orchestrator) byReferenceSnapshot(reference string) *Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.byReference[reference]; ok {
		return cloneTransaction(o.transactions[id])
	}
	return nil
}

func (o *Orchestrator) priceOperation(op fees.OperationType, ch fees.Channel, amount money.Amount, interBranch bool) (fees.Charge, fees.Split, error) {
	charge := fees.Charge{Flat: money.Zero, RateBased: money.Zero, Total: money.Zero}
	if schedule, ok := o.deps.Schedules[op]; ok {
		charge = schedule.Charge(amount)
	}

	var split fees.Split
	if charge.Total.IsPositive() {
		shares, err := o.deps.Splits.SharesFor(op, ch)
		if err != nil {
			return charge, split, err
		}
		split = fees.ComputeSplit(charge.Total, shares, interBranch)
	}
	return charge, split, nil
}

// commit registers the transaction as Posted, emits the single GL
// instruction and appends the audit event.
func (o *Orchestrator) commit(ctx context.Context, txn *Transaction) *Transaction {
	txn.ID = uuid.New().String()
	txn.Status = StatusPosted
	txn.CreatedAt = time.Now().UTC()

	o.mu.Lock()
	o.transactions[txn.ID] = txn
	o.byReference[txn.Reference] = txn.ID
	o.mu.Unlock()

	route := o.glRoutes[txn.Type]
	if txn.ReversalOf != "" {
		route.debit, route.credit = route.credit, route.debit
	}
	instruction := Instruction{
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		DebitAccount:  route.debit,
		CreditAccount: route.credit,
		Amount:        txn.Amount,
		FeeAmount:     txn.Fee.Total,
		Memo:          string(txn.Type),
		Date:          txn.AccountingDate,
	}
	if err := o.deps.GL.Post(ctx, instruction); err != nil {
		// The instruction is queued for FlushGL rather than dropped: the
		// transaction stays Posted and the GL catches up on redelivery.
		o.log.Error("GL instruction failed, queued for redelivery",
			zap.String("transaction_id", txn.ID),
			zap.String("reference", txn.Reference),
			zap.Error(err))
		o.mu.Lock()
		o.pendingGL = append(o.pendingGL, instruction)
		o.mu.Unlock()
	}

	if _, err := o.deps.Audit.Record(txn.Actor, string(txn.Type), "transaction:"+txn.ID, nil, txn); err != nil {
		o.log.Error("audit record failed", zap.String("transaction_id", txn.ID), zap.Error(err))
	}

	o.log.Info("transaction posted",
		zap.String("transaction_id", txn.ID),
		zap.String("reference", txn.Reference),
		zap.String("type", string(txn.Type)),
		zap.String("account_id", txn.AccountID),
		zap.String("amount", txn.Amount.String()),
		zap.String("fee", txn.Fee.Total.String()))
	return cloneTransaction(txn)
}

// FlushGL redelivers GL instructions whose first delivery failed, in the
// order they were queued. Instructions that fail again stay queued; the
// first redelivery error is returned.
func (o *Orchestrator) FlushGL(ctx context.Context) error {
	o.mu.Lock()
	pending := o.pendingGL
	o.pendingGL = nil
	o.mu.Unlock()

	var remaining []Instruction
	var firstErr error
	for _, instruction := range pending {
		if err := o.deps.GL.Post(ctx, instruction); err != nil {
			remaining = append(remaining, instruction)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(remaining) > 0 {
		o.mu.Lock()
		o.pendingGL = append(remaining, o.pendingGL...)
		o.mu.Unlock()
	}
	return firstErr
}

// PendingGL reports how many GL instructions await redelivery.
func (o *Orchestrator) PendingGL() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pendingGL)
}

// compensatePosting unwinds a committed ledger leg after a later leg failed.
func (o *Orchestrator) compensatePosting(ctx context.Context, accountID string, delta money.Amount, reference string) {
	if _, err := o.deps.Accounts.ApplyPosting(ctx, accountID, delta.Neg(), ledger.KindReversal, reference+"/void"); err != nil {
		o.log.Error("compensating posting failed",
			zap.String("account_id", accountID),
			zap.String("reference", reference),
			zap.Error(err))
	}
}

func (o *Orchestrator) compensateDrawer(tellerID string, delta money.Amount, op fees.OperationType) {
	if _, err := o.deps.Drawers.ApplyCash(tellerID, delta, op); err != nil {
		o.log.Error("compensating drawer entry failed",
			zap.String("teller_id", tellerID),
			zap.Error(err))
	}
}

func validateCashRequest(reference, accountID string, amount money.Amount, cash money.DenominationSet) error {
	if reference == "" {
		return &ValidationError{Field: "reference", Reason: "is required"}
	}
	if accountID == "" {
		return &ValidationError{Field: "accountID", Reason: "is required"}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !cash.Total.Equal(amount) {
		return &ValidationError{Field: "cash", Reason: fmt.Sprintf("counted %s does not match amount %s", cash.Total, amount)}
	}
	return nil
}
