package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/ledger"
	"github.com/example/corebank/internal/money"
	"github.com/example/corebank/internal/remit"
	"github.com/example/corebank/internal/security"
	"github.com/example/corebank/internal/settlement"
)

type denominationLine struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type cashPayload struct {
	Lines []denominationLine `json:"lines"`
	Total string             `json:"total"`
}

func (p cashPayload) toSet() (money.DenominationSet, error) {
	lines := make([]money.Denomination, 0, len(p.Lines))
	for _, l := range p.Lines {
		value, err := money.FromString(l.Value)
		if err != nil {
			return money.DenominationSet{}, err
		}
		lines = append(lines, money.Denomination{Value: value, Count: l.Count})
	}
	total, err := money.FromString(p.Total)
	if err != nil {
		return money.DenominationSet{}, err
	}
	return money.NewDenominationSet(lines, total)
}

func parseAmount(w http.ResponseWriter, r *http.Request, field, raw string) (money.Amount, bool) {
	amount, err := money.FromString(raw)
	if err != nil {
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_amount", field+": "+err.Error())
		return money.Zero, false
	}
	return amount, true
}

func parseDate(w http.ResponseWriter, r *http.Request, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC(), true
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_date", err.Error())
		return time.Time{}, false
	}
	return date, true
}

type createAccountRequest struct {
	ID                 string `json:"id"`
	ProductID          string `json:"product_id"`
	BranchID           string `json:"branch_id"`
	Balance            string `json:"balance"`
	OverdraftAllowance string `json:"overdraft_allowance"`
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		balance := money.Zero
		if req.Balance != "" {
			var ok bool
			if balance, ok = parseAmount(w, r, "balance", req.Balance); !ok {
				return
			}
		}
		overdraft := money.Zero
		if req.OverdraftAllowance != "" {
			var ok bool
			if overdraft, ok = parseAmount(w, r, "overdraft_allowance", req.OverdraftAllowance); !ok {
				return
			}
		}

		account := &ledger.Account{
			ID:                 req.ID,
			ProductID:          req.ProductID,
			BranchID:           req.BranchID,
			Balance:            balance,
			OverdraftAllowance: overdraft,
			Status:             ledger.StatusActive,
		}
		if err := deps.Accounts.CreateAccount(r.Context(), account); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, account)
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := deps.Accounts.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, account)
	}
}

type blockRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func handleBlockAmount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		if err := deps.Accounts.BlockAmount(r.Context(), chi.URLParam(r, "accountID"), amount, req.Reason); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReleaseBlock(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		if err := deps.Accounts.ReleaseBlock(r.Context(), chi.URLParam(r, "accountID"), amount); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type noticeRequest struct {
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

func handleRequestNotice(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noticeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		notice, err := deps.Orchestrator.Notices().Request(chi.URLParam(r, "accountID"), amount, req.ExpiresAt)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, notice)
	}
}

type depositRequest struct {
	Reference string      `json:"reference"`
	BranchID  string      `json:"branch_id"`
	TellerID  string      `json:"teller_id"`
	AccountID string      `json:"account_id"`
	Amount    string      `json:"amount"`
	Cash      cashPayload `json:"cash"`
	Channel   string      `json:"channel"`
	Actor     string      `json:"actor"`
	Date      string      `json:"date"`
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req depositRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		date, ok := parseDate(w, r, req.Date)
		if !ok {
			return
		}
		cash, err := req.Cash.toSet()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		txn, err := deps.Orchestrator.Deposit(r.Context(), settlement.DepositRequest{
			Reference: req.Reference,
			BranchID:  req.BranchID,
			TellerID:  req.TellerID,
			AccountID: req.AccountID,
			Amount:    amount,
			Cash:      cash,
			Channel:   fees.Channel(req.Channel),
			Actor:     req.Actor,
			Date:      date,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, txn)
	}
}

type withdrawRequest struct {
	depositRequest
	NoticeID string `json:"notice_id"`
}

func handleWithdraw(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req withdrawRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		date, ok := parseDate(w, r, req.Date)
		if !ok {
			return
		}
		cash, err := req.Cash.toSet()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		txn, err := deps.Orchestrator.Withdraw(r.Context(), settlement.WithdrawRequest{
			Reference: req.Reference,
			BranchID:  req.BranchID,
			TellerID:  req.TellerID,
			AccountID: req.AccountID,
			Amount:    amount,
			Cash:      cash,
			Channel:   fees.Channel(req.Channel),
			NoticeID:  req.NoticeID,
			Actor:     req.Actor,
			Date:      date,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, txn)
	}
}

type transferRequest struct {
	Reference          string `json:"reference"`
	SourceBranch       string `json:"source_branch"`
	DestinationBranch  string `json:"destination_branch"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
	Channel            string `json:"channel"`
	Actor              string `json:"actor"`
	Date               string `json:"date"`
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}
		date, ok := parseDate(w, r, req.Date)
		if !ok {
			return
		}

		txn, err := deps.Orchestrator.Transfer(r.Context(), settlement.TransferRequest{
			Reference:          req.Reference,
			SourceBranch:       req.SourceBranch,
			DestinationBranch:  req.DestinationBranch,
			SourceAccount:      req.SourceAccount,
			DestinationAccount: req.DestinationAccount,
			Amount:             amount,
			Channel:            fees.Channel(req.Channel),
			Actor:              req.Actor,
			Date:               date,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, txn)
	}
}

func handleGetTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := deps.Orchestrator.Transaction(chi.URLParam(r, "transactionID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, txn)
	}
}

type reverseRequest struct {
	Requester string `json:"requester"`
	Reason    string `json:"reason"`
}

func handleReverse(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reverseRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		flow, err := deps.Orchestrator.Reverse(chi.URLParam(r, "transactionID"), req.Requester, req.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, flow)
	}
}

type decisionRequest struct {
	Actor    string `json:"actor"`
	Comment  string `json:"comment"`
	Accepted bool   `json:"accepted"`
	Date     string `json:"date"`
}

func handleValidateReversal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		flow, err := deps.Orchestrator.ValidateReversal(chi.URLParam(r, "workflowID"), req.Actor, req.Comment, req.Accepted)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, flow)
	}
}

func handleApproveReversal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		date, ok := parseDate(w, r, req.Date)
		if !ok {
			return
		}
		txn, err := deps.Orchestrator.ApproveReversal(r.Context(), chi.URLParam(r, "workflowID"), req.Actor, req.Comment, req.Accepted, date)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, txn)
	}
}

type dayRequest struct {
	Date  string `json:"date"`
	Actor string `json:"actor"`
}

func handleOpenDay(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dayRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		date, ok := parseDate(w, r, req.Date)
		if !ok {
			return
		}
		day, err := deps.Calendar.OpenDay(chi.URLParam(r, "branchID"), date, req.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, day)
	}
}

func handleCloseDay(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dayRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		day, err := deps.Calendar.CloseDay(chi.URLParam(r, "branchID"), req.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, day)
	}
}

func handleCurrentDay(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := deps.Calendar.CurrentDay(chi.URLParam(r, "branchID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, day)
	}
}

type sessionRequest struct {
	Actor string      `json:"actor"`
	Cash  cashPayload `json:"cash"`
}

func handleOpenSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cash, err := req.Cash.toSet()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		session, err := deps.Drawers.OpenSession(chi.URLParam(r, "tellerID"), cash, req.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, session)
	}
}

func handleDeclareClose(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cash, err := req.Cash.toSet()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		session, err := deps.Drawers.DeclareClose(chi.URLParam(r, "tellerID"), cash, req.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, session)
	}
}

func handleDrawerBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		balance, err := deps.Drawers.Balance(chi.URLParam(r, "tellerID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]money.Amount{"balance": balance})
	}
}

type initiateRemittanceRequest struct {
	Reference         string      `json:"reference"`
	SenderName        string      `json:"sender_name"`
	SenderPhone       string      `json:"sender_phone"`
	ReceiverName      string      `json:"receiver_name"`
	ReceiverPhone     string      `json:"receiver_phone"`
	ReceiverIDNumber  string      `json:"receiver_id_number"`
	Amount            string      `json:"amount"`
	Channel           string      `json:"channel"`
	SourceBranch      string      `json:"source_branch"`
	DestinationBranch string      `json:"destination_branch"`
	Verification      string      `json:"verification"`
	TellerID          string      `json:"teller_id"`
	Actor             string      `json:"actor"`
}

func handleInitiateRemittance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateRemittanceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, ok := parseAmount(w, r, "amount", req.Amount)
		if !ok {
			return
		}

		remittance, otp, err := deps.Remittances.Initiate(remit.InitiateRequest{
			Reference:         req.Reference,
			Sender:            remit.Party{Name: req.SenderName, Phone: req.SenderPhone},
			Receiver:          remit.Party{Name: req.ReceiverName, Phone: req.ReceiverPhone, IDNumber: req.ReceiverIDNumber},
			Amount:            amount,
			Channel:           fees.Channel(req.Channel),
			SourceBranch:      req.SourceBranch,
			DestinationBranch: req.DestinationBranch,
			Verification:      remit.VerificationMethod(req.Verification),
			TellerID:          req.TellerID,
			Actor:             req.Actor,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, map[string]any{
			"remittance": remittance,
			"otp":        otp,
		})
	}
}

func handleApproveRemittance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		remittance, err := deps.Remittances.Approve(chi.URLParam(r, "remittanceID"), req.Actor, req.Comment, req.Accepted)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, remittance)
	}
}

type payOutRequest struct {
	TellerID         string `json:"teller_id"`
	Actor            string `json:"actor"`
	OTP              string `json:"otp"`
	ReceiverIDNumber string `json:"receiver_id_number"`
	Comment          string `json:"comment"`
}

func handlePayOutRemittance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payOutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		remittance, err := deps.Remittances.PayOut(remit.PayOutRequest{
			RemittanceID:     chi.URLParam(r, "remittanceID"),
			TellerID:         req.TellerID,
			Actor:            req.Actor,
			OTP:              req.OTP,
			ReceiverIDNumber: req.ReceiverIDNumber,
			Comment:          req.Comment,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, remittance)
	}
}
