package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/calendar"
	"github.com/example/corebank/internal/drawer"
	"github.com/example/corebank/internal/ledger"
	"github.com/example/corebank/internal/money"
	"github.com/example/corebank/internal/remit"
	"github.com/example/corebank/internal/security"
	"github.com/example/corebank/internal/settlement"
	"github.com/example/corebank/internal/vault"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *settlement.ValidationError
		statusErr     *ledger.StatusError
		sessionErr    *drawer.SessionStateError
		remitErr      *remit.StateError
		transitionErr *approval.InvalidTransitionError
	)

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, money.ErrDenominationMismatch):
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, settlement.ErrTransactionNotFound),
		errors.Is(err, settlement.ErrNoticeNotFound),
		errors.Is(err, remit.ErrRemittanceNotFound),
		errors.Is(err, drawer.ErrTellerNotFound),
		errors.Is(err, vault.ErrVaultNotFound):
		security.WriteJSONErrorDetail(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, drawer.ErrDrawerLimitExceeded),
		errors.Is(err, vault.ErrCapacityExceeded):
		security.WriteJSONErrorDetail(w, r, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, calendar.ErrDayClosed),
		errors.Is(err, calendar.ErrSessionsOpen),
		errors.Is(err, settlement.ErrAlreadyReversed),
		errors.Is(err, settlement.ErrNotReversible),
		errors.Is(err, settlement.ErrNoticeNotUsable),
		errors.As(err, &statusErr),
		errors.As(err, &sessionErr),
		errors.As(err, &remitErr),
		errors.As(err, &transitionErr):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, approval.ErrMakerChecker),
		errors.Is(err, drawer.ErrNotAuthorized),
		errors.Is(err, vault.ErrNotCustodian),
		errors.Is(err, remit.ErrVerificationFailed):
		security.WriteJSONErrorDetail(w, r, http.StatusForbidden, "forbidden", err.Error())
	default:
		security.WriteJSONErrorDetail(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			security.WriteJSONErrorDetail(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return false
		}
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "malformed_json", err.Error())
		return false
	}
	return true
}
