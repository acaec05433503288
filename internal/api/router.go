package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/corebank/internal/calendar"
	"github.com/example/corebank/internal/drawer"
	"github.com/example/corebank/internal/ledger"
	"github.com/example/corebank/internal/remit"
	"github.com/example/corebank/internal/security"
	"github.com/example/corebank/internal/settlement"
	"github.com/example/corebank/pkg/audit"
)

// Auditor records one event per state-changing request.
type Auditor interface {
	Record(actor, action, entity string, before, after any) (*audit.Event, error)
}

// Dependencies wires the teller API to the domain services.
type Dependencies struct {
	Logger       *zap.Logger
	Orchestrator *settlement.Orchestrator
	Accounts     *ledger.Service
	Calendar     *calendar.Calendar
	Drawers      *drawer.Service
	Remittances  *remit.Service
	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// NewRouter builds the teller HTTP surface.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", handleCreateAccount(deps))
			r.Get("/{accountID}", handleGetAccount(deps))
			r.Post("/{accountID}/blocks", handleBlockAmount(deps))
			r.Post("/{accountID}/blocks/release", handleReleaseBlock(deps))
			r.Post("/{accountID}/notices", handleRequestNotice(deps))
		})

		r.Post("/deposits", handleDeposit(deps))
		r.Post("/withdrawals", handleWithdraw(deps))
		r.Post("/transfers", handleTransfer(deps))
		r.Get("/transactions/{transactionID}", handleGetTransaction(deps))
		r.Post("/transactions/{transactionID}/reverse", handleReverse(deps))
		r.Post("/reversals/{workflowID}/validate", handleValidateReversal(deps))
		r.Post("/reversals/{workflowID}/approve", handleApproveReversal(deps))

		r.Route("/days/{branchID}", func(r chi.Router) {
			r.Post("/open", handleOpenDay(deps))
			r.Post("/close", handleCloseDay(deps))
			r.Get("/", handleCurrentDay(deps))
		})

		r.Route("/tellers/{tellerID}", func(r chi.Router) {
			r.Post("/sessions", handleOpenSession(deps))
			r.Post("/sessions/close", handleDeclareClose(deps))
			r.Get("/balance", handleDrawerBalance(deps))
		})

		r.Route("/remittances", func(r chi.Router) {
			r.Post("/", handleInitiateRemittance(deps))
			r.Post("/{remittanceID}/approve", handleApproveRemittance(deps))
			r.Post("/{remittanceID}/payout", handlePayOutRemittance(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
