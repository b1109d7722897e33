package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"fanzcore/gateway/middleware"
	"fanzcore/native/approval"
	"fanzcore/native/ledger"
	"fanzcore/native/settlement"
	"fanzcore/orchestrator"
	"fanzcore/processor"
	"fanzcore/storage"
)

// Deps are the collaborators the gateway fronts.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	// Store serves the read-only transaction lookups. Writes stay with
	// the orchestrator.
	Store       orchestrator.Store
	Approvals   *approval.Queue
	Ledger      *ledger.Ledger
	Registry    *processor.Registry
	Settlements *settlement.Engine
	// SettlementRunner serves the admin re-run trigger.
	SettlementRunner *settlement.Runner
	// Webhooks terminates POST /webhooks/{processor}.
	Webhooks http.Handler
	// Stream terminates the websocket event feed.
	Stream http.Handler
	// DB backs the request idempotency replay cache. Nil disables it.
	DB    *gorm.DB
	Audit *storage.AuditLog

	Auth        *middleware.Authenticator
	RateLimiter *middleware.RateLimiter
	Log         *slog.Logger
}

// New wires the gateway router.
func New(deps Deps) (http.Handler, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("routes: orchestrator required")
	case deps.Store == nil:
		return nil, errors.New("routes: store required")
	case deps.Ledger == nil:
		return nil, errors.New("routes: ledger required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	s := &server{deps: deps, log: deps.Log}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		if deps.RateLimiter != nil {
			v1.Use(deps.RateLimiter.Middleware("public"))
		}
		v1.Use(func(next http.Handler) http.Handler {
			return middleware.WithCorrelation(deps.Audit, next)
		})
		if deps.DB != nil {
			v1.Use(func(next http.Handler) http.Handler {
				return middleware.WithIdempotency(deps.DB, next)
			})
		}

		v1.Post("/payments", s.handlePayment)
		v1.Get("/transactions/{id}", s.handleGetTransaction)
		v1.Get("/transactions/{id}/events", s.handleTransactionEvents)
		v1.Post("/refunds", s.handleRefund)
		v1.Post("/payouts", s.handlePayout)
		v1.Post("/payouts/{id}/cancel", s.handleCancelPayout)
		v1.Post("/payout-batches", s.handlePayoutBatch)
		v1.Post("/disputes/{id}/response", s.handleDisputeResponse)
	})

	if deps.Webhooks != nil {
		r.Handle("/webhooks/{processor}", deps.Webhooks)
	}
	if deps.Stream != nil {
		r.Handle("/ws/events", deps.Stream)
	}

	r.Route("/admin", func(admin chi.Router) {
		if deps.Auth != nil {
			admin.Use(deps.Auth.Middleware("admin"))
		}
		admin.Post("/pause", s.handlePause)
		admin.Post("/resume", s.handleResume)
		admin.Get("/processors", s.handleProcessors)
		admin.Get("/approvals", s.handleListApprovals)
		admin.Post("/approvals/{id}/decision", s.handleDecideApproval)
		admin.Post("/refunds/{id}/decision", s.handleDecideRefund)
		admin.Post("/creators/{id}/hold", s.handleHoldCreator)
		admin.Delete("/creators/{id}/hold", s.handleReleaseCreator)
		admin.Get("/settlements", s.handleListSettlements)
		admin.Post("/settlements/run", s.handleRunSettlements)
		admin.Get("/balances/{account}", s.handleBalance)
	})

	return otelhttp.NewHandler(r, "gateway"), nil
}

type server struct {
	deps Deps
	log  *slog.Logger
}
