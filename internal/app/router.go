package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/expenses"
	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/identity"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	IdentityHandler *identity.Handler
	CompanyHandler  *company.Handler
	ExpenseHandler  *expenses.Handler
	RulesHandler    *rules.Handler
	FlowHandler     *flow.Handler
	FXHandler       *fx.Handler
	JobHandler      *jobs.Handler
	Pool            *pgxpool.Pool
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("health check db ping", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.IdentityHandler.MountAuthRoutes)
	r.Route("/users", params.IdentityHandler.MountUserRoutes)
	r.Route("/company", params.CompanyHandler.MountRoutes)
	r.Route("/expenses", params.ExpenseHandler.MountRoutes)
	r.Route("/approval", func(sub chi.Router) {
		// middleware first: MountRoutes installs the auth guard
		params.FlowHandler.MountRoutes(sub)
		sub.Route("/rules", params.RulesHandler.MountRoutes)
	})
	r.Route("/fx", params.FXHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
