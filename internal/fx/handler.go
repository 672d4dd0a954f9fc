package fx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/rbac"
)

// Handler serves rate table lookups.
type Handler struct {
	logger      *slog.Logger
	source      Source
	defaultBase string
	rbac        rbac.Middleware
}

// NewHandler constructs a Handler instance. defaultBase is used when the
// request names no base currency.
func NewHandler(logger *slog.Logger, source Source, defaultBase string, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:      logger,
		source:      source,
		defaultBase: defaultBase,
		rbac:        rbac,
	}
}

// MountRoutes registers rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuthenticated).Get("/rates", h.rates)
}

func (h *Handler) rates(w http.ResponseWriter, r *http.Request) {
	base := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("base")))
	if base == "" {
		base = h.defaultBase
	}
	table, err := h.source.Snapshot(r.Context(), base)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCurrency) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unsupported Currency", "no rates for base "+base)
			return
		}
		h.logger.Error("rate snapshot", slog.String("base", base), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, table)
}
