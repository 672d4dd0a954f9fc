package company

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Handler serves the company settings endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbac,
		validator: validator.New(),
	}
}

// MountRoutes registers company routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuthenticated).Get("/", h.show)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Put("/", h.updateSettings)
}

type settingsPayload struct {
	AutoApprovalLimit      float64 `json:"auto_approval_limit" validate:"min=0"`
	RequireManagerApproval bool    `json:"require_manager_approval"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	record, err := h.service.Get(r.Context(), sess.CompanyID())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	record, err := h.service.UpdateSettings(r.Context(), sess.UserID(), sess.CompanyID(), Settings{
		AutoApprovalLimit:      payload.AutoApprovalLimit,
		RequireManagerApproval: payload.RequireManagerApproval,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "company not found")
	case errors.Is(err, ErrInvalidSettings):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Settings", err.Error())
	default:
		h.logger.Error("company request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
