package expenses

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// IdempotencyPort guards duplicate submissions. *shared.IdempotencyStore
// satisfies it.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler serves the expense endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyPort
	rbac        rbac.Middleware
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyPort, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		rbac:        rbac,
		validator:   validator.New(),
	}
}

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAuthenticated)
	r.Post("/", h.create)
	r.Get("/mine", h.listMine)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Get("/all", h.listAll)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Post("/{id}/submit", h.submit)
}

type expensePayload struct {
	Category         string  `json:"category" validate:"required"`
	Description      string  `json:"description"`
	OriginalAmount   float64 `json:"original_amount" validate:"required,gt=0"`
	OriginalCurrency string  `json:"original_currency" validate:"required,len=3"`
	ExpenseDate      string  `json:"expense_date"`
	ReceiptURL       string  `json:"receipt_url"`
}

func (p expensePayload) toInput() (CreateInput, error) {
	input := CreateInput{
		Category:         p.Category,
		Description:      p.Description,
		OriginalAmount:   p.OriginalAmount,
		OriginalCurrency: p.OriginalCurrency,
		ReceiptURL:       p.ReceiptURL,
	}
	if p.ExpenseDate != "" {
		parsed, err := time.Parse("2006-01-02", p.ExpenseDate)
		if err != nil {
			return CreateInput{}, err
		}
		input.ExpenseDate = parsed
	}
	return input, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload expensePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := payload.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "expense_date must be YYYY-MM-DD")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	expense, err := h.service.Create(r.Context(), sess.UserID(), sess.CompanyID(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "expense id must be a UUID")
		return
	}
	var payload expensePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := payload.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "expense_date must be YYYY-MM-DD")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	expense, err := h.service.UpdateDraft(r.Context(), sess.UserID(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "expense id must be a UUID")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "expenses.submit"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this submission was already processed")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	sess := shared.SessionFromContext(r.Context())
	expense, err := h.service.Submit(r.Context(), sess.UserID(), id)
	if err != nil {
		// release the key so the caller can retry after fixing the cause
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Error("idempotency rollback", slog.Any("error", delErr))
			}
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "expense id must be a UUID")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	admin := sess.Role() == string(rbac.RoleAdmin)
	expense, err := h.service.Get(r.Context(), sess.UserID(), sess.CompanyID(), admin, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	page, perPage := pageParams(r)
	items, pagination, err := h.service.ListMine(r.Context(), sess.UserID(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": items, "pagination": pagination})
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	page, perPage := pageParams(r)
	items, pagination, err := h.service.ListAll(r.Context(), sess.CompanyID(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": items, "pagination": pagination})
}

func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "expense not found")
	case errors.Is(err, ErrNotOwner):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "you cannot access this expense")
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrNotSubmittable):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrInvalidExpense):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Expense", err.Error())
	case errors.Is(err, rules.ErrNoMatchingRule):
		httpx.Problem(w, http.StatusUnprocessableEntity, "No Matching Rule", "no approval rule matches this expense")
	case errors.Is(err, flow.ErrManagerNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "No Manager", "the submitter has no manager for manager-first approval")
	case errors.Is(err, fx.ErrUnsupportedCurrency):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unsupported Currency", err.Error())
	default:
		h.logger.Error("expense request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
