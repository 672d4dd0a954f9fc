package rules

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Handler wires HTTP endpoints for managing approval rules.
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

// MountRoutes registers rule management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
}

type slotPayload struct {
	ApproverID int64 `json:"approver_id" validate:"required"`
	Order      int   `json:"order" validate:"required,min=1"`
	IsRequired bool  `json:"is_required"`
}

type overridePayload struct {
	PercentageThreshold int     `json:"percentage_threshold" validate:"min=0,max=100"`
	SpecificApproverIDs []int64 `json:"specific_approver_ids"`
}

type rulePayload struct {
	Name            string           `json:"name" validate:"required"`
	Description     string           `json:"description"`
	AmountThreshold float64          `json:"amount_threshold" validate:"min=0"`
	Categories      []string         `json:"categories"`
	Mode            string           `json:"mode" validate:"required,oneof=SEQUENTIAL PARALLEL"`
	// omitted on create means "use the company default"
	ManagerFirst *bool `json:"manager_first"`
	Slots           []slotPayload    `json:"approvers" validate:"dive"`
	Override        *overridePayload `json:"override"`
	IsActive        *bool            `json:"is_active"`
}

type ruleResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	AmountThreshold float64         `json:"amount_threshold"`
	Categories      []string        `json:"categories"`
	Mode            FlowMode        `json:"mode"`
	ManagerFirst    bool            `json:"manager_first"`
	Approvers       []ApproverSlot  `json:"approvers"`
	Override        *OverridePolicy `json:"override,omitempty"`
	IsActive        bool            `json:"is_active"`
}

func toRuleResponse(rule ApprovalRule) ruleResponse {
	return ruleResponse{
		ID:              rule.ID,
		Name:            rule.Name,
		Description:     rule.Description,
		AmountThreshold: rule.Conditions.AmountThreshold,
		Categories:      rule.Conditions.Categories,
		Mode:            rule.Mode,
		ManagerFirst:    rule.ManagerFirst,
		Approvers:       rule.Slots,
		Override:        rule.Override,
		IsActive:        rule.IsActive,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	items, err := h.service.List(r.Context(), sess.CompanyID())
	if err != nil {
		h.logger.Error("list rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]ruleResponse, 0, len(items))
	for _, rule := range items {
		out = append(out, toRuleResponse(rule))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rule id must be a UUID")
		return
	}
	rule, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	rule, err := h.service.Create(r.Context(), CreateRuleInput{
		CompanyID:    sess.CompanyID(),
		Name:         payload.Name,
		Description:  payload.Description,
		Conditions:   Conditions{AmountThreshold: payload.AmountThreshold, Categories: payload.Categories},
		Mode:         FlowMode(payload.Mode),
		Slots:        payloadSlots(payload.Slots),
		ManagerFirst: payload.ManagerFirst,
		Override:     payloadOverride(payload.Override),
		ActorID:      sess.UserID(),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rule id must be a UUID")
		return
	}
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	rule, err := h.service.Update(r.Context(), UpdateRuleInput{
		ID:           id,
		Name:         payload.Name,
		Description:  payload.Description,
		Conditions:   Conditions{AmountThreshold: payload.AmountThreshold, Categories: payload.Categories},
		Mode:         FlowMode(payload.Mode),
		Slots:        payloadSlots(payload.Slots),
		ManagerFirst: payload.ManagerFirst != nil && *payload.ManagerFirst,
		Override:     payloadOverride(payload.Override),
		IsActive:     active,
		ActorID:      sess.UserID(),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rule id must be a UUID")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, sess.UserID()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request) (rulePayload, bool) {
	var payload rulePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return rulePayload{}, false
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return rulePayload{}, false
	}
	return payload, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidRule):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Rule", err.Error())
	default:
		h.logger.Error("rules handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func payloadSlots(in []slotPayload) []ApproverSlot {
	out := make([]ApproverSlot, 0, len(in))
	for _, slot := range in {
		out = append(out, ApproverSlot{ApproverID: slot.ApproverID, Order: slot.Order, IsRequired: slot.IsRequired})
	}
	return out
}

func payloadOverride(in *overridePayload) *OverridePolicy {
	if in == nil {
		return nil
	}
	return &OverridePolicy{PercentageThreshold: in.PercentageThreshold, SpecificApproverIDs: in.SpecificApproverIDs}
}
