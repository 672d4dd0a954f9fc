package flow

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

// Handler exposes the approval inbox and decision endpoints.
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

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAuthenticated)
	r.Get("/pending", h.pending)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/escalate", h.escalate)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Post("/{id}/override", h.override)
}

type decisionPayload struct {
	Comment string `json:"comment"`
}

type overridePayload struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Comment  string `json:"comment" validate:"required"`
}

type escalatePayload struct {
	TargetID int64  `json:"target_id" validate:"required"`
	Reason   string `json:"reason"`
}

type stepResponse struct {
	ApproverID    int64      `json:"approver_id"`
	Order         int        `json:"order"`
	IsRequired    bool       `json:"is_required"`
	IsManagerStep bool       `json:"is_manager_step"`
	Status        StepStatus `json:"status"`
	Comment       string     `json:"comment,omitempty"`
}

type instanceResponse struct {
	ID            uuid.UUID      `json:"id"`
	ExpenseID     uuid.UUID      `json:"expense_id"`
	RuleName      string         `json:"rule_name"`
	Mode          string         `json:"mode"`
	OverallStatus InstanceStatus `json:"status"`
	CurrentIndex  int            `json:"current_index"`
	Steps         []stepResponse `json:"steps"`
}

func toInstanceResponse(in Instance) instanceResponse {
	steps := make([]stepResponse, 0, len(in.Steps))
	for _, step := range in.Steps {
		steps = append(steps, stepResponse{
			ApproverID:    step.ApproverID,
			Order:         step.Order,
			IsRequired:    step.IsRequired,
			IsManagerStep: step.IsManagerStep,
			Status:        step.Status,
			Comment:       step.Comment,
		})
	}
	return instanceResponse{
		ID:            in.ID,
		ExpenseID:     in.ExpenseID,
		RuleName:      in.RuleName,
		Mode:          string(in.Mode),
		OverallStatus: in.OverallStatus,
		CurrentIndex:  in.CurrentIndex,
		Steps:         steps,
	}
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	items, err := h.service.PendingFor(r.Context(), sess.UserID())
	if err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]instanceResponse, 0, len(items))
	for _, in := range items {
		out = append(out, toInstanceResponse(in))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, DecisionApprove)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision Decision) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "approval id must be a UUID")
		return
	}
	var payload decisionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	instance, err := h.service.Decide(r.Context(), DecideInput{
		InstanceID: id,
		ApproverID: sess.UserID(),
		Decision:   decision,
		Comment:    payload.Comment,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInstanceResponse(instance))
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "approval id must be a UUID")
		return
	}
	var payload overridePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision := DecisionApprove
	if payload.Decision == "REJECT" {
		decision = DecisionReject
	}
	sess := shared.SessionFromContext(r.Context())
	instance, err := h.service.Override(r.Context(), OverrideInput{
		InstanceID: id,
		ActorID:    sess.UserID(),
		CompanyID:  sess.CompanyID(),
		Decision:   decision,
		Comment:    payload.Comment,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInstanceResponse(instance))
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "approval id must be a UUID")
		return
	}
	var payload escalatePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	instance, err := h.service.Escalate(r.Context(), EscalateInput{
		InstanceID: id,
		ActorID:    sess.UserID(),
		CompanyID:  sess.CompanyID(),
		TargetID:   payload.TargetID,
		Reason:     payload.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInstanceResponse(instance))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "approval not found")
	case errors.Is(err, ErrNotAuthorizedApprover):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "you are not an approver for this step")
	case errors.Is(err, ErrAlreadyDecided):
		httpx.Problem(w, http.StatusConflict, "Already Decided", "this step was already decided")
	case errors.Is(err, ErrInstanceTerminal):
		httpx.Problem(w, http.StatusConflict, "Flow Completed", "this approval flow already finished")
	case errors.Is(err, ErrVersionConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Update", "the approval changed underneath you, retry")
	case errors.Is(err, ErrTargetNotEligible):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Target", "the escalation target must be an active user of your company")
	default:
		h.logger.Error("approval request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
