package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Handler serves authentication and user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  *shared.SessionManager
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		rbac:      rbac,
		validator: validator.New(),
	}
}

// MountAuthRoutes registers register/login/logout.
func (h *Handler) MountAuthRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.With(h.rbac.RequireAuthenticated).Post("/logout", h.logout)
}

// MountUserRoutes registers user management routes.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Get("/", h.list)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Post("/", h.create)
	r.With(h.rbac.RequireRole(rbac.RoleManager, rbac.RoleAdmin)).Get("/team", h.team)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Put("/{id}/role", h.changeRole)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Put("/{id}/manager", h.assignManager)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Post("/{id}/deactivate", h.deactivate)
}

type registerPayload struct {
	CompanyName string `json:"company_name" validate:"required"`
	Country     string `json:"country" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type createUserPayload struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Role      string `json:"role" validate:"required,oneof=ADMIN MANAGER EMPLOYEE"`
	ManagerID int64  `json:"manager_id"`
}

type rolePayload struct {
	Role string `json:"role" validate:"required,oneof=ADMIN MANAGER EMPLOYEE"`
}

type managerPayload struct {
	ManagerID int64 `json:"manager_id"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ManagerID int64  `json:"manager_id,omitempty"`
	IsActive  bool   `json:"is_active"`
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		ManagerID: u.ManagerID,
		IsActive:  u.IsActive,
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	comp, admin, err := h.service.Register(r.Context(), RegisterInput{
		CompanyName: payload.CompanyName,
		Country:     payload.Country,
		Name:        payload.Name,
		Email:       payload.Email,
		Password:    payload.Password,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	sess.Authenticate(admin.ID, comp.ID, string(admin.Role))
	if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not establish session")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"company": comp,
		"user":    toUserResponse(admin),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	sess.Authenticate(user.ID, user.CompanyID, string(user.Role))
	if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not establish session")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	sess.Destroy()
	if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("destroy session", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	users, err := h.service.List(r.Context(), sess.CompanyID())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) team(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	users, err := h.service.Team(r.Context(), sess.UserID())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createUserPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sess := shared.SessionFromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), sess.UserID(), sess.CompanyID(), CreateUserInput{
		Name:      payload.Name,
		Email:     payload.Email,
		Password:  payload.Password,
		Role:      rbac.Role(payload.Role),
		ManagerID: payload.ManagerID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "user id must be numeric")
		return
	}
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sess := shared.SessionFromContext(r.Context())
	user, err := h.service.ChangeRole(r.Context(), sess.UserID(), sess.CompanyID(), userID, rbac.Role(payload.Role))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) assignManager(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "user id must be numeric")
		return
	}
	var payload managerPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if err := h.service.AssignManager(r.Context(), sess.UserID(), sess.CompanyID(), userID, payload.ManagerID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "user id must be numeric")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), sess.UserID(), sess.CompanyID(), userID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
	case errors.Is(err, ErrEmailTaken):
		httpx.Problem(w, http.StatusConflict, "Email Taken", "an account with this email already exists")
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
	case errors.Is(err, ErrUserInactive):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "account deactivated")
	case errors.Is(err, ErrInvalidRole):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Role", err.Error())
	default:
		h.logger.Error("identity request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
