// Package user serves login and account administration routes.
package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	userService "github.com/zhouzirui/ulink/backend/internal/service/user"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

// Handler exposes the user service over HTTP.
type Handler struct {
	users *userService.Service
}

// New creates a user handler.
func New(users *userService.Service) *Handler {
	return &Handler{users: users}
}

// RegisterPublicRoutes mounts routes that need no token.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/users/login", h.handleLogin)
}

// RegisterRoutes mounts authenticated routes; account management is
// restricted to admins.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me", h.handleMe)

	r.Group(func(admin chi.Router) {
		admin.Use(middlewarePkg.RequireAdmin)
		admin.Post("/users/create", h.handleCreate)
		admin.Get("/users/list", h.handleList)
		admin.Put("/users/{id}", h.handleUpdate)
		admin.Delete("/users/{id}", h.handleDelete)
		admin.Post("/users/{id}/reset-password", h.handleResetPassword)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.users.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := middlewarePkg.UserFromContext(r.Context())
	utils.RespondJSON(w, http.StatusOK, u.Profile())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload userService.CreateInput
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.users.Create(r.Context(), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	utils.RespondJSON(w, http.StatusOK, users)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload userService.UpdateInput
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.users.Update(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if caller, _ := middlewarePkg.UserFromContext(r.Context()); caller.ID == id {
		utils.RespondError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.users.ResetPassword(r.Context(), chi.URLParam(r, "id"), payload.Password); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, userService.ErrInvalidCredentials):
		utils.RespondError(w, http.StatusUnauthorized, userService.ErrInvalidCredentials.Error())
	case errors.Is(err, userService.ErrUserExists):
		utils.RespondError(w, http.StatusConflict, userService.ErrUserExists.Error())
	case errors.Is(err, userService.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, userService.ErrUserNotFound.Error())
	case errors.Is(err, userService.ErrCredentialsRequired),
		errors.Is(err, userService.ErrUserHasSessions),
		errors.Is(err, userService.ErrAssistantsRequired),
		errors.Is(err, userService.ErrUnknownAssistant):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("user request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
