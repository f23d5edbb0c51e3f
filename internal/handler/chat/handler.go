// Package chat serves session and history routes.
package chat

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/internal/service/backup"
	chatService "github.com/zhouzirui/ulink/backend/internal/service/chat"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

// AccessPolicy decides which assistants a user may talk to.
type AccessPolicy interface {
	CanUse(u user.User, assistantKey string) bool
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc    *chatService.Service
	backupSvc  *backup.Service
	assistants assistant.Store
	access     AccessPolicy
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, backupSvc *backup.Service, assistants assistant.Store, access AccessPolicy) *Handler {
	return &Handler{
		chatSvc:    chatSvc,
		backupSvc:  backupSvc,
		assistants: assistants,
		access:     access,
	}
}

// RegisterRoutes 注册聊天相关的路由. The router must already require auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/create", h.handleCreateSession)
	r.Get("/chats/history", h.handleHistory)
	r.Put("/chats/title", h.handleUpdateTitle)
	r.Get("/chats/{sessionID}/export", h.handleExport)
	r.With(middlewarePkg.RequireAdmin).Post("/chats/export-all", h.handleExportAll)
}

type createSessionRequest struct {
	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, ok := h.resolveUser(w, r, payload.UserID)
	if !ok {
		return
	}
	if !h.checkAssistant(w, r, payload.AssistantID) {
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.AssistantID, userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session.Record())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, ok := h.resolveUser(w, r, query.Get("userId"))
	if !ok {
		return
	}
	assistantID := query.Get("assistantId")
	if !h.checkAssistant(w, r, assistantID) {
		return
	}

	sessions, err := h.chatSvc.History(r.Context(), userID, assistantID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	records := make([]chat.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		records = append(records, s.Record())
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, ok := h.ownedSession(w, r, payload.SessionID); !ok {
		return
	}
	if err := h.chatSvc.UpdateTitle(r.Context(), payload.SessionID, payload.Title); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": payload.SessionID, "title": strings.TrimSpace(payload.Title)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	name := session.AssistantKey
	if a, found := h.assistants.FindByKey(session.AssistantKey); found {
		name = a.DisplayName
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+chatService.ExportFilename(session)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(chatService.RenderMarkdown(session, name))); err != nil {
		log.Debug().Err(err).Str("session", session.ID).Msg("transcript download interrupted")
	}
}

func (h *Handler) handleExportAll(w http.ResponseWriter, r *http.Request) {
	if h.backupSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "backup unavailable")
		return
	}
	result, err := h.backupSvc.ExportAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("export-all failed")
		utils.RespondError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// resolveUser defaults the target user to the caller and forbids acting for
// someone else unless the caller is an admin.
func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	caller, _ := middlewarePkg.UserFromContext(r.Context())
	if requested == "" {
		requested = caller.ID
	}
	if !middlewarePkg.CanActFor(r.Context(), requested) {
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
		return "", false
	}
	return requested, true
}

func (h *Handler) checkAssistant(w http.ResponseWriter, r *http.Request, key string) bool {
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "assistantId is required")
		return false
	}
	if _, ok := h.assistants.FindByKey(key); !ok {
		utils.RespondError(w, http.StatusBadRequest, "assistant not found")
		return false
	}
	caller, _ := middlewarePkg.UserFromContext(r.Context())
	if h.access != nil && !h.access.CanUse(caller, key) {
		utils.RespondError(w, http.StatusForbidden, "assistant not available")
		return false
	}
	return true
}

func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request, sessionID string) (chat.Session, bool) {
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return chat.Session{}, false
	}
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return chat.Session{}, false
	}
	if !middlewarePkg.CanActFor(r.Context(), session.UserID) {
		utils.RespondError(w, http.StatusNotFound, chatService.ErrSessionNotFound.Error())
		return chat.Session{}, false
	}
	return session, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrAssistantRequired),
		errors.Is(err, chatService.ErrUserRequired),
		errors.Is(err, chatService.ErrTitleRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
