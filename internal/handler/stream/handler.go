// Package stream serves INTERNAL assistant replies over Server-Sent Events.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	aiService "github.com/zhouzirui/ulink/backend/internal/service/ai"
	chatService "github.com/zhouzirui/ulink/backend/internal/service/chat"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

const (
	maxUploadBytes = 32 << 20
	maxFiles       = 10
)

// AccessPolicy decides which assistants a user may talk to.
type AccessPolicy interface {
	CanUse(u user.User, assistantKey string) bool
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	aiService  *aiService.Service
	chatSvc    *chatService.Service
	assistants assistant.Store
	access     AccessPolicy
}

// New creates a new stream handler. aiSvc may be nil when no model is
// configured; requests then fail with 503.
func New(aiSvc *aiService.Service, chatSvc *chatService.Service, assistants assistant.Store, access AccessPolicy) *Handler {
	return &Handler{
		aiService:  aiSvc,
		chatSvc:    chatSvc,
		assistants: assistants,
		access:     access,
	}
}

// Request is the "payload" part of a stream request.
type Request struct {
	AssistantID  string `json:"assistantId"`
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	IsFirstReply bool   `json:"isFirstReply,omitempty"`
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServeHTTP handles POST /chats/stream.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.aiService == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	req, attachments, err := parseRequest(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" && len(attachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "message or files required")
		return
	}

	session, a, status, err := h.resolve(r.Context(), req)
	if err != nil {
		utils.RespondError(w, status, err.Error())
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, session, a, req, attachments); err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("[stream] error handling request")
	}
}

func parseRequest(w http.ResponseWriter, r *http.Request) (Request, []aiService.Attachment, error) {
	var req Request

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := utils.DecodeJSON(r, &req); err != nil {
			return req, nil, errors.New("invalid request body")
		}
		return req, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, nil, errors.New("invalid multipart body")
	}
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &req); err != nil {
		return req, nil, errors.New("invalid payload field")
	}

	files := r.MultipartForm.File["files"]
	if len(files) > maxFiles {
		return req, nil, fmt.Errorf("at most %d files allowed", maxFiles)
	}
	attachments := make([]aiService.Attachment, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return req, nil, errors.Wrapf(err, "open %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return req, nil, errors.Wrapf(err, "read %s", fh.Filename)
		}
		attachments = append(attachments, aiService.Attachment{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return req, attachments, nil
}

// resolve checks the session belongs to the caller and is served by an
// INTERNAL assistant.
func (h *Handler) resolve(ctx context.Context, req Request) (chat.Session, assistant.Assistant, int, error) {
	if req.SessionID == "" {
		return chat.Session{}, assistant.Assistant{}, http.StatusBadRequest, errors.New("sessionId is required")
	}
	session, err := h.chatSvc.GetSession(ctx, req.SessionID)
	if err != nil || !middlewarePkg.CanActFor(ctx, session.UserID) {
		return chat.Session{}, assistant.Assistant{}, http.StatusNotFound, chatService.ErrSessionNotFound
	}
	if req.AssistantID != "" && req.AssistantID != session.AssistantKey {
		return chat.Session{}, assistant.Assistant{}, http.StatusBadRequest, errors.New("assistant does not match session")
	}

	a, ok := h.assistants.FindByKey(session.AssistantKey)
	if !ok || a.IsWebhook() {
		return chat.Session{}, assistant.Assistant{}, http.StatusBadRequest, errors.New("assistant is not served by chat backend")
	}
	caller, _ := middlewarePkg.UserFromContext(ctx)
	if h.access != nil && !h.access.CanUse(caller, a.Key) {
		return chat.Session{}, assistant.Assistant{}, http.StatusForbidden, errors.New("assistant not available")
	}
	return session, a, 0, nil
}

// HandleStreamRequest processes streaming AI responses for a chat session
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, session chat.Session, a assistant.Assistant, req Request, attachments []aiService.Attachment) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return errors.New("streaming unsupported")
	}
	utils.SetupSSEHeaders(w)

	history := session.Messages
	userMessage := strings.TrimSpace(req.Message)

	if userMessage != "" && !req.IsFirstReply {
		if _, err := h.chatSvc.SaveMessage(ctx, session.ID, chat.RoleUser, userMessage); err != nil {
			h.sendSSEError(w, flusher, session.ID, "failed to save message")
			return errors.Wrap(err, "save user message")
		}
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: session.ID,
		Content:   a.DisplayName,
	})

	response, err := h.dispatchAIResponse(ctx, w, flusher, session.ID, a, history, userMessage, attachments)
	if err != nil {
		h.sendSSEError(w, flusher, session.ID, fmt.Sprintf("AI generation failed: %v", err))
		return err
	}

	if _, err := h.chatSvc.SaveMessage(ctx, session.ID, chat.RoleAssistant, response.Content); err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("failed to save assistant message")
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: session.ID,
		Finished:  true,
	})

	log.Info().Str("session", session.ID).Str("assistant", a.Key).Int("attachments", len(attachments)).Msg("[stream] completed response")
	return nil
}

func (h *Handler) dispatchAIResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, a assistant.Assistant, history []chat.Message, userMessage string, attachments []aiService.Attachment) (*schema.Message, error) {
	if h.aiService.StreamingEnabled() {
		return h.streamAIResponse(ctx, w, flusher, sessionID, a, history, userMessage, attachments)
	}

	response, err := h.aiService.GenerateResponse(ctx, sessionID, a, history, userMessage, attachments)
	if err != nil {
		return nil, err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   response.Content,
	})
	return response, nil
}

func (h *Handler) streamAIResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, a assistant.Assistant, history []chat.Message, userMessage string, attachments []aiService.Attachment) (*schema.Message, error) {
	stream, err := h.aiService.StreamResponse(ctx, a, history, userMessage, attachments)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendSSE(w, flusher, StreamResponse{
				Event:     "delta",
				SessionID: sessionID,
				Content:   chunk.Content,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("empty model response")
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   response.Content,
	})
	return response, nil
}

// sendSSE sends a Server-Sent Event
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, sessionID, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event:     "error",
		SessionID: sessionID,
		Error:     errorMsg,
	})
}
