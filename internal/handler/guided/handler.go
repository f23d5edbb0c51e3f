// Package guided serves the doctor-recommendation flow over a websocket.
package guided

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/guided"
	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

// AccessPolicy decides which assistants a user may talk to.
type AccessPolicy interface {
	CanUse(u user.User, assistantKey string) bool
}

// Handler upgrades guided-flow requests and drives one guided.Conversation
// per connection.
type Handler struct {
	assistants assistant.Store
	access     AccessPolicy
	webhooks   *webhook.Client
	upgrader   websocket.Upgrader
}

// New creates a guided-flow handler. allowOrigin gates the websocket
// handshake; nil accepts every origin.
func New(assistants assistant.Store, access AccessPolicy, webhooks *webhook.Client, allowOrigin func(origin string) bool) *Handler {
	return &Handler{
		assistants: assistants,
		access:     access,
		webhooks:   webhooks,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the websocket under an authenticated router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/guided/{assistantKey}/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "assistantKey")
	a, ok := h.assistants.FindByKey(key)
	if !ok || !a.Guided {
		utils.RespondError(w, http.StatusNotFound, "guided assistant not found")
		return
	}
	caller, _ := middlewarePkg.UserFromContext(r.Context())
	if h.access != nil && !h.access.CanUse(caller, key) {
		utils.RespondError(w, http.StatusForbidden, "assistant not available")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("assistant", key).Msg("[guided] upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Info().Str("assistant", key).Str("user", caller.Username).Msg("[guided] connection opened")
	h.serve(ctx, conn, a)
	log.Info().Str("assistant", key).Str("user", caller.Username).Msg("[guided] connection closed")
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, a assistant.Assistant) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer func() { <-done }()
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		defer close(done)
		pingLoop(pingCtx, conn)
	}()

	send := func(ev guided.Event) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Str("assistant", a.Key).Msg("[guided] write failed")
		}
	}

	engine := guided.NewEngine(guided.VariantFor(a.WebhookCountry()))
	conv := guided.NewConversation(engine, guided.NewWebhookFetcher(h.webhooks, a.WebhookURL), send)
	conv.Start(ctx)

	for {
		var action guided.Action
		if err := conn.ReadJSON(&action); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("assistant", a.Key).Msg("[guided] read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := conv.Handle(ctx, action); err != nil {
			send(guided.Event{Kind: guided.EventError, Text: err.Error()})
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
