package console

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

const (
	// InternalFallbackReply replaces any failed INTERNAL chat call.
	InternalFallbackReply = "Error on Backend/OpenAI Rate Limiting, please retry at another time."
	// WebhookFallbackReply is used when a webhook answers without a usable field.
	WebhookFallbackReply = "Response received from assistant."
	// isoMillis matches the millisecond ISO-8601 timestamps workflows expect.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
	// errorReplyPrefix starts every webhook failure reply.
	errorReplyPrefix = "Error: "
)

// SendRequest is one outgoing message.
type SendRequest struct {
	AssistantKey string
	SessionID    string
	UserID       string
	Text         string
	Attachments  []Attachment
	// IsFirstReply marks a synthetic greeting that must not appear as a
	// user message.
	IsFirstReply bool
}

// WebhookPayload is the body posted to workflow webhooks for free-text chat.
type WebhookPayload struct {
	Condition       string `json:"condition"`
	Message         string `json:"message"`
	Hospital        string `json:"hospital"`
	State           string `json:"state"`
	Country         string `json:"country"`
	SessionID       string `json:"sessionId"`
	UserID          string `json:"userId"`
	AssistantKey    string `json:"assistantKey"`
	Timestamp       string `json:"timestamp"`
	HasAttachments  bool   `json:"hasAttachments,omitempty"`
	AttachmentCount int    `json:"attachmentCount,omitempty"`
}

// Dispatcher sends messages to the backend path an assistant is routed to
// and records both sides of the exchange in the session cache.
type Dispatcher struct {
	sessions *Manager
	webhooks *webhook.Client
}

// NewDispatcher shares the manager's registry, cache, and backend.
func NewDispatcher(sessions *Manager, webhooks *webhook.Client) *Dispatcher {
	if webhooks == nil {
		webhooks = webhook.NewClient(nil)
	}
	return &Dispatcher{sessions: sessions, webhooks: webhooks}
}

// SendMessage delivers req and returns the assistant's reply. Remote failures
// become textual replies appended to the session; an error is returned only
// for an unknown assistant or session, before any I/O.
func (d *Dispatcher) SendMessage(ctx context.Context, req SendRequest, obs Observer) (string, error) {
	if obs == nil {
		obs = ObserverFuncs{}
	}

	a, err := d.sessions.Assistant(req.AssistantKey)
	if err != nil {
		return "", err
	}
	session, ok := d.sessions.GetSession(req.SessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	if len(session.Messages) == 0 {
		d.assignTitle(ctx, a, req)
	}

	if req.Text != "" && !req.IsFirstReply {
		d.appendMessage(ctx, req.SessionID, chat.RoleUser, req.Text)
	}

	obs.SessionsChanged(a.Key, d.sessions.ListSessions(ctx, a.Key, req.UserID))
	obs.Typing(req.SessionID, true)

	var reply string
	switch a.RoutingKind {
	case assistant.RoutingWebhook:
		reply = d.webhookReply(ctx, a, req)
	default:
		reply = d.internalReply(ctx, a, req)
	}

	obs.Typing(req.SessionID, false)
	d.appendMessage(ctx, req.SessionID, chat.RoleAssistant, reply)
	obs.SessionsChanged(a.Key, d.sessions.ListSessions(ctx, a.Key, req.UserID))

	return reply, nil
}

func (d *Dispatcher) assignTitle(ctx context.Context, a assistant.Assistant, req SendRequest) {
	title := DeriveTitle(req.Text)
	if req.IsFirstReply {
		title = FirstReplyTitle(a.RoutingKind)
	}

	if backend := d.sessions.backend; backend != nil {
		if err := backend.UpdateSessionTitle(ctx, req.SessionID, title); err != nil {
			log.Warn().Err(err).Str("session", req.SessionID).Msg("session title update failed")
		}
	}
	if _, err := d.sessions.cache.SetTitle(ctx, req.SessionID, title); err != nil {
		log.Warn().Err(err).Str("session", req.SessionID).Msg("failed to persist session title")
	}
}

func (d *Dispatcher) appendMessage(ctx context.Context, sessionID string, role chat.Role, content string) {
	msg := chat.Message{Role: role, Content: content, CreatedAt: d.sessions.now()}
	_, ok, err := d.sessions.cache.Append(ctx, sessionID, msg)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to persist message")
	}
	if !ok {
		log.Warn().Str("session", sessionID).Msg("session disappeared from cache, message dropped")
	}
}

func (d *Dispatcher) internalReply(ctx context.Context, a assistant.Assistant, req SendRequest) string {
	backend := d.sessions.backend
	if backend == nil {
		log.Warn().Str("assistant", a.Key).Msg("no backend configured for internal assistant")
		return InternalFallbackReply
	}

	reply, err := backend.PostChatMessage(ctx, ChatRequest{
		AssistantID:  a.Key,
		SessionID:    req.SessionID,
		Message:      req.Text,
		UserID:       req.UserID,
		IsFirstReply: req.IsFirstReply,
	}, req.Attachments)
	if err != nil {
		log.Warn().Err(err).Str("assistant", a.Key).Str("session", req.SessionID).Msg("chat backend call failed")
		return InternalFallbackReply
	}
	return reply
}

func (d *Dispatcher) webhookReply(ctx context.Context, a assistant.Assistant, req SendRequest) string {
	if !a.WebhookConfigured() {
		return errorReplyPrefix + webhook.ErrNotConfigured.Error()
	}

	payload := WebhookPayload{
		Condition:    req.Text,
		Message:      req.Text,
		Country:      a.WebhookCountry(),
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		AssistantKey: a.Key,
		Timestamp:    d.sessions.now().UTC().Format(isoMillis),
	}
	if n := len(req.Attachments); n > 0 {
		payload.HasAttachments = true
		payload.AttachmentCount = n
	}

	var body map[string]any
	if err := d.webhooks.PostJSON(ctx, a.WebhookURL, payload, &body); err != nil {
		log.Warn().Err(err).Str("assistant", a.Key).Str("session", req.SessionID).Msg("webhook call failed")
		return errorReplyPrefix + err.Error()
	}
	return ExtractReply(body)
}

// replyFields is the preference order for webhook reply text.
var replyFields = []string{"formatted_text", "reply", "message", "response"}

// ExtractReply picks the reply text out of a webhook response body.
func ExtractReply(body map[string]any) string {
	for _, field := range replyFields {
		if text, ok := body[field].(string); ok && text != "" {
			return text
		}
	}
	if recs, ok := body["recommendations"]; ok && recs != nil {
		if data, err := json.MarshalIndent(recs, "", "  "); err == nil {
			return string(data)
		}
	}
	return WebhookFallbackReply
}
