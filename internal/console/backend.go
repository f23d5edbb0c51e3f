package console

import (
	"context"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// CreateSessionRequest asks the backend to issue a session id.
type CreateSessionRequest struct {
	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId"`
}

// ChatRequest is one message for an INTERNAL assistant.
type ChatRequest struct {
	AssistantID  string `json:"assistantId"`
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	// IsFirstReply asks the server not to store Message as a user turn.
	IsFirstReply bool   `json:"isFirstReply,omitempty"`
}

// Attachment is a file sent alongside a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Backend is the server side the console talks to. Implementations are
// expected to report transport failures as errors; the console decides which
// of them are fatal.
type Backend interface {
	CreateServerSession(ctx context.Context, req CreateSessionRequest) (chat.SessionRecord, error)
	FetchChatHistory(ctx context.Context, userID, assistantID string) ([]chat.SessionRecord, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	PostChatMessage(ctx context.Context, req ChatRequest, attachments []Attachment) (string, error)
}

// Observer receives caller-visible side effects of SendMessage.
type Observer interface {
	SessionsChanged(assistantKey string, sessions []chat.Session)
	Typing(sessionID string, active bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnSessions func(assistantKey string, sessions []chat.Session)
	OnTyping   func(sessionID string, active bool)
}

func (o ObserverFuncs) SessionsChanged(assistantKey string, sessions []chat.Session) {
	if o.OnSessions != nil {
		o.OnSessions(assistantKey, sessions)
	}
}

func (o ObserverFuncs) Typing(sessionID string, active bool) {
	if o.OnTyping != nil {
		o.OnTyping(sessionID, active)
	}
}
