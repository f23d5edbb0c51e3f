package chat

import "time"

// DefaultTitle is the title given to sessions that have no derived title yet.
const DefaultTitle = "New chat"

// Session is one conversation thread between a user and an assistant.
// Messages is append-only during normal operation.
type Session struct {
	ID           string    `json:"id"`
	AssistantKey string    `json:"assistantKey"`
	UserID       string    `json:"userId,omitempty"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Clone returns a copy that does not share the message slice.
func (s Session) Clone() Session {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

// SessionRecord is the wire shape the backend uses for sessions and history.
type SessionRecord struct {
	SessionID   string    `json:"sessionId"`
	AssistantID string    `json:"assistantId"`
	UserID      string    `json:"userId,omitempty"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ToSession maps a backend record into a Session.
func (r SessionRecord) ToSession() Session {
	messages := r.Messages
	if messages == nil {
		messages = []Message{}
	}
	return Session{
		ID:           r.SessionID,
		AssistantKey: r.AssistantID,
		UserID:       r.UserID,
		Title:        r.Title,
		Messages:     messages,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Record maps a Session into its backend wire shape.
func (s Session) Record() SessionRecord {
	return SessionRecord{
		SessionID:   s.ID,
		AssistantID: s.AssistantKey,
		UserID:      s.UserID,
		Title:       s.Title,
		Messages:    s.Messages,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
