package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/store"
)

var (
	ErrAssistantRequired = errors.New("assistant id is required")
	ErrUserRequired      = errors.New("user id is required")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTitleRequired     = errors.New("title is required")
)

// Service encapsulates server-side conversation state.
type Service struct {
	repo store.Repository
	now  func() time.Time
}

// NewService binds the service to a repository.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSession provisions an empty session owned by userID.
func (s *Service) CreateSession(ctx context.Context, assistantKey, userID string) (chat.Session, error) {
	if assistantKey == "" {
		return chat.Session{}, ErrAssistantRequired
	}
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}

	now := s.now()
	session := chat.Session{
		ID:           uuid.NewString(),
		AssistantKey: assistantKey,
		UserID:       userID,
		Title:        chat.DefaultTitle,
		Messages:     []chat.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// GetSession retrieves a session with its transcript.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, err
}

// History returns a user's sessions for one assistant, newest first.
func (s *Service) History(ctx context.Context, userID, assistantKey string) ([]chat.Session, error) {
	if assistantKey == "" {
		return nil, ErrAssistantRequired
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	return s.repo.ListSessions(ctx, userID, assistantKey)
}

// UpdateTitle renames a session.
func (s *Service) UpdateTitle(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrTitleRequired
	}
	err := s.repo.UpdateSessionTitle(ctx, sessionID, title, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	if sessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}

	msg := chat.Message{Role: role, Content: content, CreatedAt: s.now()}
	err := s.repo.AppendMessage(ctx, sessionID, msg)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Message{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// CountUserSessions reports how many sessions a user owns.
func (s *Service) CountUserSessions(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUserSessions(ctx, userID)
}
