package console

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// Config wires the manager's collaborators. Backend may be nil, in which
// case INTERNAL sessions cannot be created and hydration is skipped.
type Config struct {
	Assistants assistant.Store
	Cache      *Cache
	Backend    Backend
	Now        func() time.Time
	NewID      func() string
}

// Manager creates, lists, and hydrates sessions per (user, assistant) pair.
type Manager struct {
	assistants assistant.Store
	cache      *Cache
	backend    Backend
	now        func() time.Time
	newID      func() string
}

// NewManager validates cfg and fills in defaults.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Assistants == nil {
		return nil, errors.New("assistant registry is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("session cache is required")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{
		assistants: cfg.Assistants,
		cache:      cfg.Cache,
		backend:    cfg.Backend,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}, nil
}

// Load reads the persisted cache. Call once before use.
func (m *Manager) Load(ctx context.Context) error {
	return m.cache.Load(ctx)
}

// Assistant resolves key against the registry.
func (m *Manager) Assistant(key string) (assistant.Assistant, error) {
	a, ok := m.assistants.FindByKey(key)
	if !ok {
		return assistant.Assistant{}, errors.Wrapf(ErrUnknownAssistant, "key %q", key)
	}
	return a, nil
}

// ListSessions returns cached sessions for the pair, newest first. When the
// cache has none it hydrates once from the backend; hydration failures are
// logged and the cached (empty) result is returned.
func (m *Manager) ListSessions(ctx context.Context, assistantKey, userID string) []chat.Session {
	sessions := m.cache.List(assistantKey)
	if len(sessions) > 0 || m.backend == nil {
		return sessions
	}

	records, err := m.backend.FetchChatHistory(ctx, userID, assistantKey)
	if err != nil {
		log.Warn().Err(err).Str("assistant", assistantKey).Str("user", userID).Msg("chat history hydration failed")
		return sessions
	}
	if len(records) == 0 {
		return sessions
	}

	hydrated := make([]chat.Session, 0, len(records))
	for _, record := range records {
		if record.SessionID == "" {
			continue
		}
		s := record.ToSession()
		if s.AssistantKey == "" {
			s.AssistantKey = assistantKey
		}
		hydrated = append(hydrated, s)
	}
	if err := m.cache.Add(ctx, hydrated...); err != nil {
		log.Warn().Err(err).Str("assistant", assistantKey).Msg("failed to persist hydrated sessions")
	}

	log.Debug().Str("assistant", assistantKey).Int("sessions", len(hydrated)).Msg("hydrated sessions from backend")
	return m.cache.List(assistantKey)
}

// CreateSession opens a new session. INTERNAL assistants require a
// backend-issued id and fail with ErrSessionCreateFailed otherwise. WEBHOOK
// assistants start from a local id and adopt the backend's id when the
// best-effort backend call succeeds.
func (m *Manager) CreateSession(ctx context.Context, assistantKey, userID string) (chat.Session, error) {
	a, err := m.Assistant(assistantKey)
	if err != nil {
		return chat.Session{}, err
	}

	var session chat.Session
	switch a.RoutingKind {
	case assistant.RoutingWebhook:
		session = m.localSession(ctx, a, userID)
	default:
		session, err = m.serverSession(ctx, a, userID)
		if err != nil {
			return chat.Session{}, err
		}
	}

	if err := m.cache.Add(ctx, session); err != nil {
		return chat.Session{}, err
	}
	log.Info().Str("assistant", a.Key).Str("session", session.ID).Msg("session created")
	return session, nil
}

func (m *Manager) serverSession(ctx context.Context, a assistant.Assistant, userID string) (chat.Session, error) {
	if m.backend == nil {
		return chat.Session{}, &SessionCreateError{AssistantKey: a.Key, Err: errors.New("no backend configured")}
	}

	record, err := m.backend.CreateServerSession(ctx, CreateSessionRequest{AssistantID: a.Key, UserID: userID})
	if err != nil {
		return chat.Session{}, &SessionCreateError{AssistantKey: a.Key, Err: err}
	}
	if record.SessionID == "" {
		return chat.Session{}, &SessionCreateError{AssistantKey: a.Key, Err: errors.New("backend returned no session id")}
	}

	now := m.now()
	session := chat.Session{
		ID:           record.SessionID,
		AssistantKey: a.Key,
		UserID:       userID,
		Title:        record.Title,
		Messages:     []chat.Message{},
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	return session, nil
}

func (m *Manager) localSession(ctx context.Context, a assistant.Assistant, userID string) chat.Session {
	now := m.now()
	session := chat.Session{
		ID:           m.newID(),
		AssistantKey: a.Key,
		UserID:       userID,
		Title:        FirstReplyTitleWebhook,
		Messages:     []chat.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.backend == nil {
		return session
	}

	record, err := m.backend.CreateServerSession(ctx, CreateSessionRequest{AssistantID: a.Key, UserID: userID})
	if err != nil {
		log.Warn().Err(err).Str("assistant", a.Key).Msg("backend session creation failed, using local session")
		return session
	}
	if record.SessionID == "" {
		return session
	}

	session.ID = record.SessionID
	if record.Title != "" {
		session.Title = record.Title
	}
	if !record.CreatedAt.IsZero() {
		session.CreatedAt = record.CreatedAt
	}
	if !record.UpdatedAt.IsZero() {
		session.UpdatedAt = record.UpdatedAt
	}
	return session
}

// GetSession is a pure cache lookup.
func (m *Manager) GetSession(id string) (chat.Session, bool) {
	return m.cache.Get(id)
}

// ResetCache forgets every cached session, e.g. after a server-side backup.
func (m *Manager) ResetCache(ctx context.Context) error {
	return m.cache.Reset(ctx)
}
