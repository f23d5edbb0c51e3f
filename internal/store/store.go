// Package store provides server-side persistence for sessions, messages,
// users, and auth tokens.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("already exists")
)

// Repository defines the persistence operations used by the services.
type Repository interface {
	// CreateSession inserts a session without messages.
	CreateSession(ctx context.Context, session chat.Session) error
	// GetSession returns a session with its messages in order.
	GetSession(ctx context.Context, id string) (chat.Session, error)
	// ListSessions returns a user's sessions for one assistant, newest first.
	ListSessions(ctx context.Context, userID, assistantKey string) ([]chat.Session, error)
	// ListAllSessions returns every session with messages, oldest first.
	ListAllSessions(ctx context.Context) ([]chat.Session, error)
	// UpdateSessionTitle renames a session.
	UpdateSessionTitle(ctx context.Context, id, title string, at time.Time) error
	// AppendMessage adds a message and bumps the session's updated_at.
	AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error
	// DeleteSessions removes sessions and their messages.
	DeleteSessions(ctx context.Context, ids []string) (int64, error)
	// CountUserSessions counts sessions owned by a user.
	CountUserSessions(ctx context.Context, userID string) (int, error)

	// CreateUser inserts a user and its assistant grants.
	CreateUser(ctx context.Context, u user.User) error
	// GetUser looks a user up by id.
	GetUser(ctx context.Context, id string) (user.User, error)
	// GetUserByUsername looks a user up by login name.
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	// ListUsers returns users with role, newest first.
	ListUsers(ctx context.Context, role user.Role) ([]user.User, error)
	// UpdateUser replaces a user's name, hash, and grants.
	UpdateUser(ctx context.Context, u user.User) error
	// DeleteUser removes a user, its grants, and its tokens.
	DeleteUser(ctx context.Context, id string) error

	// SaveToken stores a bearer token.
	SaveToken(ctx context.Context, tok user.Token) error
	// GetToken returns an unexpired token.
	GetToken(ctx context.Context, value string, now time.Time) (user.Token, error)
	// DeleteExpiredTokens prunes tokens that expired before now.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
