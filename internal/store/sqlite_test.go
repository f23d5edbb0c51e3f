package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "ulink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateSession(ctx, chat.Session{ID: "s1", AssistantKey: "ulink-general", UserID: "u1", Title: chat.DefaultTitle, CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, s.CreateSession(ctx, chat.Session{ID: "s2", AssistantKey: "ulink-general", UserID: "u1", Title: chat.DefaultTitle, CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)}))
	require.ErrorIs(t, s.CreateSession(ctx, chat.Session{ID: "s1"}), ErrConflict)

	require.NoError(t, s.AppendMessage(ctx, "s1", chat.Message{Role: chat.RoleUser, Content: "hi", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.AppendMessage(ctx, "s1", chat.Message{Role: chat.RoleAssistant, Content: "hello", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.UpdateSessionTitle(ctx, "s1", "greeting", base))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "greeting", got.Title)
	require.Equal(t, base.Add(time.Hour), got.UpdatedAt)
	require.Len(t, got.Messages, 2)
	require.Equal(t, chat.RoleUser, got.Messages[0].Role)
	require.Equal(t, "hello", got.Messages[1].Content)

	list, err := s.ListSessions(ctx, "u1", "ulink-general")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s1", list[0].ID)
	require.NotNil(t, list[1].Messages)

	all, err := s.ListAllSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", all[0].ID)

	n, err := s.CountUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	deleted, err := s.DeleteSessions(ctx, []string{"s1", "missing"})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = s.GetSession(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageUnknownSession(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendMessage(context.Background(), "nope", chat.Message{Role: chat.RoleUser, Content: "x", CreatedAt: base})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsEmpty(t *testing.T) {
	s := openTestStore(t)
	list, err := s.ListSessions(context.Background(), "u1", "a")
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	u := user.User{ID: "u1", Username: "amy", PasswordHash: "h", Role: user.RoleUser, AssistantIDs: []string{"my-doctor", "ulink-general"}, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateUser(ctx, u))
	require.ErrorIs(t, s.CreateUser(ctx, user.User{ID: "u2", Username: "amy", Role: user.RoleUser}), ErrConflict)
	require.NoError(t, s.CreateUser(ctx, user.User{ID: "u3", Username: "bob", Role: user.RoleUser, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateUser(ctx, user.User{ID: "a1", Username: "root", Role: user.RoleAdmin, CreatedAt: base}))

	got, err := s.GetUserByUsername(ctx, "amy")
	require.NoError(t, err)
	require.Equal(t, []string{"my-doctor", "ulink-general"}, got.AssistantIDs)

	list, err := s.ListUsers(ctx, user.RoleUser)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "bob", list[0].Username)

	got.Username = "amy2"
	got.AssistantIDs = []string{"sg-doctor"}
	got.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, s.UpdateUser(ctx, got))

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "amy2", got.Username)
	require.Equal(t, []string{"sg-doctor"}, got.AssistantIDs)

	require.NoError(t, s.SaveToken(ctx, user.Token{Value: "t1", UserID: "u1", ExpiresAt: base.Add(time.Hour)}))
	tok, err := s.GetToken(ctx, "t1", base)
	require.NoError(t, err)
	require.Equal(t, "u1", tok.UserID)

	_, err = s.GetToken(ctx, "t1", base.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	_, err = s.GetUser(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetToken(ctx, "t1", base)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteUser(ctx, "u1"), ErrNotFound)
}

func TestDeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.CreateUser(ctx, user.User{ID: "u1", Username: "amy", Role: user.RoleUser}))
	require.NoError(t, s.SaveToken(ctx, user.Token{Value: "old", UserID: "u1", ExpiresAt: base}))
	require.NoError(t, s.SaveToken(ctx, user.Token{Value: "new", UserID: "u1", ExpiresAt: base.Add(time.Hour)}))

	n, err := s.DeleteExpiredTokens(ctx, base)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
