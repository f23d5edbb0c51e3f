package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(Config{Cache: NewCache(kvstore.NewMemory(), "")})
	require.Error(t, err)

	_, err = NewManager(Config{Assistants: assistant.NewMemoryStore(nil)})
	require.Error(t, err)
}

func TestCreateSessionInternalUsesServerID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1", CreatedAt: created}}
	m, cache := newTestManager(backend, testAssistants(""))

	s, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)
	require.Equal(t, "srv-1", s.ID)
	require.Equal(t, created, s.CreatedAt)
	require.Equal(t, created, s.UpdatedAt)
	require.Empty(t, s.Messages)

	cached, ok := cache.Get("srv-1")
	require.True(t, ok)
	require.Equal(t, "ulink-general", cached.AssistantKey)
}

func TestCreateSessionInternalFailureCachesNothing(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createErr: errBackendDown}
	m, cache := newTestManager(backend, testAssistants(""))

	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.ErrorIs(t, err, ErrSessionCreateFailed)
	require.ErrorIs(t, err, errBackendDown)
	require.Empty(t, cache.List("ulink-general"))
}

func TestCreateSessionInternalRejectsEmptyID(t *testing.T) {
	m, _ := newTestManager(&fakeBackend{}, testAssistants(""))
	_, err := m.CreateSession(context.Background(), "ulink-general", "u1")
	require.ErrorIs(t, err, ErrSessionCreateFailed)
}

func TestCreateSessionInternalWithoutBackend(t *testing.T) {
	m, _ := newTestManager(nil, testAssistants(""))
	_, err := m.CreateSession(context.Background(), "ulink-general", "u1")
	require.ErrorIs(t, err, ErrSessionCreateFailed)
}

func TestCreateSessionWebhookFallsBackToLocalID(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createErr: errBackendDown}
	m, cache := newTestManager(backend, testAssistants("https://hooks.example/doctor"))

	s, err := m.CreateSession(ctx, "my-doctor", "u1")
	require.NoError(t, err)
	require.Equal(t, "local-1", s.ID)
	require.Equal(t, "New Conversation", s.Title)
	require.Equal(t, 1, backend.createCalls)

	got := cache.List("my-doctor")
	require.Len(t, got, 1)
	require.Equal(t, "local-1", got[0].ID)
}

func TestCreateSessionWebhookAdoptsServerID(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-9", Title: "From server"}}
	m, _ := newTestManager(backend, testAssistants("https://hooks.example/doctor"))

	s, err := m.CreateSession(ctx, "sg-doctor", "u1")
	require.NoError(t, err)
	require.Equal(t, "srv-9", s.ID)
	require.Equal(t, "From server", s.Title)
}

func TestCreateSessionUnknownAssistant(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(context.Background(), "nope", "u1")
	require.ErrorIs(t, err, ErrUnknownAssistant)
	require.Zero(t, backend.createCalls)
}

func TestListSessionsHydratesOnce(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	backend := &fakeBackend{history: []chat.SessionRecord{
		{SessionID: "a", Title: "older", UpdatedAt: base},
		{SessionID: "", Title: "skipped"},
		{SessionID: "b", Title: "newer", UpdatedAt: base.Add(time.Hour)},
	}}
	m, _ := newTestManager(backend, testAssistants(""))

	first := m.ListSessions(ctx, "ulink-general", "u1")
	require.Len(t, first, 2)
	require.Equal(t, "b", first[0].ID)
	require.Equal(t, "ulink-general", first[0].AssistantKey)

	second := m.ListSessions(ctx, "ulink-general", "u1")
	require.Equal(t, first, second)
	require.Equal(t, 1, backend.historyCalls)
}

func TestListSessionsHydrationFailureReturnsCache(t *testing.T) {
	backend := &fakeBackend{historyErr: errBackendDown}
	m, _ := newTestManager(backend, testAssistants(""))

	got := m.ListSessions(context.Background(), "ulink-general", "u1")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestListSessionsSkipsBackendWhenCached(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}}
	m, _ := newTestManager(backend, testAssistants(""))

	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)

	require.Len(t, m.ListSessions(ctx, "ulink-general", "u1"), 1)
	require.Zero(t, backend.historyCalls)
}

func TestResetCache(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)

	require.NoError(t, m.ResetCache(ctx))
	_, ok := m.GetSession("srv-1")
	require.False(t, ok)
}
