package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

type recordingObserver struct {
	mu      sync.Mutex
	typing  []bool
	updates int
}

func (o *recordingObserver) SessionsChanged(string, []chat.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates++
}

func (o *recordingObserver) Typing(_ string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.typing = append(o.typing, active)
}

func webhookServer(t *testing.T, status int, body string, seen *[]WebhookPayload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if seen != nil {
			*seen = append(*seen, p)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newWebhookSession(t *testing.T, url string) (*Dispatcher, *Manager, string) {
	t.Helper()
	m, _ := newTestManager(nil, testAssistants(url))
	s, err := m.CreateSession(context.Background(), "my-doctor", "u1")
	require.NoError(t, err)
	return NewDispatcher(m, webhook.NewClient(nil)), m, s.ID
}

func TestSendMessageWebhookPrefersFormattedText(t *testing.T) {
	var seen []WebhookPayload
	srv := webhookServer(t, http.StatusOK, `{"formatted_text":"X","reply":"Y"}`, &seen)
	d, m, id := newWebhookSession(t, srv.URL)

	obs := &recordingObserver{}
	reply, err := d.SendMessage(context.Background(), SendRequest{
		AssistantKey: "my-doctor", SessionID: id, UserID: "u1", Text: "knee pain",
	}, obs)
	require.NoError(t, err)
	require.Equal(t, "X", reply)

	s, _ := m.GetSession(id)
	require.Len(t, s.Messages, 2)
	require.Equal(t, chat.RoleUser, s.Messages[0].Role)
	require.Equal(t, "knee pain", s.Messages[0].Content)
	require.Equal(t, chat.RoleAssistant, s.Messages[1].Role)
	require.Equal(t, "X", s.Messages[1].Content)
	require.Equal(t, "knee pain", s.Title)

	require.Equal(t, []bool{true, false}, obs.typing)
	require.Equal(t, 2, obs.updates)

	require.Len(t, seen, 1)
	require.Equal(t, "knee pain", seen[0].Condition)
	require.Equal(t, "knee pain", seen[0].Message)
	require.Equal(t, "MY", seen[0].Country)
	require.Equal(t, id, seen[0].SessionID)
	require.Equal(t, "my-doctor", seen[0].AssistantKey)
	require.True(t, strings.HasSuffix(seen[0].Timestamp, "Z"))
}

func TestSendMessageWebhookErrorStatusBecomesReply(t *testing.T) {
	srv := webhookServer(t, http.StatusInternalServerError, `{}`, nil)
	d, m, id := newWebhookSession(t, srv.URL)

	reply, err := d.SendMessage(context.Background(), SendRequest{
		AssistantKey: "my-doctor", SessionID: id, UserID: "u1", Text: "hello",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Error: Webhook returned status 500", reply)

	s, _ := m.GetSession(id)
	last := s.Messages[len(s.Messages)-1]
	require.Equal(t, chat.RoleAssistant, last.Role)
	require.True(t, strings.HasPrefix(last.Content, "Error:"))
}

func TestSendMessagePlaceholderWebhookFailsFast(t *testing.T) {
	m, _ := newTestManager(nil, testAssistants(""))
	s, err := m.CreateSession(context.Background(), "fm-clinic", "u1")
	require.NoError(t, err)

	d := NewDispatcher(m, nil)
	reply, err := d.SendMessage(context.Background(), SendRequest{
		AssistantKey: "fm-clinic", SessionID: s.ID, Text: "hi",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Error: Webhook URL not configured for this assistant.", reply)
}

func TestSendMessageSGCountry(t *testing.T) {
	var seen []WebhookPayload
	srv := webhookServer(t, http.StatusOK, `{"reply":"ok"}`, &seen)
	m, _ := newTestManager(nil, testAssistants(srv.URL))
	s, err := m.CreateSession(context.Background(), "sg-doctor", "u1")
	require.NoError(t, err)

	_, err = NewDispatcher(m, nil).SendMessage(context.Background(), SendRequest{
		AssistantKey: "sg-doctor", SessionID: s.ID, Text: "cataract",
		Attachments: []Attachment{{Name: "a.pdf"}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "SG", seen[0].Country)
	require.True(t, seen[0].HasAttachments)
	require.Equal(t, 1, seen[0].AttachmentCount)
}

func TestSendMessageInternalFallbackOnFailure(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}, chatErr: errBackendDown}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)

	reply, err := NewDispatcher(m, nil).SendMessage(ctx, SendRequest{
		AssistantKey: "ulink-general", SessionID: "srv-1", UserID: "u1", Text: "hi",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, InternalFallbackReply, reply)

	s, _ := m.GetSession("srv-1")
	require.Equal(t, InternalFallbackReply, s.Messages[1].Content)
}

func TestSendMessageInternalPassesAttachments(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}, chatReply: "done"}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)

	files := []Attachment{{Name: "policy.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}}
	reply, err := NewDispatcher(m, nil).SendMessage(ctx, SendRequest{
		AssistantKey: "ulink-general", SessionID: "srv-1", UserID: "u1", Text: "summarise", Attachments: files,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "done", reply)
	require.Equal(t, "summarise", backend.chatRequests[0].Message)
	require.Equal(t, files, backend.attachments[0])
	require.Equal(t, "summarise", backend.titles["srv-1"])
}

func TestSendMessageFirstReplyHasNoUserMessage(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}, chatReply: "Please upload your documents."}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(ctx, "document-review", "u1")
	require.NoError(t, err)

	_, err = NewDispatcher(m, nil).SendMessage(ctx, SendRequest{
		AssistantKey: "document-review", SessionID: "srv-1", UserID: "u1", Text: "Hi", IsFirstReply: true,
	}, nil)
	require.NoError(t, err)

	s, _ := m.GetSession("srv-1")
	require.Len(t, s.Messages, 1)
	require.Equal(t, chat.RoleAssistant, s.Messages[0].Role)
	require.Equal(t, "Upload Documents", s.Title)
}

func TestSendMessageTitleFailureStillTitlesLocally(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{createRecord: chat.SessionRecord{SessionID: "srv-1"}, titleErr: errBackendDown, chatReply: "ok"}
	m, _ := newTestManager(backend, testAssistants(""))
	_, err := m.CreateSession(ctx, "ulink-general", "u1")
	require.NoError(t, err)

	_, err = NewDispatcher(m, nil).SendMessage(ctx, SendRequest{
		AssistantKey: "ulink-general", SessionID: "srv-1", Text: "claim status",
	}, nil)
	require.NoError(t, err)

	s, _ := m.GetSession("srv-1")
	require.Equal(t, "claim status", s.Title)
}

func TestSendMessageIsAppendOnly(t *testing.T) {
	srv := webhookServer(t, http.StatusOK, `{"reply":"ok"}`, nil)
	d, m, id := newWebhookSession(t, srv.URL)

	prev := []chat.Message{}
	for _, text := range []string{"one", "two", "three"} {
		_, err := d.SendMessage(context.Background(), SendRequest{AssistantKey: "my-doctor", SessionID: id, Text: text}, nil)
		require.NoError(t, err)

		s, _ := m.GetSession(id)
		require.Greater(t, len(s.Messages), len(prev))
		require.Equal(t, prev, s.Messages[:len(prev)])
		prev = s.Messages
	}
	s, _ := m.GetSession(id)
	require.Equal(t, "one", s.Title)
}

func TestSendMessageRejectsUnknownTargets(t *testing.T) {
	m, _ := newTestManager(nil, testAssistants(""))
	d := NewDispatcher(m, nil)

	_, err := d.SendMessage(context.Background(), SendRequest{AssistantKey: "nope", SessionID: "x"}, nil)
	require.ErrorIs(t, err, ErrUnknownAssistant)

	_, err = d.SendMessage(context.Background(), SendRequest{AssistantKey: "my-doctor", SessionID: "x"}, nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExtractReply(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"formatted text first", map[string]any{"formatted_text": "A", "reply": "B"}, "A"},
		{"reply", map[string]any{"reply": "B", "message": "C"}, "B"},
		{"message", map[string]any{"message": "C", "response": "D"}, "C"},
		{"response", map[string]any{"response": "D"}, "D"},
		{"skips empty", map[string]any{"formatted_text": "", "reply": "B"}, "B"},
		{"recommendations", map[string]any{"recommendations": []any{"x"}}, "[\n  \"x\"\n]"},
		{"fallback", map[string]any{"status": "ok"}, WebhookFallbackReply},
		{"nil body", nil, WebhookFallbackReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExtractReply(tc.body))
		})
	}
}
