package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	aiservice "github.com/zhouzirui/ulink/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/ulink/backend/internal/service/chat"
	"github.com/zhouzirui/ulink/backend/internal/store"
)

type echoModel struct {
	lastInput []*schema.Message
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.lastInput = input
	return schema.AssistantMessage("Please upload your claim form.", nil), nil
}

func (m *echoModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.lastInput = input
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("Covered ", nil),
		schema.AssistantMessage("up to 5k.", nil),
	}), nil
}

var owner = user.User{ID: "u1", Username: "amy", Role: user.RoleUser}

type fixture struct {
	handler *Handler
	chatSvc *chatservice.Service
	model   *echoModel
}

func setup(t *testing.T, streaming bool) fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "ulink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	m := &echoModel{}
	ai, err := aiservice.NewServiceWithModel(context.Background(), m, streaming)
	require.NoError(t, err)

	chatSvc := chatservice.NewService(repo)
	return fixture{
		handler: New(ai, chatSvc, assistant.NewMemoryStore(assistant.Seed()), nil),
		chatSvc: chatSvc,
		model:   m,
	}
}

func serve(h http.Handler, req *http.Request, as user.User) *httptest.ResponseRecorder {
	req = req.WithContext(middlewarePkg.WithUser(req.Context(), as))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, body Request) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chats/stream", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func readEvents(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var events []StreamResponse
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev StreamResponse
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func eventNames(events []StreamResponse) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

func TestStreamPersistsBothTurns(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	session, err := f.chatSvc.CreateSession(ctx, "ulink-general", owner.ID)
	require.NoError(t, err)

	rec := serve(f.handler, jsonRequest(t, Request{AssistantID: "ulink-general", SessionID: session.ID, Message: "Is surgery covered?"}), owner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.Equal(t, []string{"start", "delta", "delta", "message", "end"}, eventNames(events))
	require.Equal(t, "Covered up to 5k.", events[3].Content)
	require.True(t, events[4].Finished)

	transcript, err := f.chatSvc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	require.Equal(t, chat.RoleUser, transcript[0].Role)
	require.Equal(t, "Covered up to 5k.", transcript[1].Content)
}

func TestFirstReplyMultipartWithFiles(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	session, err := f.chatSvc.CreateSession(ctx, "document-review", owner.ID)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	payload, err := json.Marshal(Request{AssistantID: "document-review", SessionID: session.ID, Message: "Hi", IsFirstReply: true})
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("payload", string(payload)))
	part, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Admitted 2026-02-03, discharged 2026-02-05."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/stream", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(f.handler, req, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"start", "message", "end"}, eventNames(readEvents(t, rec.Body.String())))

	require.Contains(t, f.model.lastInput[0].Content, "notes.txt")

	transcript, err := f.chatSvc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	require.Equal(t, chat.RoleAssistant, transcript[0].Role)
}

func TestStreamRejections(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	session, err := f.chatSvc.CreateSession(ctx, "ulink-general", owner.ID)
	require.NoError(t, err)
	webhookSession, err := f.chatSvc.CreateSession(ctx, "sg-doctor", owner.ID)
	require.NoError(t, err)
	stranger := user.User{ID: "u2", Role: user.RoleUser}

	cases := []struct {
		name string
		req  Request
		as   user.User
		code int
	}{
		{"empty message", Request{SessionID: session.ID}, owner, http.StatusBadRequest},
		{"missing session", Request{SessionID: "nope", Message: "hi"}, owner, http.StatusNotFound},
		{"foreign session", Request{SessionID: session.ID, Message: "hi"}, stranger, http.StatusNotFound},
		{"assistant mismatch", Request{SessionID: session.ID, AssistantID: "document-review", Message: "hi"}, owner, http.StatusBadRequest},
		{"webhook assistant", Request{SessionID: webhookSession.ID, Message: "hi"}, owner, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(f.handler, jsonRequest(t, tc.req), tc.as)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestStreamUnavailableWithoutModel(t *testing.T) {
	h := New(nil, nil, assistant.NewMemoryStore(nil), nil)
	rec := serve(h, jsonRequest(t, Request{SessionID: "s", Message: "hi"}), owner)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
