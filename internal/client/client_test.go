package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ulink/backend/internal/console"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost:8080", nil)
	require.Error(t, err)
}

func TestLoginSetsToken(t *testing.T) {
	var authHeaders []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/users/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`{"token":"tok-1","user":{"id":"u1","username":"amy","role":"user"}}`))
		case "/api/users/me":
			_, _ = w.Write([]byte(`{"id":"u1","username":"amy","role":"user"}`))
		}
	})

	_, err := c.Login(context.Background(), "amy", "bad")
	require.True(t, IsUnauthorized(err))
	require.Contains(t, err.Error(), "Invalid credentials")

	res, err := c.Login(context.Background(), "amy", "pw")
	require.NoError(t, err)
	require.Equal(t, "tok-1", res.Token)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "amy", me.Username)
	require.Equal(t, "Bearer tok-1", authHeaders[len(authHeaders)-1])
}

func TestSessionCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/create":
			var req console.CreateSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "ulink-general", req.AssistantID)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sessionId":"srv-1","assistantId":"ulink-general","title":"New chat"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/chats/history":
			require.Equal(t, "u1", r.URL.Query().Get("userId"))
			_, _ = w.Write([]byte(`[{"sessionId":"srv-1","assistantId":"ulink-general","title":"hi","messages":[{"role":"user","content":"hi"}]}]`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/chats/title":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"session not found"}`))
		}
	})
	ctx := context.Background()

	rec, err := c.CreateServerSession(ctx, console.CreateSessionRequest{AssistantID: "ulink-general", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "srv-1", rec.SessionID)

	history, err := c.FetchChatHistory(ctx, "u1", "ulink-general")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, chat.RoleUser, history[0].Messages[0].Role)

	err = c.UpdateSessionTitle(ctx, "srv-1", "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestPostChatMessageStreams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var req console.ChatRequest
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload")), &req))
		require.Equal(t, "Is dental covered?", req.Message)

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 1)
		require.Equal(t, "claim.pdf", files[0].Filename)
		require.Equal(t, "application/pdf", files[0].Header.Get("Content-Type"))
		f, err := files[0].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		_ = f.Close()
		require.Equal(t, "%PDF", string(data))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"event":"start","sessionId":"s1"}`,
			`{"event":"delta","content":"Only "}`,
			`{"event":"delta","content":"with rider."}`,
			`{"event":"message","content":"Only with rider."}`,
			`{"event":"end","finished":true}`,
		} {
			_, _ = w.Write([]byte("data: " + line + "\n\n"))
		}
	})

	var deltas []string
	reply, err := c.StreamChat(context.Background(),
		console.ChatRequest{AssistantID: "ulink-general", SessionID: "s1", Message: "Is dental covered?"},
		[]console.Attachment{{Name: "claim.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}},
		func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	require.Equal(t, "Only with rider.", reply)
	require.Equal(t, []string{"Only ", "with rider."}, deltas)
}

func TestReadStream(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"deltas only", "data: {\"event\":\"delta\",\"content\":\"a\"}\n\ndata: {\"event\":\"delta\",\"content\":\"b\"}\n\ndata: {\"event\":\"end\"}\n\n", "ab", ""},
		{"error event", "data: {\"event\":\"start\"}\n\ndata: {\"event\":\"error\",\"error\":\"AI generation failed: boom\"}\n\n", "", "AI generation failed: boom"},
		{"truncated", "data: {\"event\":\"start\"}\n\n", "", "without a reply"},
		{"message without end", "data: {\"event\":\"message\",\"content\":\"done\"}\n\n", "done", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := readStream(strings.NewReader(tc.body), nil)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStreamUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"ai streaming unavailable"}`))
	})
	_, err := c.PostChatMessage(context.Background(), console.ChatRequest{SessionID: "s1", Message: "hi"}, nil)
	require.ErrorContains(t, err, "ai streaming unavailable")
}

func TestExportSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats/s1/export", r.URL.Path)
		w.Header().Set("Content-Disposition", `attachment; filename="dental-20260301.md"`)
		_, _ = w.Write([]byte("# Dental"))
	})
	name, data, err := c.ExportSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "dental-20260301.md", name)
	require.Equal(t, "# Dental", string(data))
}
