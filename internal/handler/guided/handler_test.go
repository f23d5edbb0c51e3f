package guided

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/ulink/backend/internal/guided"
	middlewarePkg "github.com/zhouzirui/ulink/backend/internal/middleware"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type denyFM struct{}

func (denyFM) CanUse(_ user.User, key string) bool { return key != "fm-clinic" }

func newServer(t *testing.T, webhookURL string) *httptest.Server {
	t.Helper()
	registry := assistant.NewMemoryStore([]assistant.Assistant{
		{Key: "my-doctor", DisplayName: "MY Doctor", RoutingKind: assistant.RoutingWebhook, WebhookURL: webhookURL, Country: "MY", Guided: true},
		{Key: "fm-clinic", DisplayName: "FM Clinic", RoutingKind: assistant.RoutingWebhook, WebhookURL: webhookURL, Guided: true},
		{Key: "singlife-call", DisplayName: "Singlife", RoutingKind: assistant.RoutingWebhook, WebhookURL: webhookURL},
	})
	h := New(registry, denyFM{}, webhook.NewClient(nil), nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			u := user.User{ID: "u1", Username: "amy", Role: user.RoleUser}
			next.ServeHTTP(w, req.WithContext(middlewarePkg.WithUser(req.Context(), u)))
		})
	})
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, key string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/guided/" + key + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn, n int) []guided.Event {
	t.Helper()
	events := make([]guided.Event, 0, n)
	for i := 0; i < n; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev guided.Event
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
	}
	return events
}

func TestGuidedFlowOverWebsocket(t *testing.T) {
	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outcome":"found","ai_specialty":"Orthopaedics","ai_type":"Surgical","recommendations":[{"recommendation_number":1,"doctor_name":"Dr Lim","hospital":"Sunway Medical Centre"}]}`))
	}))
	defer lookup.Close()

	srv := newServer(t, lookup.URL)
	conn := dial(t, srv, "my-doctor")

	greeting := readEvents(t, conn, 3)
	require.Equal(t, guided.EventBot, greeting[0].Kind)
	require.Equal(t, guided.EventQuickReplies, greeting[2].Kind)
	require.NotEmpty(t, greeting[2].Options)

	require.NoError(t, conn.WriteJSON(guided.Action{Type: guided.ActionChoose, Value: "Atlantis"}))
	failed := readEvents(t, conn, 1)
	require.Equal(t, guided.EventError, failed[0].Kind)
	require.Equal(t, guided.ErrInvalidChoice.Error(), failed[0].Text)

	require.NoError(t, conn.WriteJSON(guided.Action{Type: guided.ActionChoose, Value: "Selangor"}))
	readEvents(t, conn, 3)
	require.NoError(t, conn.WriteJSON(guided.Action{Type: guided.ActionChoose, Value: "no"}))
	prompt := readEvents(t, conn, 3)
	require.Equal(t, guided.EventInput, prompt[2].Kind)

	require.NoError(t, conn.WriteJSON(guided.Action{Type: guided.ActionSubmit, Text: "knee replacement"}))

	var cards *guided.Result
	for i := 0; i < 10 && cards == nil; i++ {
		ev := readEvents(t, conn, 1)[0]
		cards = ev.Cards
	}
	require.NotNil(t, cards)
	require.Equal(t, "Dr Lim", cards.Recommendations[0].DoctorName)
}

func TestGuidedRejectsBeforeUpgrade(t *testing.T) {
	srv := newServer(t, "PLACEHOLDER_WEBHOOK_URL_3")

	cases := map[string]int{
		"unknown":       http.StatusNotFound,
		"singlife-call": http.StatusNotFound,
		"fm-clinic":     http.StatusForbidden,
	}
	for key, code := range cases {
		resp, err := srv.Client().Get(srv.URL + "/guided/" + key + "/ws")
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, code, resp.StatusCode, key)
	}
}
