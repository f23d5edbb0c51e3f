package guided

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConversationRunsLookup(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"outcome":"found","recommendations":[
			{"recommendation_number":1,"doctor_name":"Dr A","source_row":"12"},
			{"recommendation_number":"2","doctor_name":"Dr B","source_row":40}
		]}`))
	}))
	defer srv.Close()

	var events []Event
	conv := NewConversation(NewEngine(VariantFor("MY")), NewWebhookFetcher(webhook.NewClient(srv.Client()), srv.URL), func(ev Event) {
		events = append(events, ev)
	})

	ctx := context.Background()
	conv.Start(ctx)
	require.Equal(t, StepLocation, conv.State().Step)

	require.NoError(t, conv.Handle(ctx, Action{Type: ActionChoose, Value: "Selangor"}))
	require.NoError(t, conv.Handle(ctx, Action{Type: ActionChoose, Value: "yes"}))
	require.NoError(t, conv.Handle(ctx, Action{Type: ActionChoose, Value: "Thomson Hospital Kota Damansara"}))
	require.NoError(t, conv.Handle(ctx, Action{Type: ActionSubmit, Text: "breast cancer"}))

	require.Equal(t, Request{Condition: "breast cancer", Hospital: "Thomson Hospital Kota Damansara", State: "Selangor", Country: "MY"}, got)
	require.Equal(t, StepResults, conv.State().Step)

	var cards *Result
	for _, ev := range events {
		if ev.Cards != nil {
			cards = ev.Cards
		}
	}
	require.NotNil(t, cards)
	require.Equal(t, Loose("1"), cards.Recommendations[0].Number)
	require.Equal(t, Loose("12"), cards.Recommendations[0].SourceRow)
	require.Equal(t, Loose("40"), cards.Recommendations[1].SourceRow)

	require.NoError(t, conv.Handle(ctx, Action{Type: ActionRestart}))
	require.Equal(t, State{Step: StepLocation}, conv.State())
}

func TestConversationPlaceholderWebhook(t *testing.T) {
	var events []Event
	conv := NewConversation(NewEngine(VariantFor("SG")), NewWebhookFetcher(nil, "PLACEHOLDER_WEBHOOK_URL_2"), func(ev Event) {
		events = append(events, ev)
	})

	ctx := context.Background()
	conv.Start(ctx)
	require.NoError(t, conv.Handle(ctx, Action{Type: ActionChoose, Value: "no"}))
	require.NoError(t, conv.Handle(ctx, Action{Type: ActionSubmit, Text: "fever"}))

	require.Equal(t, StepResults, conv.State().Step)
	last := events[len(events)-2]
	require.Equal(t, EventBot, last.Kind)
	require.Contains(t, last.Text, "Webhook URL not configured for this assistant.")
}

func TestConversationRejectsUnknownAction(t *testing.T) {
	conv := NewConversation(NewEngine(VariantFor("MY")), nil, nil)
	conv.Start(context.Background())
	require.ErrorIs(t, conv.Handle(context.Background(), Action{Type: "dance"}), ErrUnexpectedAction)
}

func TestLooseMarshal(t *testing.T) {
	data, err := json.Marshal(Recommendation{Number: "3", SourceRow: "row-7"})
	require.NoError(t, err)
	require.Contains(t, string(data), `"recommendation_number":3`)
	require.Contains(t, string(data), `"source_row":"row-7"`)
}
