package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

type fakeChatModel struct {
	reply  string
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.inputs = append(f.inputs, input)
	var chunks []*schema.Message
	for _, word := range strings.SplitAfter(f.reply, " ") {
		chunks = append(chunks, schema.AssistantMessage(word, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

var general = assistant.Assistant{Key: "ulink-general", DisplayName: "Ulink", RoutingKind: assistant.RoutingInternal}

func TestGenerateResponseBuildsPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "Outpatient is covered."}
	svc, err := NewServiceWithModel(context.Background(), fake, false)
	require.NoError(t, err)

	history := []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello"},
	}
	resp, err := svc.GenerateResponse(context.Background(), "s1", general, history, "is outpatient covered?", nil)
	require.NoError(t, err)
	require.Equal(t, "Outpatient is covered.", resp.Content)

	input := fake.inputs[0]
	require.Len(t, input, 4)
	require.Equal(t, schema.System, input[0].Role)
	require.Contains(t, input[0].Content, "You are the Ulink assistant.")
	require.Equal(t, "hello", input[2].Content)
	require.Equal(t, "is outpatient covered?", input[3].Content)
}

func TestStreamResponse(t *testing.T) {
	fake := &fakeChatModel{reply: "one two three"}
	svc, err := NewServiceWithModel(context.Background(), fake, true)
	require.NoError(t, err)

	stream, err := svc.StreamResponse(context.Background(), general, nil, "count", nil)
	require.NoError(t, err)
	defer stream.Close()

	var got strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got.WriteString(chunk.Content)
	}
	require.Equal(t, "one two three", got.String())
}

func TestStreamResponseDisabled(t *testing.T) {
	svc, err := NewServiceWithModel(context.Background(), &fakeChatModel{}, false)
	require.NoError(t, err)
	_, err = svc.StreamResponse(context.Background(), general, nil, "x", nil)
	require.Error(t, err)
}

func TestHistoryIsBounded(t *testing.T) {
	var messages []chat.Message
	for i := 0; i < 25; i++ {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: "m"})
	}
	require.Len(t, buildHistoryMessages(messages), historyLimit)
	require.Nil(t, buildHistoryMessages(nil))
}

func TestBuildSystemPrompt(t *testing.T) {
	pm := NewPromptManager()

	custom := assistant.Assistant{Key: "ulink-general", SystemPrompt: "Custom prompt."}
	got := pm.BuildSystemPrompt(custom, nil)
	require.True(t, strings.HasPrefix(got, "Custom prompt."))
	require.Contains(t, got, "Never invent policy numbers")

	unknown := assistant.Assistant{Key: "claims", DisplayName: "Claims Helper", Description: "Answers claim status questions."}
	require.Equal(t, "You are Claims Helper, an assistant for Ulink insurance operations staff. Answers claim status questions.", pm.BuildSystemPrompt(unknown, nil))

	withFiles := pm.BuildSystemPrompt(unknown, []Attachment{
		{Name: "notes.txt", ContentType: "text/plain", Data: []byte("Admitted 3 May.")},
		{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
	})
	require.Contains(t, withFiles, "--- notes.txt (text/plain, 15 bytes) ---\nAdmitted 3 May.")
	require.Contains(t, withFiles, "--- scan.pdf (application/pdf, 8 bytes) ---\n[binary content not shown]")
}

func TestAttachmentOnlyMessageGetsDefaultQuery(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	svc, err := NewServiceWithModel(context.Background(), fake, false)
	require.NoError(t, err)

	_, err = svc.GenerateResponse(context.Background(), "s1", general, nil, "", []Attachment{{Name: "a.txt", ContentType: "text/plain", Data: []byte("x")}})
	require.NoError(t, err)
	last := fake.inputs[0][len(fake.inputs[0])-1]
	require.Equal(t, "Please review the attached documents.", last.Content)
}
