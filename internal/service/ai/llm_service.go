package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/config"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// historyLimit bounds how many earlier messages are replayed to the model.
const historyLimit = 10

// Service encapsulates AI-powered chat functionality
type Service struct {
	chatModel model.BaseChatModel
	prompts   *PromptManager
	streaming bool
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat model")
	}
	return NewServiceWithModel(ctx, chatModel, cfg.StreamResponse)
}

// NewServiceWithModel builds the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, streaming bool) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &Service{
		chatModel: chatModel,
		prompts:   NewPromptManager(),
		streaming: streaming,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether replies are streamed as deltas.
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// GenerateResponse produces a complete reply.
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, a assistant.Assistant, history []chat.Message, userMessage string, attachments []Attachment) (*schema.Message, error) {
	input := s.buildChainInput(a, history, userMessage, attachments)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run AI chain")
	}

	log.Info().Str("session", sessionID).Str("assistant", a.Key).Int("length", len(response.Content)).Msg("generated response")
	return response, nil
}

// StreamResponse streams reply chunks via the configured chain.
func (s *Service) StreamResponse(ctx context.Context, a assistant.Assistant, history []chat.Message, userMessage string, attachments []Attachment) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, errors.New("streaming disabled in configuration")
	}

	input := s.buildChainInput(a, history, userMessage, attachments)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stream AI chain output")
	}
	return stream, nil
}

func (s *Service) buildChainInput(a assistant.Assistant, history []chat.Message, userMessage string, attachments []Attachment) map[string]any {
	if userMessage == "" && len(attachments) > 0 {
		userMessage = "Please review the attached documents."
	}
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(a, attachments),
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
