package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/trafficwatch/sos-assistant/backend/internal/config"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
)

var (
	ErrNotConfigured = errors.New("no language model backend configured")
	ErrEmptyHistory  = errors.New("completion request has no messages")
)

// Backend produces the assistant's reply as a stream of text increments.
type Backend interface {
	Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error)
}

// NewBackend picks the backend selected by cfg.Provider.
func NewBackend(ctx context.Context, cfg config.AIConfig) (Backend, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewService(ctx, chatModel)
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case config.ProviderRemote:
		return NewRemoteBackend(cfg.RemoteURL, cfg.Timeout), nil
	default:
		return nil, ErrNotConfigured
	}
}

// Service runs an eino chat model behind the emergency system prompt.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
	}, nil
}

// Generate returns the full reply in one message.
func (s *Service) Generate(ctx context.Context, req chat.CompletionRequest) (*schema.Message, error) {
	input, err := buildChainInput(req)
	if err != nil {
		return nil, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	slog.Debug("ai response generated", "language", req.Language, "length", len(response.Content))
	return response, nil
}

// Stream streams reply chunks via the compiled chain.
func (s *Service) Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	input, err := buildChainInput(req)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	return stream, nil
}

func buildChainInput(req chat.CompletionRequest) (map[string]any, error) {
	history := buildHistoryMessages(req.Messages)
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	return map[string]any{
		"system":  language.Resolve(string(req.Language)).SystemPrompt(),
		"history": history,
	}, nil
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
