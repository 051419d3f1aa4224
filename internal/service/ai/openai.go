package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
)

// OpenAIBackend streams chat completions from an OpenAI-compatible API.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend builds a backend; baseURL may be empty for the public API.
func NewOpenAIBackend(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIBackend {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIBackend{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Stream forwards content deltas into an eino stream. Failures before the
// first chunk, such as a rejected key, are returned directly.
func (b *OpenAIBackend) Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	messages := buildOpenAIMessages(req)
	if len(messages) < 2 {
		return nil, ErrEmptyHistory
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(b.model),
	})
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err != nil {
			return nil, fmt.Errorf("openai stream: %w", err)
		}
		return schema.StreamReaderFromArray[*schema.Message](nil), nil
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			if delta := chunkDelta(stream.Current()); delta != "" {
				if closed := writer.Send(schema.AssistantMessage(delta, nil), nil); closed {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}

		if err := stream.Err(); err != nil {
			writer.Send(nil, fmt.Errorf("openai stream: %w", err))
		}
	}()

	return reader, nil
}

func chunkDelta(chunk openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func buildOpenAIMessages(req chat.CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	messages = append(messages, openai.SystemMessage(language.Resolve(string(req.Language)).SystemPrompt()))
	for _, turn := range req.Messages {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	return messages
}
