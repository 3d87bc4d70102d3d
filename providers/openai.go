package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIFactory builds ModelHandles backed by the OpenAI chat completions
// API. The same factory works for any OpenAI-compatible endpoint (set
// baseURL for Groq, Together, local vLLM, etc.).
type OpenAIFactory struct {
	providerID string
	client     openai.Client
}

// NewOpenAIFactory creates a factory for the given provider id. Pass "" for
// baseURL to use the default OpenAI endpoint.
func NewOpenAIFactory(providerID, apiKey, baseURL string) *OpenAIFactory {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIFactory{
		providerID: providerID,
		client:     openai.NewClient(opts...),
	}
}

// Handle returns a ModelHandle whose Invoke sends a single-turn chat
// completion. Input must be a string prompt or a pre-built message slice.
func (f *OpenAIFactory) Handle(model string, caps []Capability) ModelHandle {
	return ModelHandle{
		Provider:     f.providerID,
		Model:        model,
		Capabilities: caps,
		Invoke: func(ctx context.Context, input any) (any, error) {
			messages, err := coerceMessages(input)
			if err != nil {
				return nil, err
			}
			start := time.Now()
			completion, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model:    model,
				Messages: messages,
			})
			if err != nil {
				return nil, fmt.Errorf("openai completion failed: %w", err)
			}
			text := ""
			if len(completion.Choices) > 0 {
				text = completion.Choices[0].Message.Content
			}
			return &Result{
				Text:    text,
				Model:   completion.Model,
				Latency: time.Since(start),
				Usage: Usage{
					PromptTokens:     int(completion.Usage.PromptTokens),
					CompletionTokens: int(completion.Usage.CompletionTokens),
				},
			}, nil
		},
	}
}

// DiscoverModels lists the models the endpoint currently serves.
func (f *OpenAIFactory) DiscoverModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := f.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("model discovery failed: %w", err)
	}
	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			Provider:     f.providerID,
			Model:        m.ID,
			Capabilities: []Capability{CapChat, CapStreaming},
		})
	}
	return models, nil
}

func coerceMessages(input any) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch v := input.(type) {
	case string:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(v)}, nil
	case []openai.ChatCompletionMessageParamUnion:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported input type %T: want string or message slice", input)
	}
}
