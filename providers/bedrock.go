package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockFactory builds ModelHandles backed by the AWS Bedrock runtime
// InvokeModel API. Only Anthropic-style models are wired; Bedrock validates
// model ids server-side.
type BedrockFactory struct {
	providerID string
	client     *bedrockruntime.Client
	region     string
}

// NewBedrockFactory creates a factory using the default AWS credential
// chain. region defaults to us-east-1. Pass accessKey/secretKey to use
// static credentials instead of the chain.
func NewBedrockFactory(ctx context.Context, providerID, region, accessKey, secretKey string) (*BedrockFactory, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &BedrockFactory{
		providerID: providerID,
		client:     bedrockruntime.NewFromConfig(cfg),
		region:     region,
	}, nil
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []bedrockMessage   `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Handle returns a ModelHandle whose Invoke sends a single-turn request via
// InvokeModel. Input must be a string prompt.
func (f *BedrockFactory) Handle(model string, caps []Capability, maxTokens int) ModelHandle {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return ModelHandle{
		Provider:     f.providerID,
		Model:        model,
		Capabilities: caps,
		Invoke: func(ctx context.Context, input any) (any, error) {
			prompt, ok := input.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported input type %T: want string", input)
			}
			body, err := json.Marshal(bedrockAnthropicRequest{
				AnthropicVersion: "bedrock-2023-05-31",
				MaxTokens:        maxTokens,
				Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			start := time.Now()
			output, err := f.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     aws.String(model),
				ContentType: aws.String("application/json"),
				Body:        body,
			})
			if err != nil {
				return nil, fmt.Errorf("bedrock invoke failed: %w", err)
			}
			var resp bedrockAnthropicResponse
			if err := json.Unmarshal(output.Body, &resp); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response: %w", err)
			}
			text := ""
			for _, c := range resp.Content {
				if c.Type == "text" {
					text += c.Text
				}
			}
			return &Result{
				Text:    text,
				Model:   model,
				Latency: time.Since(start),
				Usage: Usage{
					PromptTokens:     resp.Usage.InputTokens,
					CompletionTokens: resp.Usage.OutputTokens,
				},
			}, nil
		},
	}
}
