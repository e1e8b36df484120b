package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCaller runs chat completions through the official Anthropic SDK
type AnthropicCaller struct {
	client anthropic.Client
}

// NewAnthropicCaller builds a caller. baseURL overrides the API endpoint
// when non-empty.
func NewAnthropicCaller(apiKey, baseURL string) (*AnthropicCaller, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(MaxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicCaller{client: anthropic.NewClient(opts...)}, nil
}

// Call sends one message. Instructions go into the system prompt, each input
// segment becomes a text block in a single user message. Anthropic requires
// an explicit completion budget, so max_tokens falls back to a default.
func (a *AnthropicCaller) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, input := range req.Input {
		if input != "" {
			blocks = append(blocks, anthropic.NewTextBlock(input))
		}
	}

	maxTokens, ok := paramInt(req.Params, "max_tokens")
	if !ok {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if temp, ok := paramFloat(req.Params, "temperature"); ok {
		params.Temperature = anthropic.Float(temp)
	}
	if topP, ok := paramFloat(req.Params, "top_p"); ok {
		params.TopP = anthropic.Float(topP)
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, providerErr(ProviderAnthropic, req.Op, err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	if out.Len() == 0 {
		return nil, providerErr(ProviderAnthropic, req.Op, errEmptyCompletion)
	}

	prompt := int(message.Usage.InputTokens)
	completion := int(message.Usage.OutputTokens)
	return &Response{
		Text: strings.TrimSpace(out.String()),
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// Provider returns "anthropic"
func (a *AnthropicCaller) Provider() string { return ProviderAnthropic }

// Close releases nothing; the SDK client has no shutdown
func (a *AnthropicCaller) Close() error { return nil }
