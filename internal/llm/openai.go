package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICaller runs chat completions through the official OpenAI SDK
type OpenAICaller struct {
	client openai.Client
}

// NewOpenAICaller builds a caller. baseURL overrides the API endpoint when
// non-empty, which is how tests point the SDK at a local server.
func NewOpenAICaller(apiKey, baseURL string) (*OpenAICaller, error) {
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
	return &OpenAICaller{client: openai.NewClient(opts...)}, nil
}

// Call sends one chat completion. Instructions become the system message,
// each input segment its own user message.
func (o *OpenAICaller) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, input := range req.Input {
		if input != "" {
			messages = append(messages, openai.UserMessage(input))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if temp, ok := paramFloat(req.Params, "temperature"); ok {
		params.Temperature = openai.Float(temp)
	}
	if topP, ok := paramFloat(req.Params, "top_p"); ok {
		params.TopP = openai.Float(topP)
	}
	if maxTokens, ok := paramInt(req.Params, "max_tokens"); ok {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, providerErr(ProviderOpenAI, req.Op, err)
	}
	if len(completion.Choices) == 0 {
		return nil, providerErr(ProviderOpenAI, req.Op, errEmptyCompletion)
	}

	return &Response{
		Text: strings.TrimSpace(completion.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// Provider returns "openai"
func (o *OpenAICaller) Provider() string { return ProviderOpenAI }

// Close releases nothing; the SDK client has no shutdown
func (o *OpenAICaller) Close() error { return nil }
