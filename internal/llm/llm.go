// Package llm adapts chat-completion providers behind one Caller interface
// so the response cache can treat OpenAI and Anthropic interchangeably.
// Retries are delegated to the SDKs' built-in policies.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Common errors
var (
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
	ErrMissingAPIKey       = errors.New("api key is required")
	ErrEmptyModel          = errors.New("model is required")
	ErrEmptyInput          = errors.New("input is required")

	errEmptyCompletion = errors.New("provider returned no content")
)

// Provider names
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	// MaxRetries is passed to the SDK retry policies
	MaxRetries = 3

	// DefaultMaxTokens bounds completions when the request sets no limit
	DefaultMaxTokens = 1024
)

// Request is one chat-completion call. Op names the logical operation
// (for example "summarize") and participates in cache keying so different
// operations over identical text never collide.
type Request struct {
	Op           string
	Model        string
	Instructions string
	Input        []string
	Params       map[string]any
}

// Usage is the provider's token accounting for one call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's answer
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Caller executes chat-completion requests against one provider
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Provider() string
	Close() error
}

// Validate rejects requests no provider could serve
func (r Request) Validate() error {
	if r.Model == "" {
		return ErrEmptyModel
	}
	if len(r.Input) == 0 {
		return ErrEmptyInput
	}
	for _, in := range r.Input {
		if in != "" {
			return nil
		}
	}
	return ErrEmptyInput
}

// paramFloat reads a numeric parameter. JSON decoding hands numbers over as
// float64, config structs may carry native ints.
func paramFloat(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// paramInt reads an integer parameter with the same type leniency
func paramInt(params map[string]any, key string) (int64, bool) {
	f, ok := paramFloat(params, key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// providerErr wraps any transport or API failure in the provider error kind
func providerErr(provider, op string, err error) error {
	return fmt.Errorf("%s %s call: %w: %v", provider, op, types.ErrProvider, err)
}
