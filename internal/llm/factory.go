package llm

import (
	"fmt"
	"strings"
)

// Config selects and configures a caller. Nothing here reads the
// environment; callers resolve keys through the config layer.
type Config struct {
	// Provider is "openai" or "anthropic"
	Provider string

	// APIKey authenticates against the provider
	APIKey string

	// BaseURL overrides the provider endpoint when non-empty
	BaseURL string
}

// New builds the configured caller
func New(cfg Config) (Caller, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAICaller(cfg.APIKey, cfg.BaseURL)
	case ProviderAnthropic:
		return NewAnthropicCaller(cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
