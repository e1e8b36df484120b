package embedder

import (
	"fmt"
	"strings"
)

// Config holds embedder configuration. Callers resolve environment and file
// settings before constructing one; nothing here reads the environment.
type Config struct {
	Provider string // jina, openai, or local; empty selects local
	APIKey   string
	Model    string // Optional: override the provider default
	Endpoint string // Optional: override the provider API endpoint
}

// New creates an embedder from explicit configuration
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderJina:
		p, err := NewJinaProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		if cfg.Endpoint != "" {
			p.endpoint = cfg.Endpoint
		}
		return p, nil
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		if cfg.Endpoint != "" {
			p.endpoint = cfg.Endpoint
		}
		return p, nil
	case ProviderLocal, "":
		return NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
