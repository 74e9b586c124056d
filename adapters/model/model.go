// Package model provides clients for upstream text-generation providers.
//
// The provider is a tagged variant resolved once at construction: each
// variant carries its own required fields and New validates them up
// front, so nothing inspects provider-shaped maps per call.
package model

import (
	"fmt"
	"time"

	"github.com/ljxpython/noteai/ports"
)

// Provider selects the upstream implementation.
type Provider string

const (
	ProviderDeepSeek  Provider = "deepseek"
	ProviderOpenAI    Provider = "openai"
	ProviderSimulated Provider = "simulated"
)

// Default endpoints and models per provider.
const (
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	openAIBaseURL   = "https://api.openai.com/v1"

	deepSeekDefaultModel = "deepseek-chat"
	openAIDefaultModel   = "gpt-4o-mini"

	// defaultTimeout bounds every upstream call; on expiry the call is
	// treated identically to a transport failure.
	defaultTimeout = 30 * time.Second
)

// Config holds provider settings.
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New resolves the provider variant and returns a ready client.
func New(cfg Config) (ports.ModelClient, error) {
	if cfg.Timeout <= 0 || cfg.Timeout > defaultTimeout {
		cfg.Timeout = defaultTimeout
	}

	switch cfg.Provider {
	case ProviderSimulated, "":
		return NewSimulated(), nil

	case ProviderDeepSeek:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model: deepseek provider requires an api key")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepSeekBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = deepSeekDefaultModel
		}
		return newHTTPClient(cfg), nil

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model: openai provider requires an api key")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = openAIBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = openAIDefaultModel
		}
		return newHTTPClient(cfg), nil

	default:
		return nil, fmt.Errorf("model: unknown provider %q", cfg.Provider)
	}
}
