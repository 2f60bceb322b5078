package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
	ProviderArk       = "ark"
)

// ProviderConfig selects and configures a Generator.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	OAuth2   OAuth2Config
	Ark      ArkConfig
}

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg ProviderConfig, spec PromptSpec) (Generator, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := WithClientCredentials(ctx, NewHTTPClient(timeout), cfg.OAuth2)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
		}
		return NewOpenAIGenerator(cfg.APIKey, baseURL, cfg.Model, httpClient, spec), nil
	case ProviderLangChain:
		llm, err := NewLangChainOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient)
		if err != nil {
			return nil, err
		}
		return NewLangChainGenerator(llm, spec), nil
	case ProviderArk:
		chatModel, err := NewArkChatModel(ctx, cfg.Ark, spec)
		if err != nil {
			return nil, err
		}
		return NewEinoGenerator(chatModel, spec), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
