package generation

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const (
	DefaultOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel         = "gemini-2.0-flash"
)

type OpenAIGenerator struct {
	client *openai.Client
	model  string
	spec   PromptSpec
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator talks to any OpenAI-compatible chat completions endpoint.
func NewOpenAIGenerator(apiKey, baseURL, model string, httpClient *http.Client, spec PromptSpec) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model, spec: spec}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prior []Message, newMessage string) (Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(prior)+2)
	if g.spec.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.spec.System})
	}
	for _, m := range prior {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: newMessage})

	temperature := g.spec.Generation.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature from the request.
		temperature = math.SmallestNonzeroFloat32
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: temperature,
		MaxTokens:   g.spec.Generation.MaxTokens,
		TopP:        g.spec.Generation.TopP,
		Messages:    messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, ErrNoChoices
	}
	choice := resp.Choices[0]
	if reason, blocked := g.spec.BlockReason(string(choice.FinishReason)); blocked {
		return Reply{BlockReason: reason}, nil
	}
	return Reply{Text: strings.TrimSpace(choice.Message.Content)}, nil
}
