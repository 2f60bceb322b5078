package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainGenerator drives any langchaingo model. It is the only provider
// that forwards top-k.
type LangChainGenerator struct {
	llm  llms.Model
	spec PromptSpec
}

var _ Generator = (*LangChainGenerator)(nil)

func NewLangChainGenerator(llm llms.Model, spec PromptSpec) *LangChainGenerator {
	return &LangChainGenerator{llm: llm, spec: spec}
}

// NewLangChainOpenAI builds a langchaingo OpenAI-compatible model.
func NewLangChainOpenAI(apiKey, baseURL, model string, httpClient *http.Client) (llms.Model, error) {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	opts := []lcopenai.Option{
		lcopenai.WithToken(apiKey),
		lcopenai.WithBaseURL(strings.TrimRight(baseURL, "/")),
		lcopenai.WithModel(model),
	}
	if httpClient != nil {
		opts = append(opts, lcopenai.WithHTTPClient(httpClient))
	}
	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain openai: %w", err)
	}
	return llm, nil
}

func (g *LangChainGenerator) Generate(ctx context.Context, prior []Message, newMessage string) (Reply, error) {
	content := make([]llms.MessageContent, 0, len(prior)+2)
	if g.spec.System != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, g.spec.System))
	}
	for _, m := range prior {
		kind := schema.ChatMessageTypeHuman
		if m.Role == RoleModel {
			kind = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(kind, m.Content))
	}
	content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, newMessage))

	o := g.spec.Generation
	resp, err := g.llm.GenerateContent(ctx, content,
		llms.WithTemperature(float64(o.Temperature)),
		llms.WithMaxTokens(o.MaxTokens),
		llms.WithTopP(float64(o.TopP)),
		llms.WithTopK(o.TopK),
	)
	if err != nil {
		return Reply{}, fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Reply{}, ErrNoChoices
	}
	choice := resp.Choices[0]
	if reason, blocked := g.spec.BlockReason(choice.StopReason); blocked {
		return Reply{BlockReason: reason}, nil
	}
	return Reply{Text: strings.TrimSpace(choice.Content)}, nil
}
