package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultArkRegion  = "cn-beijing"
)

// ArkConfig holds the Volcengine Ark credentials. Either APIKey or the
// AccessKey/SecretKey pair must be set.
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArkChatModel creates an eino chat model backed by Ark.
func NewArkChatModel(ctx context.Context, c ArkConfig, spec PromptSpec) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: need ARK_API_KEY + model or an access/secret key pair")
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultArkBaseURL
	}
	region := c.Region
	if region == "" {
		region = DefaultArkRegion
	}
	temperature := spec.Generation.Temperature
	topP := spec.Generation.TopP
	maxTokens := spec.Generation.MaxTokens

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     baseURL,
		Region:      region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
}

// EinoGenerator drives an eino chat model.
type EinoGenerator struct {
	chatModel model.BaseChatModel
	spec      PromptSpec
}

var _ Generator = (*EinoGenerator)(nil)

func NewEinoGenerator(chatModel model.BaseChatModel, spec PromptSpec) *EinoGenerator {
	return &EinoGenerator{chatModel: chatModel, spec: spec}
}

func (g *EinoGenerator) Generate(ctx context.Context, prior []Message, newMessage string) (Reply, error) {
	messages := make([]*schema.Message, 0, len(prior)+2)
	if g.spec.System != "" {
		messages = append(messages, schema.SystemMessage(g.spec.System))
	}
	for _, m := range prior {
		if m.Role == RoleModel {
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
			continue
		}
		messages = append(messages, schema.UserMessage(m.Content))
	}
	messages = append(messages, schema.UserMessage(newMessage))

	o := g.spec.Generation
	resp, err := g.chatModel.Generate(ctx, messages,
		model.WithTemperature(o.Temperature),
		model.WithMaxTokens(o.MaxTokens),
		model.WithTopP(o.TopP),
	)
	if err != nil {
		return Reply{}, fmt.Errorf("eino generate: %w", err)
	}
	if resp == nil {
		return Reply{}, ErrNoChoices
	}
	if resp.ResponseMeta != nil {
		if reason, blocked := g.spec.BlockReason(resp.ResponseMeta.FinishReason); blocked {
			return Reply{BlockReason: reason}, nil
		}
	}
	return Reply{Text: strings.TrimSpace(resp.Content)}, nil
}
