// Package generation adapts external chat-completion providers to the single
// request/response call the conversation coordinator needs.
package generation

import (
	"context"
	"errors"
)

// Role of a normalized history entry. Providers expect "model" for the assistant.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of a normalized history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reply is the outcome of one generation call. A non-empty BlockReason means
// the provider refused to answer; Text is then usually empty.
type Reply struct {
	Text        string
	BlockReason string
}

// Blocked reports whether the provider withheld the reply.
func (r Reply) Blocked() bool { return r.BlockReason != "" }

// Generator produces the next assistant utterance. prior is the history before
// the newest user message, which is passed separately.
type Generator interface {
	Generate(ctx context.Context, prior []Message, newMessage string) (Reply, error)
}

var (
	ErrNoChoices       = errors.New("generation returned no choices")
	ErrUnknownProvider = errors.New("unknown generation provider")
)

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prior []Message, newMessage string) (Reply, error)

func (f GeneratorFunc) Generate(ctx context.Context, prior []Message, newMessage string) (Reply, error) {
	return f(ctx, prior, newMessage)
}
