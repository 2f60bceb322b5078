package generation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/assistant.yaml
var defaultPromptSpec []byte

// Options are the sampling parameters sent with every call. Providers that
// have no equivalent for a field ignore it.
type Options struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float32 `yaml:"top_p"`
	TopK        int     `yaml:"top_k"`
}

// PromptSpec is the YAML document holding the system instruction, the
// sampling options and the mapping from provider finish reasons to blocks.
type PromptSpec struct {
	System     string  `yaml:"system"`
	Generation Options `yaml:"generation"`
	Safety     struct {
		BlockFinishReasons map[string]string `yaml:"block_finish_reasons"`
	} `yaml:"safety"`
}

// LoadPromptSpec reads the spec at path, or the embedded default when path is empty.
func LoadPromptSpec(path string) (PromptSpec, error) {
	b := defaultPromptSpec
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return PromptSpec{}, fmt.Errorf("read prompt spec: %w", err)
		}
	}
	return ParsePromptSpec(b)
}

// ParsePromptSpec decodes a YAML prompt spec. Options absent from the
// document keep their defaults; explicit zeros are kept.
func ParsePromptSpec(b []byte) (PromptSpec, error) {
	spec := PromptSpec{Generation: DefaultOptions()}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return PromptSpec{}, fmt.Errorf("decode prompt spec: %w", err)
	}
	spec.System = strings.TrimSpace(spec.System)
	if g := spec.Generation; g.Temperature < 0 || g.MaxTokens < 0 || g.TopP < 0 || g.TopK < 0 {
		return PromptSpec{}, fmt.Errorf("decode prompt spec: generation options must not be negative")
	}
	if len(spec.Safety.BlockFinishReasons) == 0 {
		spec.Safety.BlockFinishReasons = map[string]string{"content_filter": "SAFETY"}
	}
	return spec, nil
}

// DefaultOptions are the sampling options used when a prompt spec omits them.
func DefaultOptions() Options {
	return Options{Temperature: 0.1, MaxTokens: 1000, TopP: 0.8, TopK: 20}
}

// BlockReason maps a provider finish reason to a block reason. The second
// result is false when the finish reason does not indicate a block.
func (s PromptSpec) BlockReason(finishReason string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(finishReason))
	if key == "" {
		return "", false
	}
	reason, ok := s.Safety.BlockFinishReasons[key]
	if !ok {
		return "", false
	}
	if reason == "" {
		reason = strings.ToUpper(key)
	}
	return reason, true
}
