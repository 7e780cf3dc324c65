package llm

import (
	"fmt"
	"strings"
)

// NewProvider constructs a provider by name. The apiKey may be empty, in
// which case each provider falls back to its environment variable.
func NewProvider(name, apiKey, model string) (Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return NewAnthropicProvider(apiKey, model)
	case "openai":
		return NewOpenAIProvider(apiKey, model)
	case "gemini", "google":
		return NewGeminiProvider(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: anthropic, openai, gemini)", name)
	}
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func collectTextParts(parts []Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if part.Type != PartText || part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
