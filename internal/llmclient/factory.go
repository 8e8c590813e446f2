package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/intelligencedev/coremem/internal/config"
)

// New builds the Client named by cfg.LLMProvider ("anthropic", "openai", or
// "genai"). It is the dreaming pipeline's only entry point into this
// package — callers never construct a provider client directly.
func New(ctx context.Context, cfg config.DreamingConfig, httpClient *http.Client) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "", "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, httpClient), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, httpClient), nil
	case "genai", "google", "gemini":
		return NewGenaiClient(ctx, cfg.APIKey, cfg.Model, httpClient)
	default:
		return nil, fmt.Errorf("llmclient: unknown provider %q", cfg.LLMProvider)
	}
}
