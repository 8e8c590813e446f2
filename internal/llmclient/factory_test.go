package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/config"
)

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.DreamingConfig{LLMProvider: "carrier-pigeon"}, nil)
	require.Error(t, err)
}

func TestNew_DefaultsToAnthropic(t *testing.T) {
	c, err := New(context.Background(), config.DreamingConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	_, ok := c.(*AnthropicClient)
	require.True(t, ok)
}

func TestNew_BuildsOpenAIClient(t *testing.T) {
	c, err := New(context.Background(), config.DreamingConfig{LLMProvider: "openai", APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	_, ok := c.(*OpenAIClient)
	require.True(t, ok)
}
