package llmclient

import (
	"net/http"
	"strings"

	"context"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient sends single-message prompts through the Chat Completions
// API. Grounded on the teacher's internal/llm/openai.Client construction,
// trimmed to the single-shot call dreaming needs.
type OpenAIClient struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIClient builds an OpenAIClient for model using apiKey.
func NewOpenAIClient(apiKey, model string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{sdk: sdk.NewClient(opts...), model: model}
}

func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}
