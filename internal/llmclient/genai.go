package llmclient

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GenaiClient sends single-message prompts through Gemini. Grounded on the
// teacher's internal/llm/google.Client construction, trimmed to the
// single-shot call dreaming needs.
type GenaiClient struct {
	client *genai.Client
	model  string
}

// NewGenaiClient builds a GenaiClient for model using apiKey.
func NewGenaiClient(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GenaiClient, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	return &GenaiClient{client: client, model: model}, nil
}

func (c *GenaiClient) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
