package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/intelligencedev/coremem/internal/config"
)

// --- random backend -------------------------------------------------------

// randomBackend produces a deterministic pseudo-random unit vector seeded
// by the hash of the input text, per spec §4.1's explicit fallback
// back-end. Determinism is required by TESTABLE PROPERTY 1: embed(t)
// called twice must return the same vector byte-for-byte.
type randomBackend struct {
	dim int
}

func newRandomBackend(dim int) *randomBackend {
	if dim <= 0 {
		dim = 384
	}
	return &randomBackend{dim: dim}
}

func (b *randomBackend) embedBatch(_ context.Context, texts []string, _ PromptKind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicUnitVector(t, b.dim)
	}
	return out, nil
}

func deterministicUnitVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := int64(h.Sum64())
	r := rand.New(rand.NewSource(seed))
	v := make([]float32, dim)
	var sumSq float64
	for i := range v {
		x := r.NormFloat64()
		v[i] = float32(x)
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		norm = 1
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// --- in-process backend ---------------------------------------------------

// inProcessBackend stands in for a locally loaded sentence-transformer
// model. No such model ships with this module (see DESIGN.md); it embeds
// deterministically like the random backend but applies the passage/query
// prefix convention spec §4.1 describes for in-process models, so the
// prompt_kind parameter is exercised even without real model weights.
type inProcessBackend struct {
	modelName string
	dim       int
}

func newInProcessBackend(cfg config.EmbeddingConfig) *inProcessBackend {
	return &inProcessBackend{modelName: cfg.ModelName, dim: cfg.Dim}
}

func (b *inProcessBackend) embedBatch(_ context.Context, texts []string, kind PromptKind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		prefixed := t
		if kind != "" {
			prefixed = string(kind) + ": " + t
		}
		out[i] = deterministicUnitVector(b.modelName+"|"+prefixed, b.dim)
	}
	return out, nil
}

// --- local-http backend ----------------------------------------------------

// localHTTPBackend POSTs to a configured URL, accepting either
// {"embedding": [...]} for a single text or {"data":[{"embedding":[...]}]}
// for a batch, per spec §4.1. Grounded on the teacher's
// internal/embedding/client.go request/response handling.
type localHTTPBackend struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func newLocalHTTPBackend(cfg config.EmbeddingConfig) *localHTTPBackend {
	return &localHTTPBackend{
		url:     cfg.LocalURL,
		client:  http.DefaultClient,
		timeout: cfg.EmbedTimeout(),
	}
}

type localHTTPRequest struct {
	Text  string   `json:"text,omitempty"`
	Texts []string `json:"texts,omitempty"`
}

type localHTTPResponse struct {
	Embedding []float32 `json:"embedding,omitempty"`
	Data      []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data,omitempty"`
}

func (b *localHTTPBackend) embedBatch(ctx context.Context, texts []string, _ PromptKind) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	reqBody := localHTTPRequest{}
	if len(texts) == 1 {
		reqBody.Text = texts[0]
	} else {
		reqBody.Texts = texts
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("local-http embedding backend: %s: %s", resp.Status, string(body))
	}
	var lr localHTTPResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("local-http embedding backend: parse response: %w", err)
	}
	if len(lr.Embedding) > 0 {
		return [][]float32{lr.Embedding}, nil
	}
	if len(lr.Data) != len(texts) {
		return nil, fmt.Errorf("local-http embedding backend: got %d embeddings, want %d", len(lr.Data), len(texts))
	}
	out := make([][]float32, len(lr.Data))
	for i := range lr.Data {
		out[i] = lr.Data[i].Embedding
	}
	return out, nil
}

// --- remote-api backend ----------------------------------------------------

// remoteAPIBackend talks to one of three recognised providers, per spec
// §4.1: openai-shaped (input+model -> data[i].embedding, grounded on
// internal/embedding/client.go), genai-shaped (texts+model ->
// embeddings[i], grounded on internal/llm/embeddings.go's EmbeddingRequest
// pattern), or a generic passthrough. All three use bearer-token auth.
type remoteAPIBackend struct {
	provider config.RemoteAPIProvider
	url      string
	model    string
	apiKey   string
	client   *http.Client
}

func newRemoteAPIBackend(cfg config.EmbeddingConfig) *remoteAPIBackend {
	return &remoteAPIBackend{
		provider: cfg.RemoteProvider,
		url:      cfg.RemoteURL,
		model:    cfg.ModelName,
		apiKey:   cfg.APIKey,
		client:   http.DefaultClient,
	}
}

func (b *remoteAPIBackend) embedBatch(ctx context.Context, texts []string, _ PromptKind) ([][]float32, error) {
	var payload []byte
	var err error
	switch b.provider {
	case config.ProviderGenai:
		payload, err = json.Marshal(struct {
			Texts []string `json:"texts"`
			Model string   `json:"model"`
		}{Texts: texts, Model: b.model})
	case config.ProviderOpenAI, config.ProviderGeneric, "":
		payload, err = json.Marshal(struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}{Input: texts, Model: b.model})
	default:
		return nil, fmt.Errorf("remote-api embedding backend: unknown provider %q", b.provider)
	}
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("remote-api embedding backend: %s: %s", resp.Status, string(body))
	}

	if b.provider == config.ProviderGenai {
		var gr struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.Unmarshal(body, &gr); err != nil {
			return nil, fmt.Errorf("remote-api embedding backend (genai): parse response: %w", err)
		}
		if len(gr.Embeddings) != len(texts) {
			return nil, fmt.Errorf("remote-api embedding backend (genai): got %d, want %d", len(gr.Embeddings), len(texts))
		}
		return gr.Embeddings, nil
	}

	var or struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("remote-api embedding backend: parse response: %w", err)
	}
	if len(or.Data) != len(texts) {
		return nil, fmt.Errorf("remote-api embedding backend: got %d, want %d", len(or.Data), len(texts))
	}
	out := make([][]float32, len(or.Data))
	for i := range or.Data {
		out[i] = or.Data[i].Embedding
	}
	return out, nil
}
