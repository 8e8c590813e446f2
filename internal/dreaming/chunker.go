package dreaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intelligencedev/coremem/internal/llmclient"
	"github.com/intelligencedev/coremem/internal/logctx"
)

const chunkingPrompt = `You are a semantic analysis expert. Analyze the following conversation and break it into meaningful semantic chunks.

CONVERSATION:
%s

INSTRUCTIONS:
1. Identify natural semantic boundaries (topic shifts, speaker turns, logical breaks)
2. Each chunk should be 100-800 tokens
3. Extract metadata for each chunk:
   - labels: list of topic tags
   - speaker: who is speaking (user/assistant/system)
   - entities: named entities mentioned (people, products, concepts)
   - language: detected language code ("en", "zh", "ja", ...)

Preserve the ORIGINAL language and wording of each chunk; do not translate or summarize the content field.

OUTPUT FORMAT (JSON only, no prose):
{"chunks":[{"content":"<original text>","language":"<code>","labels":["..."],"speaker":"<user|assistant|system>","entities":["..."]}]}`

const chunkingRepairPrompt = `Convert the following content into STRICT valid JSON with this schema only:
{"chunks":[{"content":"<string>","language":"<string>","labels":["<string>"],"speaker":"<string>","entities":["<string>"]}]}
Return JSON only. No prose, no markdown.

CONTENT:
%s`

type chunkingResponse struct {
	Chunks []chunkingChunk `json:"chunks"`
}

type chunkingChunk struct {
	Content  string   `json:"content"`
	Language string   `json:"language"`
	Labels   []string `json:"labels"`
	Speaker  string   `json:"speaker"`
	Entities []string `json:"entities"`
}

// Chunker turns a raw conversation (A) into semantic BChunks using an LLM.
// A parse failure triggers one LLM repair round-trip; if that also fails to
// produce valid JSON, ChunkConversation returns a fatal error rather than
// degrading to a rule-based split — there is no silent fallback.
type Chunker struct {
	llm          llmclient.Client
	qualityLevel string
	ctx          *logctx.Context
}

// NewChunker builds a Chunker bound to llm and qualityLevel ("basic",
// "good", or "premium").
func NewChunker(llm llmclient.Client, qualityLevel string, appCtx *logctx.Context) *Chunker {
	return &Chunker{llm: llm, qualityLevel: qualityLevel, ctx: appCtx}
}

// ChunkConversation chunks conversationText into BChunks parented under
// conversationID.
func (c *Chunker) ChunkConversation(ctx context.Context, conversationID, conversationText string) ([]BChunk, error) {
	prompt := fmt.Sprintf(chunkingPrompt, conversationText)

	raw, err := c.llm.GenerateResponse(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("dreaming A->B failed (no fallback): %w", err)
	}

	parsed, err := c.parseChunkingResponse(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("dreaming A->B failed (no fallback): %w", err)
	}

	confidence := 0.7
	if c.qualityLevel == "good" || c.qualityLevel == "premium" {
		confidence = 0.9
	}

	now := c.ctx.Now()
	chunks := make([]BChunk, 0, len(parsed.Chunks))
	total := len(parsed.Chunks)
	for i, cd := range parsed.Chunks {
		position := 0.0
		if total > 0 {
			position = float64(i) / float64(total)
		}
		chunks = append(chunks, BChunk{
			ID:          fmt.Sprintf("b_%s_%d", conversationID, i),
			ParentID:    conversationID,
			Type:        ChunkSemantic,
			Content:     cd.Content,
			Labels:      cd.Labels,
			Speaker:     firstNonEmpty(cd.Speaker, "unknown"),
			Entities:    cd.Entities,
			Confidence:  confidence,
			Language:    firstNonEmpty(cd.Language, "unknown"),
			Position:    position,
			QualityUsed: c.qualityLevel,
			CreatedAt:   now,
		})
	}
	return chunks, nil
}

// parseChunkingResponse tries, in order: a direct parse of the cleaned
// response, then extracting the first balanced JSON object from mixed
// prose, then a single LLM repair round-trip — mirroring the same
// three-pass recovery the synthesizer's parseSynthesisResponse attempts
// before giving up.
func (c *Chunker) parseChunkingResponse(ctx context.Context, raw string) (chunkingResponse, error) {
	cleaned := stripCodeFence(raw)

	var out chunkingResponse
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil && len(out.Chunks) > 0 {
		return out, nil
	}

	if obj, ok := extractFirstJSONObject(cleaned); ok {
		if err := json.Unmarshal([]byte(obj), &out); err == nil {
			return out, nil
		}
	}

	repaired, err := c.llm.GenerateResponse(ctx, fmt.Sprintf(chunkingRepairPrompt, cleaned))
	if err != nil {
		return chunkingResponse{}, fmt.Errorf("repair call failed: %w", err)
	}
	repairedClean := stripCodeFence(repaired)
	if err := json.Unmarshal([]byte(repairedClean), &out); err != nil {
		return chunkingResponse{}, fmt.Errorf("repair produced invalid JSON: %w", err)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
