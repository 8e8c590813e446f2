package dreaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intelligencedev/coremem/internal/llmclient"
	"github.com/intelligencedev/coremem/internal/logctx"
)

const synthesisPrompt = `You are a knowledge synthesis expert. Analyze the following semantic chunks and cluster them into meaningful topics and relationships.

CHUNKS:
%s

INSTRUCTIONS:
1. Identify natural clusters: TOPIC (thematic groupings), RELATIONSHIP (connected concepts across chunks), TIMELINE (temporal/sequential patterns), SUMMARY (high-level overviews).
2. For each cluster, provide: type, title, summary, chunk_ids (referencing the ids above), entities.
3. Cross-reference clusters when concepts relate.

OUTPUT FORMAT (JSON only, no prose):
{"clusters":[{"type":"TOPIC","title":"<name>","summary":"<synthesis>","chunk_ids":["..."],"entities":["..."],"related_clusters":[]}]}`

const repairPrompt = `Convert the following content into STRICT valid JSON with this schema only:
{"clusters":[{"type":"TOPIC","title":"<string>","summary":"<string>","chunk_ids":["<string>"],"entities":["<string>"],"related_clusters":["<string>"]}]}
Return JSON only. No prose, no markdown.

CONTENT:
%s`

type synthesisResponse struct {
	Clusters []synthesisCluster `json:"clusters"`
}

type synthesisCluster struct {
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	ChunkIDs        []string `json:"chunk_ids"`
	Entities        []string `json:"entities"`
	RelatedClusters []string `json:"related_clusters"`
}

type chunkSummary struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Labels   []string `json:"labels"`
	Speaker  string   `json:"speaker"`
	Entities []string `json:"entities"`
}

// Synthesizer clusters BChunks into CClusters using an LLM. Like the
// Chunker, a B->C failure is unrecoverable once the repair round-trip also
// fails: it raises rather than degrades, since a consolidated archive
// built from a made-up clustering would be worse than no archive at all.
type Synthesizer struct {
	llm          llmclient.Client
	qualityLevel string
	ctx          *logctx.Context
}

// NewSynthesizer builds a Synthesizer bound to llm and qualityLevel.
func NewSynthesizer(llm llmclient.Client, qualityLevel string, appCtx *logctx.Context) *Synthesizer {
	return &Synthesizer{llm: llm, qualityLevel: qualityLevel, ctx: appCtx}
}

// SynthesizeChunks synthesizes chunks into CClusters for sessionID.
func (s *Synthesizer) SynthesizeChunks(ctx context.Context, chunks []BChunk, sessionID string) ([]CCluster, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	summaries := make([]chunkSummary, 0, len(chunks))
	for _, c := range chunks {
		content := c.Content
		if len(content) > 200 {
			content = content[:200]
		}
		summaries = append(summaries, chunkSummary{
			ID: c.ID, Content: content, Labels: c.Labels, Speaker: c.Speaker, Entities: c.Entities,
		})
	}
	chunksJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("dreaming: marshal chunk summaries: %w", err)
	}

	raw, err := s.llm.GenerateResponse(ctx, fmt.Sprintf(synthesisPrompt, string(chunksJSON)))
	if err != nil {
		return nil, fmt.Errorf("dreaming B->C failed (no fallback): %w", err)
	}

	parsed, err := s.parseSynthesisResponse(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("dreaming B->C failed (no fallback): %w", err)
	}

	confidence := 0.7
	if s.qualityLevel == "good" || s.qualityLevel == "premium" {
		confidence = 0.9
	}

	now := s.ctx.Now()
	clusters := make([]CCluster, 0, len(parsed.Clusters))
	for i, cd := range parsed.Clusters {
		clusters = append(clusters, CCluster{
			ID:              fmt.Sprintf("c_%s_%d", sessionID, i),
			Type:            normalizeClusterType(cd.Type),
			Content:         cd.Summary,
			RelatedChunks:   cd.ChunkIDs,
			RelatedClusters: cd.RelatedClusters,
			Theme:           firstNonEmpty(cd.Title, fmt.Sprintf("Cluster %d", i)),
			Entities:        cd.Entities,
			Confidence:      confidence,
			QualityUsed:     s.qualityLevel,
			CreatedAt:       now,
		})
	}
	return clusters, nil
}

// parseSynthesisResponse tries, in order: a direct parse of the cleaned
// response, then extracting the first balanced JSON object from mixed
// prose, then a single LLM repair round-trip — mirroring the three-pass
// recovery DreamingSynthesizer._parse_llm_response attempts before giving
// up.
func (s *Synthesizer) parseSynthesisResponse(ctx context.Context, raw string) (synthesisResponse, error) {
	cleaned := stripCodeFence(raw)

	var out synthesisResponse
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil && len(out.Clusters) > 0 {
		return out, nil
	}

	if obj, ok := extractFirstJSONObject(cleaned); ok {
		if err := json.Unmarshal([]byte(obj), &out); err == nil {
			return out, nil
		}
	}

	repaired, err := s.llm.GenerateResponse(ctx, fmt.Sprintf(repairPrompt, cleaned))
	if err != nil {
		return synthesisResponse{}, fmt.Errorf("repair call failed: %w", err)
	}
	repairedClean := stripCodeFence(repaired)
	if err := json.Unmarshal([]byte(repairedClean), &out); err != nil {
		return synthesisResponse{}, fmt.Errorf("repair produced invalid JSON: %w", err)
	}
	return out, nil
}

func normalizeClusterType(s string) ClusterType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TOPIC":
		return ClusterTopic
	case "RELATIONSHIP":
		return ClusterRelationship
	case "SUMMARY":
		return ClusterSummary
	case "TIMELINE":
		return ClusterTimeline
	default:
		return ClusterTopic
	}
}

// extractFirstJSONObject scans text for the first brace-balanced {...}
// substring, respecting quoted strings and escapes, mirroring
// DreamingSynthesizer._extract_first_json_object.
func extractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start != -1 {
		depth := 0
		inString := false
		escape := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if inString {
				switch {
				case escape:
					escape = false
				case ch == '\\':
					escape = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start = start + 1 + next
	}
	return "", false
}
