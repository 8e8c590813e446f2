// Package memory implements C2-C7, the tiered memory engine: Working
// Memory, Active Memory, Archival Memory, the Knowledge Base, Multi-Model
// Storage, and the Memory Orchestrator that composes them.
//
// The data model follows spec §3 directly. Where the original Python
// source duck-types Page.content as either a map with a "messages" list
// or a free-form string, this module uses a tagged union (PageContent),
// per DESIGN NOTES §9 — grounded on the same instinct the teacher applies
// in internal/llm/provider.go, where Message fields are strongly typed
// rather than passed around as map[string]any.
package memory

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is immutable after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PageKind classifies a Page's provenance.
type PageKind string

const (
	PageKindConversation         PageKind = "conversation"
	PageKindConversationComplete PageKind = "conversation_complete"
	PageKindPromoted             PageKind = "promoted"
)

// PageContentType discriminates the PageContent tagged union.
type PageContentType string

const (
	PageContentConversation PageContentType = "conversation"
	PageContentText         PageContentType = "text"
	PageContentPromoted     PageContentType = "promoted"
)

// PageContent is the tagged union replacing the source's duck-typed page
// content (a map with a messages list, or a free-form string). Exactly one
// of Messages/Body is meaningful, selected by Type.
type PageContent struct {
	Type PageContentType `json:"type"`

	// Conversation variant.
	Messages []Message `json:"messages,omitempty"`

	// Text variant, and the Body shared by the Promoted variant.
	Body string `json:"body,omitempty"`

	// Promoted variant: SourceRef names the archival item this page was
	// promoted from, so re-promotion can be deduplicated against it.
	SourceRef string `json:"source_ref,omitempty"`

	// Timestamp is carried for the conversation variant's {messages,
	// timestamp} shape named in spec §3.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ConversationContent builds the Conversation variant of PageContent.
func ConversationContent(messages []Message, ts time.Time) PageContent {
	return PageContent{Type: PageContentConversation, Messages: messages, Timestamp: ts}
}

// TextContent builds the Text variant of PageContent.
func TextContent(body string) PageContent {
	return PageContent{Type: PageContentText, Body: body}
}

// PromotedContent builds the Promoted variant of PageContent.
func PromotedContent(sourceRef, body string) PageContent {
	return PageContent{Type: PageContentPromoted, SourceRef: sourceRef, Body: body}
}

// SerializedText renders the page content as the flattened text archival
// storage and embedding both operate on.
func (pc PageContent) SerializedText() string {
	switch pc.Type {
	case PageContentConversation:
		var out string
		for i, m := range pc.Messages {
			if i > 0 {
				out += "\n"
			}
			out += string(m.Role) + ": " + m.Content
		}
		return out
	default:
		return pc.Body
	}
}

// Page is the unit of paging between Working and Active Memory.
// Ownership: exclusively owned by Active Memory until evicted; on
// eviction a snapshot is handed to Archival Memory and the page is
// destroyed.
type Page struct {
	ID           string      `json:"id"`
	Content      PageContent `json:"content"`
	Kind         PageKind    `json:"kind"`
	CreatedAt    time.Time   `json:"created_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	AccessCount  int         `json:"access_count"`
}

// ArchivedItem is append-only: its text, metadata and embedding do not
// change once stored; only the access bookkeeping fields are updated, by
// searches.
type ArchivedItem struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
	CreatedAt time.Time      `json:"created_at"`

	// AccessCount/LastAccessedAt: supplemented bookkeeping (see
	// SPEC_FULL.md §4 and DESIGN.md), grounded on the teacher's
	// internal/agent/memory/evolving.go access-metrics pattern.
	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// SourceType classifies a Document for the Knowledge Base.
type SourceType string

const (
	SourceChat   SourceType = "chat"
	SourceCode   SourceType = "code"
	SourceWeb    SourceType = "web"
	SourceManual SourceType = "manual"
)

// GitContext is attached to source_type=code documents with repository
// provenance and drives the deterministic ID derivation in spec §3/§9.
type GitContext struct {
	RepoURL    string `json:"repo_url"`
	FilePath   string `json:"file_path"`
	CommitHash string `json:"commit_hash,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// Document is a Knowledge Base entry.
type Document struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Chunks      []string       `json:"chunks"`
	Metadata    map[string]any `json:"metadata"`
	SourceType  SourceType     `json:"source_type"`
	GitContext  *GitContext    `json:"git_context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// ChunkEmbedding is aligned with a Document's chunks by index and is
// removed when the document is removed.
type ChunkEmbedding struct {
	DocID      string     `json:"doc_id"`
	ChunkIndex int        `json:"chunk_index"`
	Vector     []float32  `json:"vector"`
	SourceType SourceType `json:"source_type"`
}

// MultiModelEntry holds one piece of text enriched with embeddings from
// several models, keyed by "<model_name>:<dim>".
type MultiModelEntry struct {
	ID         string               `json:"id"`
	Text       string               `json:"text"`
	Embeddings map[string][]float32 `json:"embeddings"`
	Metadata   MultiModelMetadata   `json:"metadata"`
}

// MultiModelMetadata tracks which models have backed an entry.
type MultiModelMetadata struct {
	CreatedAt       time.Time `json:"created_at"`
	ModelVersions   []string  `json:"model_versions"`
	AvailableModels []string  `json:"available_models"`
}

// ScoredResult is the common shape every tier's search returns, merged and
// ranked by the orchestrator.
type ScoredResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"` // working | active | archival | knowledge | multi_model
}

// sourcePriority implements the deterministic tie-break named in spec §4.7
// and DESIGN NOTES §9: descending score, then source priority
// working > active > archival > knowledge.
func sourcePriority(source string) int {
	switch source {
	case "working":
		return 3
	case "active", "multi_model":
		return 2
	case "archival":
		return 1
	case "knowledge":
		return 0
	default:
		return -1
	}
}
