package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/dreaming"
	"github.com/intelligencedev/coremem/internal/memory"
)

// Deps bundles everything the representative tool handlers named in spec
// §4.8 need: the orchestrator (C7), the knowledge base (C5, also reachable
// through the orchestrator but named separately for clarity), the web
// search configuration (C8's one external dependency), and the dreaming
// pipeline (C10, optional — nil disables the dream_conversation family of
// tools so a deployment without a configured LLM provider still boots).
type Deps struct {
	Orchestrator *memory.Orchestrator
	Dreaming     *dreaming.Pipeline
	Tools        config.ToolsConfig
	HTTPClient   *http.Client
	Now          func() time.Time
}

// BuildRegistry registers every representative tool named in spec §4.8
// against a fresh Registry.
func BuildRegistry(d Deps) *Registry {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	r := NewRegistry()

	r.Register(Tool{
		Name:        "get_memory_context",
		Description: "Retrieve the most relevant memories across working, active, archival, and knowledge-base tiers for a query.",
		Category:    CategoryMemory,
		Priority:    PriorityHigh,
		InputSchema: schema(map[string]any{
			"query":     stringProp("The search query"),
			"max_items": intProp("Maximum number of results to return", 1, 50),
		}, []string{"query"}),
		Template: &PromptTemplate{
			Template: "Search my memory for information about: {query}",
			Examples: []string{
				"Search my memory for information about Python programming",
				"Find information about our previous discussion about machine learning",
				"Look up what I know about climate change",
			},
			UsageTip: "Use this tool to retrieve relevant context from the user's memory before answering questions or providing information.",
		},
		Handler: d.handleGetMemoryContext,
	})

	r.Register(Tool{
		Name:        "add_documents",
		Description: "Add one or more documents to the knowledge base.",
		Category:    CategoryKnowledge,
		Priority:    PriorityHigh,
		InputSchema: schema(map[string]any{
			"documents": map[string]any{
				"type":        "array",
				"description": "Documents to add",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":        map[string]any{"type": "string"},
						"source_type": map[string]any{"type": "string", "enum": []string{"chat", "code", "web", "manual"}},
						"metadata":    map[string]any{"type": "object"},
						"repo_url":    map[string]any{"type": "string"},
						"file_path":   map[string]any{"type": "string"},
						"commit_hash": map[string]any{"type": "string"},
						"branch":      map[string]any{"type": "string"},
					},
					"required": []string{"text"},
				},
			},
		}, []string{"documents"}),
		Template: &PromptTemplate{
			Template: "Add these documents to my knowledge base: {content}",
			Examples: []string{
				"Add this document to my knowledge base: Python best practices for web development",
				"Store this reference material: Machine learning algorithms explained",
				"Save this information: Climate change impacts and solutions",
			},
			UsageTip: "Use this tool to permanently store reference material, documentation, or any information that should be available for future conversations.",
		},
		Handler: d.handleAddDocuments,
	})

	r.Register(Tool{
		Name:        "add_conversation",
		Description: "Append a user/assistant message pair to Working Memory.",
		Category:    CategoryConversation,
		Priority:    PriorityHigh,
		InputSchema: schema(map[string]any{
			"user_message":      stringProp("The user's message"),
			"assistant_message": stringProp("The assistant's reply"),
		}, []string{"user_message", "assistant_message"}),
		Template: &PromptTemplate{
			Template: "Remember this conversation: User asked '{user_message}' and I responded '{assistant_message}'",
			Examples: []string{
				"Remember this conversation: User asked 'What is Python?' and I responded 'Python is a high-level programming language...'",
				"Store this exchange: User asked 'How do I install packages?' and I responded 'You can use pip to install Python packages...'",
			},
			UsageTip: "Call this tool IMMEDIATELY after every user question and your response to maintain conversation context.",
		},
		Handler: d.handleAddConversation,
	})

	r.Register(Tool{
		Name:        "end_conversation",
		Description: "Archive the current conversation and clear Working Memory.",
		Category:    CategoryConversation,
		Priority:    PriorityMedium,
		InputSchema: schema(map[string]any{}, nil),
		Template: &PromptTemplate{
			Template: "Archive our current conversation topic",
			Examples: []string{
				"Archive our current conversation topic",
				"End this discussion and save it to memory",
			},
			UsageTip: "Use when switching to a completely different topic or when the current discussion is complete.",
		},
		Handler: d.handleEndConversation,
	})

	r.Register(Tool{
		Name:        "list_recent_conversations",
		Description: "List the most recently created conversation pages in Active Memory.",
		Category:    CategoryConversation,
		Priority:    PriorityMedium,
		InputSchema: schema(map[string]any{
			"limit": intProp("Maximum number of conversations to return", 1, 50),
		}, nil),
		Template: &PromptTemplate{
			Template: "Show me my recent conversation history",
			Examples: []string{
				"Show me my recent conversation history",
				"List my last 5 conversations",
				"What have we discussed recently?",
			},
			UsageTip: "Use this to review conversation history or identify conversations that need cleanup.",
		},
		Handler: d.handleListRecentConversations,
	})

	r.Register(Tool{
		Name:        "remove_conversation_message",
		Description: "Remove a single message from Working Memory by id.",
		Category:    CategoryConversation,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"message_id": stringProp("The message id to remove"),
		}, []string{"message_id"}),
		Template: &PromptTemplate{
			Template: "Remove conversation message with ID: {message_id}",
			Examples: []string{
				"Remove conversation message with ID: conv_12345",
				"Delete this bad conversation: conv_67890",
			},
			UsageTip: "Use to remove specific problematic conversation messages that are cluttering memory.",
		},
		Handler: d.handleRemoveConversationMessage,
	})

	r.Register(Tool{
		Name:        "remove_recent_conversations",
		Description: "Remove the most recent N conversation pages from Active Memory.",
		Category:    CategoryConversation,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"count": intProp("Number of recent conversations to remove", 1, 100),
		}, []string{"count"}),
		Template: &PromptTemplate{
			Template: "Remove my last {count} conversations",
			Examples: []string{
				"Remove my last 3 conversations",
				"Clean up the last 10 conversations",
			},
			UsageTip: "Use for bulk cleanup of multiple recent problematic conversations.",
		},
		Handler: d.handleRemoveRecentConversations,
	})

	r.Register(Tool{
		Name:        "list_recent_documents",
		Description: "List the most recently added knowledge-base documents.",
		Category:    CategoryKnowledge,
		Priority:    PriorityMedium,
		InputSchema: schema(map[string]any{
			"limit": intProp("Maximum number of documents to return", 1, 50),
		}, nil),
		Template: &PromptTemplate{
			Template: "Show me my recent documents in the knowledge base",
			Examples: []string{
				"Show me my recent documents in the knowledge base",
				"List my last 5 added documents",
				"What reference materials do I have?",
			},
			UsageTip: "Use this to review what documents are stored in the knowledge base.",
		},
		Handler: d.handleListRecentDocuments,
	})

	r.Register(Tool{
		Name:        "remove_document",
		Description: "Remove a document from the knowledge base by id.",
		Category:    CategoryKnowledge,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"document_id": stringProp("The document id to remove"),
		}, []string{"document_id"}),
		Template: &PromptTemplate{
			Template: "Remove document with ID: {document_id}",
			Examples: []string{
				"Remove document with ID: doc_12345",
				"Delete this outdated document: doc_67890",
			},
			UsageTip: "Use to remove specific documents that are outdated, incorrect, or no longer relevant.",
		},
		Handler: d.handleRemoveDocument,
	})

	r.Register(Tool{
		Name:        "toggle_multi_model",
		Description: "Enable or disable multi-model embedding storage.",
		Category:    CategoryUtilities,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "Whether multi-model storage should be enabled"},
		}, []string{"enabled"}),
		Template: &PromptTemplate{
			Template: "Toggle multi-model embeddings: {enabled}",
			Examples: []string{
				"Enable multi-model embeddings for better search accuracy",
				"Disable multi-model embeddings to save resources",
			},
			UsageTip: "Enable when you need better search accuracy across diverse content types, disable to reduce resource usage.",
		},
		Handler: d.handleToggleMultiModel,
	})

	r.Register(Tool{
		Name:        "web_search",
		Description: "Search the web via Google Custom Search and return structured results.",
		Category:    CategoryUtilities,
		Priority:    PriorityMedium,
		InputSchema: schema(map[string]any{
			"query": stringProp("The search query"),
			"limit": intProp("Maximum number of results", 1, 10),
		}, []string{"query"}),
		Template: &PromptTemplate{
			Template: "Search the web for: {query}",
			Examples: []string{
				"Search the web for latest AI news",
				"Find information about quantum computing advancements",
				"Look up current weather in Tokyo",
			},
			UsageTip: "Use when you need up-to-date information, news, or data not available in local memory.",
		},
		Handler: d.handleWebSearch,
	})

	r.Register(Tool{
		Name:        "get_current_day",
		Description: "Return today's date.",
		Category:    CategoryUtilities,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{}, nil),
		Template: &PromptTemplate{
			Template: "What is today's date and day?",
			Examples: []string{
				"What is today's date and day?",
				"Tell me the current date and time",
				"What day of the week is it today?",
			},
			UsageTip: "Use for questions about today's date, current day, time, or year information.",
		},
		Handler: d.handleGetCurrentDay,
	})

	r.Register(Tool{
		Name:        "get_current_time",
		Description: "Return the current time.",
		Category:    CategoryUtilities,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{}, nil),
		Handler:     d.handleGetCurrentTime,
	})

	r.Register(Tool{
		Name:        "save_state",
		Description: "Snapshot Working Memory, Active Memory, and the embedding model descriptor to a JSON file.",
		Category:    CategoryUtilities,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"path": stringProp("Filesystem path to write the snapshot to"),
		}, []string{"path"}),
		Handler: d.handleSaveState,
	})

	r.Register(Tool{
		Name:        "load_state",
		Description: "Restore Working Memory and Active Memory from a snapshot written by save_state.",
		Category:    CategoryUtilities,
		Priority:    PriorityLow,
		InputSchema: schema(map[string]any{
			"path": stringProp("Filesystem path to read the snapshot from"),
		}, []string{"path"}),
		Handler: d.handleLoadState,
	})

	r.Register(Tool{
		Name:        "dream_conversation",
		Description: "Run the A→B→C→D consolidation pipeline over a conversation, archiving a new versioned knowledge record.",
		Category:    CategoryMemory,
		Priority:    PriorityLow,
		Placeholder: d.Dreaming == nil,
		InputSchema: schema(map[string]any{
			"conversation_id": stringProp("Conversation to consolidate"),
			"conversation_text": stringProp("Raw conversation text to process"),
		}, []string{"conversation_id", "conversation_text"}),
		Handler: d.handleDreamConversation,
	})

	r.Register(Tool{
		Name:        "get_dreaming_status",
		Description: "Return the manifest and lifecycle metadata for a conversation's dreaming archives.",
		Category:    CategoryMemory,
		Priority:    PriorityLow,
		Placeholder: d.Dreaming == nil,
		InputSchema: schema(map[string]any{
			"conversation_id": stringProp("Conversation to inspect"),
		}, []string{"conversation_id"}),
		Handler: d.handleGetDreamingStatus,
	})

	r.Register(Tool{
		Name:        "list_dream_archives",
		Description: "List every conversation with at least one dreaming archive.",
		Category:    CategoryMemory,
		Priority:    PriorityLow,
		Placeholder: d.Dreaming == nil,
		InputSchema: schema(map[string]any{}, nil),
		Handler:     d.handleListDreamArchives,
	})

	r.Register(Tool{
		Name:        "upgrade_dreaming_quality",
		Description: "Re-run the dreaming pipeline over a conversation's latest archive at a higher quality level, producing a new version.",
		Category:    CategoryMemory,
		Priority:    PriorityLow,
		Placeholder: d.Dreaming == nil,
		InputSchema: schema(map[string]any{
			"conversation_id": stringProp("Conversation whose latest archive should be re-processed"),
			"target_quality":  stringProp("Target quality level (good/premium)"),
		}, []string{"conversation_id", "target_quality"}),
		Handler: d.handleUpgradeDreamingQuality,
	})

	return r
}

func schema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string, min, max int) map[string]any {
	return map[string]any{"type": "integer", "description": description, "minimum": min, "maximum": max}
}

// --- handlers ---

type getMemoryContextArgs struct {
	Query    string `json:"query"`
	MaxItems int    `json:"max_items"`
}

func (d Deps) handleGetMemoryContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getMemoryContextArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("get_memory_context: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("get_memory_context: query is required")
	}
	limit := args.MaxItems
	if limit <= 0 {
		limit = 10 // internal default per spec §9; schema cap is 50
	}
	if limit > 50 {
		limit = 50
	}
	results, err := d.Orchestrator.GetContextForQuery(ctx, args.Query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results}, nil
}

type addDocumentInput struct {
	Text       string         `json:"text"`
	SourceType string         `json:"source_type"`
	Metadata   map[string]any `json:"metadata"`
	RepoURL    string         `json:"repo_url"`
	FilePath   string         `json:"file_path"`
	CommitHash string         `json:"commit_hash"`
	Branch     string         `json:"branch"`
}

type addDocumentsArgs struct {
	Documents []addDocumentInput `json:"documents"`
}

func (d Deps) handleAddDocuments(ctx context.Context, raw json.RawMessage) (any, error) {
	var args addDocumentsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("add_documents: %w", err)
	}
	if len(args.Documents) == 0 {
		return nil, fmt.Errorf("add_documents: documents is required")
	}

	embedFn := func(text string) ([]float32, error) {
		return d.Orchestrator.EmbedPassage(ctx, text)
	}

	ids := make([]string, 0, len(args.Documents))
	for _, doc := range args.Documents {
		sourceType := memory.SourceType(doc.SourceType)
		if sourceType == "" {
			sourceType = memory.SourceManual
		}
		var gc *memory.GitContext
		if doc.RepoURL != "" {
			gc = &memory.GitContext{RepoURL: doc.RepoURL, FilePath: doc.FilePath, CommitHash: doc.CommitHash, Branch: doc.Branch}
		}
		id, err := d.Orchestrator.Knowledge.AddDocument(embedFn, doc.Text, doc.Metadata, sourceType, gc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return map[string]any{"ids": ids}, nil
}

type addConversationArgs struct {
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
}

func (d Deps) handleAddConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	var args addConversationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("add_conversation: %w", err)
	}
	if args.UserMessage == "" || args.AssistantMessage == "" {
		return nil, fmt.Errorf("add_conversation: user_message and assistant_message are required")
	}
	if _, err := d.Orchestrator.AddUser(ctx, args.UserMessage); err != nil {
		return nil, err
	}
	if _, err := d.Orchestrator.AddAssistant(ctx, args.AssistantMessage); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (d Deps) handleEndConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	pageID, err := d.Orchestrator.EndConversation()
	if err != nil {
		return nil, err
	}
	return map[string]any{"page_id": pageID}, nil
}

type limitArgs struct {
	Limit int `json:"limit"`
}

func (d Deps) handleListRecentConversations(ctx context.Context, raw json.RawMessage) (any, error) {
	var args limitArgs
	_ = json.Unmarshal(raw, &args)
	limit := args.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	pages := d.Orchestrator.Active.Recent(limit)
	return map[string]any{"conversations": pages}, nil
}

type messageIDArgs struct {
	MessageID string `json:"message_id"`
}

func (d Deps) handleRemoveConversationMessage(ctx context.Context, raw json.RawMessage) (any, error) {
	var args messageIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("remove_conversation_message: %w", err)
	}
	if args.MessageID == "" {
		return nil, fmt.Errorf("remove_conversation_message: message_id is required")
	}
	msgs := d.Orchestrator.Working.GetMessages()
	removed := false
	for _, m := range msgs {
		if m.ID == args.MessageID {
			removed = true
			break
		}
	}
	if !removed {
		return map[string]any{"ok": false}, nil
	}
	kept := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != args.MessageID {
			kept = append(kept, m)
		}
	}
	d.Orchestrator.Working.Clear()
	for _, m := range kept {
		d.Orchestrator.Working.Add(m.Role, m.Content)
	}
	return map[string]any{"ok": true}, nil
}

type countArgs struct {
	Count int `json:"count"`
}

func (d Deps) handleRemoveRecentConversations(ctx context.Context, raw json.RawMessage) (any, error) {
	var args countArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("remove_recent_conversations: %w", err)
	}
	if args.Count < 1 || args.Count > 100 {
		return nil, fmt.Errorf("remove_recent_conversations: count must be in [1,100]")
	}
	recent := d.Orchestrator.Active.Recent(args.Count)
	removed := 0
	for _, p := range recent {
		if _, ok := d.Orchestrator.Active.RemoveByID(p.ID); ok {
			removed++
		}
	}
	return map[string]any{"removed": removed}, nil
}

func (d Deps) handleListRecentDocuments(ctx context.Context, raw json.RawMessage) (any, error) {
	var args limitArgs
	_ = json.Unmarshal(raw, &args)
	limit := args.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	docs := d.Orchestrator.Knowledge.ListRecent(limit)
	return map[string]any{"documents": docs}, nil
}

type documentIDArgs struct {
	DocumentID string `json:"document_id"`
}

func (d Deps) handleRemoveDocument(ctx context.Context, raw json.RawMessage) (any, error) {
	var args documentIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("remove_document: %w", err)
	}
	if args.DocumentID == "" {
		return nil, fmt.Errorf("remove_document: document_id is required")
	}
	ok, err := d.Orchestrator.Knowledge.Remove(args.DocumentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": ok}, nil
}

type toggleMultiModelArgs struct {
	Enabled bool `json:"enabled"`
}

func (d Deps) handleToggleMultiModel(ctx context.Context, raw json.RawMessage) (any, error) {
	var args toggleMultiModelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("toggle_multi_model: %w", err)
	}
	d.Orchestrator.SetMultiModelEnabled(args.Enabled)
	return map[string]any{"enabled": d.Orchestrator.MultiModelEnabled()}, nil
}

type statePathArgs struct {
	Path string `json:"path"`
}

func (d Deps) handleSaveState(ctx context.Context, raw json.RawMessage) (any, error) {
	var args statePathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("save_state: %w", err)
	}
	if args.Path == "" {
		return nil, fmt.Errorf("save_state: path is required")
	}
	if err := d.Orchestrator.SaveStateToFile(args.Path); err != nil {
		return nil, fmt.Errorf("save_state: %w", err)
	}
	return map[string]any{"ok": true, "path": args.Path}, nil
}

func (d Deps) handleLoadState(ctx context.Context, raw json.RawMessage) (any, error) {
	var args statePathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("load_state: %w", err)
	}
	if args.Path == "" {
		return nil, fmt.Errorf("load_state: path is required")
	}
	if err := d.Orchestrator.LoadStateFromFile(args.Path); err != nil {
		return nil, fmt.Errorf("load_state: %w", err)
	}
	return map[string]any{"ok": true, "path": args.Path}, nil
}

// WebSearchResult is the structured shape spec §4.8 names for web_search.
type WebSearchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

type webSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		DisplayLink string `json:"displayLink"`
	} `json:"items"`
}

func (d Deps) handleWebSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("web_search: query is required")
	}
	limit := args.Limit
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	if d.Tools.GoogleSearchAPIKey == "" || d.Tools.GoogleSearchCX == "" {
		return webSearchFailure(args.Query, "Google Custom Search is not configured"), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.Tools.WebSearchTimeout())
	defer cancel()

	endpoint := "https://www.googleapis.com/customsearch/v1?" + url.Values{
		"key": {d.Tools.GoogleSearchAPIKey},
		"cx":  {d.Tools.GoogleSearchCX},
		"q":   {args.Query},
		"num": {fmt.Sprintf("%d", limit)},
	}.Encode()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return webSearchFailure(args.Query, err.Error()), nil
	}
	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return webSearchFailure(args.Query, "request failed: "+err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return webSearchFailure(args.Query, fmt.Sprintf("upstream returned status %d", resp.StatusCode)), nil
	}

	var parsed googleSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return webSearchFailure(args.Query, "decode response: "+err.Error()), nil
	}

	results := make([]WebSearchResult, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		if i >= limit {
			break
		}
		results = append(results, WebSearchResult{
			Title:   item.Title,
			Content: item.Snippet,
			URL:     item.Link,
			Source:  item.DisplayLink,
		})
	}
	return map[string]any{"results": results, "total_results": len(results)}, nil
}

// webSearchFailure builds the structured degrade payload spec §7's
// external-dependency-failure kind names for web_search: the failure is
// reported in-band rather than surfaced as a tool-call error.
func webSearchFailure(query, message string) map[string]any {
	return map[string]any{
		"error":         message,
		"query":         query,
		"results":       []WebSearchResult{},
		"total_results": 0,
	}
}

func (d Deps) handleGetCurrentDay(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"day": d.Now().Format("2006-01-02")}, nil
}

func (d Deps) handleGetCurrentTime(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"time": d.Now().Format(time.RFC3339)}, nil
}

type dreamConversationArgs struct {
	ConversationID   string `json:"conversation_id"`
	ConversationText string `json:"conversation_text"`
}

func (d Deps) handleDreamConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.Dreaming == nil {
		return nil, fmt.Errorf("dream_conversation: dreaming pipeline is not configured")
	}
	var args dreamConversationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("dream_conversation: %w", err)
	}
	if args.ConversationID == "" || args.ConversationText == "" {
		return nil, fmt.Errorf("dream_conversation: conversation_id and conversation_text are required")
	}
	result := d.Dreaming.ProcessConversation(ctx, args.ConversationID, args.ConversationText, nil)
	return result, nil
}

type dreamingStatusArgs struct {
	ConversationID string `json:"conversation_id"`
}

func (d Deps) handleGetDreamingStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.Dreaming == nil {
		return nil, fmt.Errorf("get_dreaming_status: dreaming pipeline is not configured")
	}
	var args dreamingStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("get_dreaming_status: %w", err)
	}
	manifest, ok := d.Dreaming.GetManifest(args.ConversationID)
	if !ok {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{"found": true, "manifest": manifest}, nil
}

func (d Deps) handleListDreamArchives(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.Dreaming == nil {
		return nil, fmt.Errorf("list_dream_archives: dreaming pipeline is not configured")
	}
	archives, err := d.Dreaming.ListArchives()
	if err != nil {
		return nil, fmt.Errorf("list_dream_archives: %w", err)
	}
	return map[string]any{"archives": archives}, nil
}

type upgradeDreamingQualityArgs struct {
	ConversationID string `json:"conversation_id"`
	TargetQuality  string `json:"target_quality"`
}

func (d Deps) handleUpgradeDreamingQuality(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.Dreaming == nil {
		return nil, fmt.Errorf("upgrade_dreaming_quality: dreaming pipeline is not configured")
	}
	var args upgradeDreamingQualityArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("upgrade_dreaming_quality: %w", err)
	}
	if args.ConversationID == "" || args.TargetQuality == "" {
		return nil, fmt.Errorf("upgrade_dreaming_quality: conversation_id and target_quality are required")
	}
	result, err := d.Dreaming.UpgradeQuality(ctx, args.ConversationID, args.TargetQuality)
	if err != nil {
		return nil, fmt.Errorf("upgrade_dreaming_quality: %w", err)
	}
	return result, nil
}
