package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/embedding"
	"github.com/intelligencedev/coremem/internal/logctx"
)

// Orchestrator is C7: composes Working, Active, Archival, Knowledge and
// (optionally) Multi-Model storage into the conversation-facing operations
// the tool registry calls.
type Orchestrator struct {
	ctx *logctx.Context
	cfg config.OrchestratorConfig

	embed *embedding.Service

	Working   *WorkingMemory
	Active    *ActiveMemory
	Archival  *ArchivalMemory
	Knowledge *KnowledgeBase
	MultiModel *MultiModelStore

	multiModelEnabled bool
	nowFunc           func() time.Time
}

// NewOrchestrator wires the four tiers (plus multi-model storage) behind
// the operations spec §4.7 names.
func NewOrchestrator(
	appCtx *logctx.Context,
	cfg config.OrchestratorConfig,
	embed *embedding.Service,
	working *WorkingMemory,
	active *ActiveMemory,
	archival *ArchivalMemory,
	knowledge *KnowledgeBase,
	multiModel *MultiModelStore,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		ctx:               appCtx,
		cfg:               cfg,
		embed:             embed,
		Working:           working,
		Active:            active,
		Archival:          archival,
		Knowledge:         knowledge,
		MultiModel:        multiModel,
		multiModelEnabled: cfg.MultiModelEnabled,
		nowFunc:           now,
	}
}

// AddUser appends a user message to Working Memory, paging out the oldest
// messages into Active Memory if the paging trigger (80% of max_tokens,
// spec §4.7) is reached.
func (o *Orchestrator) AddUser(ctx context.Context, content string) (Message, error) {
	msg := o.Working.Add(RoleUser, content)
	if err := o.maybePageOut(); err != nil {
		return msg, err
	}
	return msg, nil
}

// AddAssistant appends an assistant message, with the same paging behaviour
// as AddUser.
func (o *Orchestrator) AddAssistant(ctx context.Context, content string) (Message, error) {
	msg := o.Working.Add(RoleAssistant, content)
	if err := o.maybePageOut(); err != nil {
		return msg, err
	}
	return msg, nil
}

// maybePageOut moves the oldest page-out batch from Working to Active
// Memory when Working Memory has reached its paging trigger.
func (o *Orchestrator) maybePageOut() error {
	if !o.Working.IsFull() {
		return nil
	}
	return o.PageOutOldest()
}

// PageOutOldest removes PageOutBatchSize oldest messages from Working
// Memory and stores them as a single conversation page in Active Memory,
// handing evicted Active pages to Archival Memory.
func (o *Orchestrator) PageOutOldest() error {
	batch := o.cfg.PageOutBatchSize
	if batch <= 0 {
		batch = 10
	}
	removed := o.Working.RemoveOldest(batch)
	if len(removed) == 0 {
		return nil
	}
	content := ConversationContent(removed, o.nowFunc())
	o.Active.AddPage(content, PageKindConversation, o.archivalEvictHandler())
	return nil
}

// archivalEvictHandler returns an OnEvict that hands an evicted Active
// Memory page to Archival Memory, embedding it (passage kind) along the
// way. A StorePage error is logged and swallowed; that page is then not
// archived.
func (o *Orchestrator) archivalEvictHandler() OnEvict {
	return OnEvictFunc(func(page Page) {
		embedFn := o.embedFunc(embedding.PromptPassage)
		if _, err := o.Archival.StorePage(embedFn, page); err != nil {
			o.ctx.With("orchestrator").Log.Error().Err(err).Str("page_id", page.ID).Msg("failed to archive evicted page")
		}
	})
}

func (o *Orchestrator) embedFunc(kind embedding.PromptKind) func(text string) ([]float32, error) {
	return func(text string) ([]float32, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return o.embed.Embed(ctx, text, kind)
	}
}

// EndConversation synthesises a brief topic summary from the conversation
// (top stop-word-filtered tokens of length >= 4 appearing >= 2 times, per
// spec §4.7), stores the full conversation as an Active Memory page AND
// as an archived item whose metadata links back to the page id, then
// clears Working Memory.
func (o *Orchestrator) EndConversation() (string, error) {
	msgs := o.Working.GetMessages()
	if len(msgs) == 0 {
		return "", nil
	}
	content := ConversationContent(msgs, o.nowFunc())
	pageID := o.Active.AddPage(content, PageKindConversationComplete, o.archivalEvictHandler())

	topic := topicSummary(content.SerializedText())
	embedFn := o.embedFunc(embedding.PromptPassage)
	if _, err := o.Archival.Store(embedFn, content.SerializedText(), map[string]any{
		"page_id": pageID,
		"type":    "conversation",
		"topic":   topic,
	}); err != nil {
		o.Working.Clear()
		return pageID, err
	}

	o.Working.Clear()
	return pageID, nil
}

var endConversationStopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"your": true, "about": true, "would": true, "could": true, "should": true,
	"there": true, "their": true, "which": true, "what": true,
	"when": true, "where": true, "were": true, "been": true, "being": true,
	"they": true, "them": true, "then": true, "than": true, "will": true,
	"into": true, "over": true, "some": true, "just": true, "like": true,
}

// topicSummary picks the top stop-word-filtered tokens of length >= 4
// that appear at least twice, per spec §4.7: at most five, most frequent
// first, ties in order of first appearance.
func topicSummary(text string) string {
	counts := make(map[string]int)
	var order []string
	for _, tok := range splitWords(text) {
		lower := normalizeForSearch(tok)
		if len(lower) < 4 || endConversationStopWords[lower] {
			continue
		}
		if counts[lower] == 0 {
			order = append(order, lower)
		}
		counts[lower]++
	}
	var topics []string
	for _, w := range order {
		if counts[w] >= 2 {
			topics = append(topics, w)
		}
	}
	sort.SliceStable(topics, func(i, j int) bool { return counts[topics[i]] > counts[topics[j]] })
	if len(topics) > 5 {
		topics = topics[:5]
	}
	out := ""
	for i, t := range topics {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

// GetContextForQuery runs the four-tier parallel retrieval described in
// spec §4.7: Working Memory's messages and Active Memory's pages (each
// embedded and kept above WorkingActiveMatchThreshold), Archival Memory's
// cosine search, and the Knowledge Base's cosine search all run
// concurrently, then results are merged, sorted by score descending with
// the deterministic source-priority tie-break, and limited. Results are
// not deduplicated across tiers.
func (o *Orchestrator) GetContextForQuery(ctx context.Context, query string, limit int) ([]ScoredResult, error) {
	queryVec, err := o.embed.Embed(ctx, query, embedding.PromptQuery)
	if err != nil {
		return nil, err
	}

	var (
		workingResults  []ScoredResult
		activeResults   []ScoredResult
		archivalResults []ScoredResult
		knowledgeResults []ScoredResult
	)

	g, _ := errgroup.WithContext(ctx)

	if o.multiModelEnabled && o.MultiModel != nil {
		g.Go(func() error {
			r, err := o.searchMultiModel(ctx, query)
			if err == nil && len(r) > 0 {
				workingResults = r
				return nil
			}
			if err != nil {
				o.ctx.With("orchestrator").Log.Warn().Err(err).Msg("multi-model search degraded, falling back to single-model working/active search")
			}
			wr, werr := o.searchWorking(ctx, queryVec)
			if werr == nil {
				workingResults = wr
			}
			ar, aerr := o.searchActive(ctx, queryVec)
			if aerr == nil {
				activeResults = ar
			}
			return nil
		})
	} else {
		g.Go(func() error {
			r, err := o.searchWorking(ctx, queryVec)
			if err != nil {
				// Degrade to no working-memory results rather than failing the
				// whole call, per spec §4.7 "degrade ... without that tier".
				o.ctx.With("orchestrator").Log.Warn().Err(err).Msg("working memory search degraded")
				return nil
			}
			workingResults = r
			return nil
		})
		g.Go(func() error {
			r, err := o.searchActive(ctx, queryVec)
			if err != nil {
				o.ctx.With("orchestrator").Log.Warn().Err(err).Msg("active memory search degraded")
				return nil
			}
			activeResults = r
			return nil
		})
	}
	g.Go(func() error {
		archivalResults = o.Archival.Search(queryVec, limit)
		return nil
	})
	g.Go(func() error {
		if o.Knowledge != nil {
			knowledgeResults = o.Knowledge.Query(queryVec, limit, "")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]ScoredResult, 0, len(workingResults)+len(activeResults)+len(archivalResults)+len(knowledgeResults))
	merged = append(merged, workingResults...)
	merged = append(merged, activeResults...)
	merged = append(merged, archivalResults...)
	merged = append(merged, knowledgeResults...)

	sortMergedDeterministic(merged)

	if err := o.promoteHighScoringArchival(archivalResults); err != nil {
		o.ctx.With("orchestrator").Log.Warn().Err(err).Msg("archival promotion failed")
	}

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// searchWorking embeds each current Working Memory message and keeps
// those scoring above WorkingActiveMatchThreshold (0.3 by default), per
// spec §4.7 sub-search (1).
func (o *Orchestrator) searchWorking(ctx context.Context, queryVec []float32) ([]ScoredResult, error) {
	msgs := o.Working.GetMessages()
	var out []ScoredResult
	for _, m := range msgs {
		vec, err := o.embed.Embed(ctx, m.Content, embedding.PromptPassage)
		if err != nil {
			return nil, err
		}
		score := embedding.Similarity(queryVec, vec)
		if score > o.cfg.WorkingActiveMatchThreshold {
			out = append(out, ScoredResult{ID: m.ID, Text: m.Content, Score: score, Source: "working"})
		}
	}
	return out, nil
}

// searchActive embeds each Active Memory page's JSON-serialised content
// and keeps those scoring above WorkingActiveMatchThreshold, marking each
// matched page as accessed, per spec §4.7 sub-search (2).
func (o *Orchestrator) searchActive(ctx context.Context, queryVec []float32) ([]ScoredResult, error) {
	pages := o.Active.All()
	var out []ScoredResult
	for _, p := range pages {
		text := p.Content.SerializedText()
		vec, err := o.embed.Embed(ctx, text, embedding.PromptPassage)
		if err != nil {
			return nil, err
		}
		score := embedding.Similarity(queryVec, vec)
		if score > o.cfg.WorkingActiveMatchThreshold {
			o.Active.Touch(p.ID)
			out = append(out, ScoredResult{ID: p.ID, Text: text, Score: score, Source: "active"})
		}
	}
	return out, nil
}

// searchMultiModel replaces sub-searches (1) and (2) (working/active) with
// a search across the multi-model store's priority-ordered model_keys, per
// spec §4.7 "Multi-model mode". This module runs one live embedding backend
// at a time (config.EmbeddingConfig names a single model), so the
// priority-ordered list degrades to: use the active backend's model_key if
// it appears in MultiModelPriorityKeys, embed the query once under it, and
// let MultiModelStore.Search pick each entry's best available model_key
// against that single query vector (content-dedup falls out for free since
// each entry appears once in the store). A multi-process deployment running
// several embedding backends could widen queryVecsByModel to more than one
// key without changing this call's shape.
func (o *Orchestrator) searchMultiModel(ctx context.Context, query string) ([]ScoredResult, error) {
	info := o.embed.ModelInfo()
	activeKey := ModelKey(info.ModelName, info.Dim)

	matched := false
	for _, k := range o.cfg.MultiModelPriorityKeys {
		if k == activeKey {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil
	}

	queryVec, err := o.embed.Embed(ctx, query, embedding.PromptQuery)
	if err != nil {
		return nil, err
	}
	results := o.MultiModel.Search(map[string][]float32{activeKey: queryVec}, 0)
	for i := range results {
		results[i].Source = "multi_model"
	}
	return results, nil
}

// promoteHighScoringArchival promotes archival hits scoring above the
// effective retrieval-loop trigger (PromotionRetrievalThreshold, default
// 0.8) back into Active Memory as Promoted pages, synchronously, as part
// of get_context_for_query — mirroring the Python source's
// _get_context_parallel/_promote_archival_to_active pair (see SPEC_FULL.md
// §4). ArchivalPromotionThreshold (default 0.6) is re-checked inside this
// function as the secondary guard the original keeps independently of the
// retrieval-loop trigger. A hit whose metadata page_id names a page still
// in Active Memory touches that page instead of adding a new one, and a
// hit that was already promoted is skipped.
func (o *Orchestrator) promoteHighScoringArchival(archivalResults []ScoredResult) error {
	for _, r := range archivalResults {
		if r.Score <= o.cfg.PromotionRetrievalThreshold {
			continue
		}
		if r.Score < o.cfg.ArchivalPromotionThreshold {
			continue
		}
		if pageID, ok := r.Metadata["page_id"].(string); ok && pageID != "" {
			if _, exists := o.Active.GetPage(pageID); exists {
				continue
			}
		}
		if _, exists := o.Active.FindByPageID(r.ID); exists {
			continue
		}
		content := PromotedContent(r.ID, r.Text)
		o.Active.AddPage(content, PageKindPromoted, o.archivalEvictHandler())
	}
	return nil
}

// sortMergedDeterministic sorts by score descending, then by source
// priority (working > active > archival > knowledge) to break ties
// deterministically, per spec §4.7/DESIGN NOTES §9.
func sortMergedDeterministic(results []ScoredResult) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && less(results[j-1], results[j]) {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}

func less(a, b ScoredResult) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return sourcePriority(a.Source) < sourcePriority(b.Source)
}

// SavedState is the persisted shape returned by SaveState / consumed by
// LoadState. ModelInfo records the embedding model that was active when the
// snapshot was taken, per spec §4.7 "save_state/load_state".
type SavedState struct {
	WorkingMessages []Message           `json:"working_messages"`
	ActivePages     []Page              `json:"active_pages"`
	ModelInfo       embedding.ModelInfo `json:"model_info"`
	SavedAt         time.Time           `json:"saved_at"`
}

// SaveState snapshots Working and Active Memory for external persistence
// (the tool registry's save/load tools), without touching Archival Memory
// or the Knowledge Base, both of which already persist themselves.
func (o *Orchestrator) SaveState() SavedState {
	return SavedState{
		WorkingMessages: o.Working.GetMessages(),
		ActivePages:     o.Active.All(),
		ModelInfo:       o.embed.ModelInfo(),
		SavedAt:         o.nowFunc(),
	}
}

// SaveStateToFile writes SaveState's snapshot to path as indented JSON,
// atomically, per spec §4.7's "save_state(path)" operation.
func (o *Orchestrator) SaveStateToFile(path string) error {
	return atomicfile.WriteJSON(path, o.SaveState(), atomicfile.SecretPerm)
}

// LoadStateFromFile reads a snapshot previously written by SaveStateToFile
// and restores it, per spec §4.7's "load_state(path)" operation. A snapshot
// whose recorded embedding model descriptor differs from the live service's
// is still loaded — only a mismatch warning is logged — matching the
// original implementation's "logs a mismatch warning but still loads"
// behaviour (SPEC_FULL.md §4).
func (o *Orchestrator) LoadStateFromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load_state: %w", err)
	}
	var state SavedState
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("load_state: %w", err)
	}

	live := o.embed.ModelInfo()
	if state.ModelInfo.ModelName != "" && (state.ModelInfo.ModelName != live.ModelName || state.ModelInfo.Dim != live.Dim) {
		o.ctx.With("orchestrator").Log.Warn().
			Str("saved_model", state.ModelInfo.ModelName).
			Int("saved_dim", state.ModelInfo.Dim).
			Str("live_model", live.ModelName).
			Int("live_dim", live.Dim).
			Msg("load_state: embedding model descriptor mismatch, loading anyway")
	}

	o.LoadState(state)
	return nil
}

// LoadState restores Working and Active Memory from a previously saved
// snapshot, replacing their current contents.
func (o *Orchestrator) LoadState(state SavedState) {
	o.Working.Clear()
	for _, m := range state.WorkingMessages {
		o.Working.Add(m.Role, m.Content)
	}
	for _, p := range o.Active.All() {
		o.Active.RemoveByID(p.ID)
	}
	for _, p := range state.ActivePages {
		o.Active.AddPage(p.Content, p.Kind, o.archivalEvictHandler())
	}
}

// Stats is the introspection surface supplemented per SPEC_FULL.md §4,
// grounded on the teacher's debugMemoryHandler.
type Stats struct {
	WorkingMessageCount int            `json:"working_message_count"`
	WorkingTokenCount   int            `json:"working_token_count"`
	ActivePageCount     int            `json:"active_page_count"`
	ArchivalItemCount   int            `json:"archival_item_count"`
	ArchivalAccesses    int            `json:"archival_total_accesses"`
	KnowledgeDocCount   int            `json:"knowledge_document_count"`
	KnowledgeChunkCount int            `json:"knowledge_chunk_count"`
	MultiModelEntries   int            `json:"multi_model_entry_count"`
	MultiModelPerModel  map[string]int `json:"multi_model_per_model,omitempty"`
	MultiModelEnabled   bool           `json:"multi_model_enabled"`
}

// Stats reports current sizes across every tier.
func (o *Orchestrator) Stats() Stats {
	archivalCount, archivalAccesses := o.Archival.Stats()
	s := Stats{
		WorkingMessageCount: o.Working.Len(),
		WorkingTokenCount:   o.Working.TokenCount(),
		ActivePageCount:     o.Active.Len(),
		ArchivalItemCount:   archivalCount,
		ArchivalAccesses:    archivalAccesses,
		MultiModelEnabled:   o.multiModelEnabled,
	}
	if o.Knowledge != nil {
		s.KnowledgeDocCount, s.KnowledgeChunkCount = o.Knowledge.Stats()
	}
	if o.MultiModel != nil {
		s.MultiModelEntries, s.MultiModelPerModel = o.MultiModel.Stats()
	}
	return s
}

// SetMultiModelEnabled toggles multi-model storage on or off (toggle_multi_model tool).
func (o *Orchestrator) SetMultiModelEnabled(enabled bool) {
	o.multiModelEnabled = enabled
}

// MultiModelEnabled reports whether multi-model storage is currently on.
func (o *Orchestrator) MultiModelEnabled() bool {
	return o.multiModelEnabled
}

// EmbedPassage exposes the orchestrator's embedding service for callers
// (the tool registry's add_documents handler) that need to embed content
// outside of a tier operation, e.g. before calling KnowledgeBase.AddDocument.
func (o *Orchestrator) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return o.embed.Embed(ctx, text, embedding.PromptPassage)
}
