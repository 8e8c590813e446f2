package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/embedding"
	"github.com/intelligencedev/coremem/internal/logctx"
	"github.com/intelligencedev/coremem/internal/memory"
)

func fixedNow() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestDeps(t *testing.T) (Deps, *logctx.Context) {
	t.Helper()
	dataDir := t.TempDir()
	appCtx := logctx.New(zerolog.Nop(), dataDir)

	embedCfg := config.Defaults().Embedding
	embedCfg.Backend = config.BackendRandom
	embedCfg.Dim = 8
	embed, err := embedding.New(appCtx, embedCfg)
	require.NoError(t, err)

	cfg := config.Defaults().Orchestrator
	working := memory.NewWorkingMemory(1000, fixedNow())
	active := memory.NewActiveMemory(10, fixedNow())
	archival := memory.NewArchivalMemory(dataDir, "archival", 1, fixedNow())
	knowledge := memory.NewKnowledgeBase(dataDir, 1000, 100, fixedNow())
	multiModel := memory.NewMultiModelStore(dataDir, cfg.MultiModelPriorityKeys, fixedNow())
	orch := memory.NewOrchestrator(appCtx, cfg, embed, working, active, archival, knowledge, multiModel, fixedNow())

	return Deps{Orchestrator: orch, Now: fixedNow()}, appCtx
}

func TestDreamingTools_ErrorWhenPipelineNotConfigured(t *testing.T) {
	d, _ := newTestDeps(t)
	require.Nil(t, d.Dreaming)

	_, err := d.handleDreamConversation(context.Background(), json.RawMessage(`{"conversation_id":"c1","conversation_text":"hi"}`))
	require.Error(t, err)

	_, err = d.handleGetDreamingStatus(context.Background(), json.RawMessage(`{"conversation_id":"c1"}`))
	require.Error(t, err)

	_, err = d.handleListDreamArchives(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestBuildRegistry_DreamToolsArePlaceholdersWithoutDreamingPipeline(t *testing.T) {
	d, _ := newTestDeps(t)
	r := BuildRegistry(d)

	require.True(t, r.Has("dream_conversation"))
	require.True(t, r.Has("get_dreaming_status"))
	require.True(t, r.Has("list_dream_archives"))
	require.True(t, r.Has("upgrade_dreaming_quality"))

	for _, desc := range r.List() {
		require.NotEqual(t, "dream_conversation", desc.Name)
		require.NotEqual(t, "get_dreaming_status", desc.Name)
		require.NotEqual(t, "list_dream_archives", desc.Name)
		require.NotEqual(t, "upgrade_dreaming_quality", desc.Name)
	}
}

func TestHandleUpgradeDreamingQuality_ErrorsWhenPipelineNotConfigured(t *testing.T) {
	d, _ := newTestDeps(t)
	require.Nil(t, d.Dreaming)

	_, err := d.handleUpgradeDreamingQuality(context.Background(), json.RawMessage(`{"conversation_id":"c1","target_quality":"premium"}`))
	require.Error(t, err)
}

func TestHandleWebSearch_DegradesWithStructuredPayloadWhenNotConfigured(t *testing.T) {
	d, _ := newTestDeps(t)

	result, err := d.handleWebSearch(context.Background(), json.RawMessage(`{"query":"weather tomorrow"}`))
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "weather tomorrow", payload["query"])
	require.Equal(t, 0, payload["total_results"])
	require.Equal(t, []WebSearchResult{}, payload["results"])
	require.NotEmpty(t, payload["error"])
}

func TestHandleWebSearch_ErrorsOnMalformedArgsAndMissingQuery(t *testing.T) {
	d, _ := newTestDeps(t)

	_, err := d.handleWebSearch(context.Background(), json.RawMessage(`not json`))
	require.Error(t, err)

	_, err = d.handleWebSearch(context.Background(), json.RawMessage(`{"query":""}`))
	require.Error(t, err)
}

func TestBuildRegistry_SaveAndLoadStateToolsRoundTrip(t *testing.T) {
	d, _ := newTestDeps(t)
	r := BuildRegistry(d)

	_, err := d.Orchestrator.AddUser(context.Background(), "remember this")
	require.NoError(t, err)

	dir := t.TempDir()
	path := dir + "/state.json"

	_, err = r.Execute(context.Background(), "save_state", json.RawMessage(`{"path":"`+path+`"}`))
	require.NoError(t, err)

	d.Orchestrator.Working.Clear()
	require.Equal(t, 0, d.Orchestrator.Working.Len())

	_, err = r.Execute(context.Background(), "load_state", json.RawMessage(`{"path":"`+path+`"}`))
	require.NoError(t, err)
	require.Equal(t, 1, d.Orchestrator.Working.Len())
}

func TestRegistry_ListWithTemplatesIncludesTemplateForMemoryContext(t *testing.T) {
	d, _ := newTestDeps(t)
	r := BuildRegistry(d)

	var found *DescriptorWithTemplate
	for _, desc := range r.ListWithTemplates() {
		if desc.Name == "get_memory_context" {
			descCopy := desc
			found = &descCopy
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.UserPromptTemplate)
	require.Contains(t, found.UserPromptTemplate.Template, "{query}")
}

func TestRegistry_EssentialToolsIsFixedFiveToolSubset(t *testing.T) {
	d, _ := newTestDeps(t)
	r := BuildRegistry(d)

	names := make(map[string]bool)
	for _, desc := range r.EssentialTools() {
		names[desc.Name] = true
	}
	require.Equal(t, map[string]bool{
		"get_memory_context": true,
		"add_conversation":   true,
		"add_documents":      true,
		"end_conversation":   true,
		"web_search":         true,
	}, names)
}

func TestRegistry_ExecuteLogsRedactedArgsOnFailure(t *testing.T) {
	d, _ := newTestDeps(t)
	r := BuildRegistry(d)

	var buf bytes.Buffer
	appCtx := logctx.New(zerolog.New(&buf), t.TempDir())
	r.SetLogger(appCtx)

	_, err := r.Execute(context.Background(), "get_memory_context", json.RawMessage(`{"api_key":"super-secret","query":""}`))
	require.Error(t, err)

	logged := buf.String()
	require.Contains(t, logged, "[REDACTED]")
	require.NotContains(t, logged, "super-secret")
}
