package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/embedding"
	"github.com/intelligencedev/coremem/internal/logctx"
)

func newTestOrchestrator(t *testing.T, cfg config.OrchestratorConfig) (*Orchestrator, *embedding.Service, string) {
	t.Helper()
	dataDir := t.TempDir()
	appCtx := logctx.New(zerolog.Nop(), dataDir)

	embedCfg := config.Defaults().Embedding
	embedCfg.Backend = config.BackendRandom
	embedCfg.ModelName = "bge-m3"
	embedCfg.Dim = 8
	embed, err := embedding.New(appCtx, embedCfg)
	require.NoError(t, err)

	working := NewWorkingMemory(1000, fixedNow())
	active := NewActiveMemory(10, fixedNow())
	archival := NewArchivalMemory(dataDir, "archival", 1, fixedNow())
	knowledge := NewKnowledgeBase(dataDir, 1000, 100, fixedNow())
	multiModel := NewMultiModelStore(dataDir, cfg.MultiModelPriorityKeys, fixedNow())

	o := NewOrchestrator(appCtx, cfg, embed, working, active, archival, knowledge, multiModel, fixedNow())
	return o, embed, dataDir
}

func TestSearchMultiModel_SkipsWhenActiveModelIsNotAPriorityKey(t *testing.T) {
	cfg := config.Defaults().Orchestrator
	cfg.MultiModelEnabled = true
	cfg.MultiModelPriorityKeys = []string{"gemma:768"} // active backend is bge-m3:8
	o, _, _ := newTestOrchestrator(t, cfg)

	results, err := o.searchMultiModel(context.Background(), "hello")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchMultiModel_FindsEntryUnderMatchingPriorityKey(t *testing.T) {
	cfg := config.Defaults().Orchestrator
	cfg.MultiModelEnabled = true
	cfg.MultiModelPriorityKeys = []string{"bge-m3:8"}
	o, embed, _ := newTestOrchestrator(t, cfg)

	key := ModelKey(embed.ModelInfo().ModelName, embed.ModelInfo().Dim)
	vec, err := embed.Embed(context.Background(), "the scheduler uses priority queues", embedding.PromptPassage)
	require.NoError(t, err)
	_, err = o.MultiModel.StoreConversation(embedderSet{key: func(string) ([]float32, error) { return vec, nil }}, "the scheduler uses priority queues")
	require.NoError(t, err)

	results, err := o.searchMultiModel(context.Background(), "the scheduler uses priority queues")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "multi_model", results[0].Source)
}

func TestGetContextForQuery_UsesMultiModelBranchWhenEnabled(t *testing.T) {
	cfg := config.Defaults().Orchestrator
	cfg.MultiModelEnabled = true
	cfg.MultiModelPriorityKeys = []string{"bge-m3:8"}
	o, embed, _ := newTestOrchestrator(t, cfg)

	key := ModelKey(embed.ModelInfo().ModelName, embed.ModelInfo().Dim)
	vec, err := embed.Embed(context.Background(), "multi model content", embedding.PromptPassage)
	require.NoError(t, err)
	_, err = o.MultiModel.StoreConversation(embedderSet{key: func(string) ([]float32, error) { return vec, nil }}, "multi model content")
	require.NoError(t, err)

	// Working/Active Memory are empty, so any "multi_model"-sourced results in
	// the merge must have come from the multi-model branch.
	results, err := o.GetContextForQuery(context.Background(), "multi model content", 10)
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Source == "multi_model" {
			found = true
		}
	}
	require.True(t, found, "expected a multi_model-sourced result in %+v", results)
}

func TestSaveStateToFile_LoadStateFromFile_RoundTrips(t *testing.T) {
	cfg := config.Defaults().Orchestrator
	o, _, dataDir := newTestOrchestrator(t, cfg)

	_, err := o.AddUser(context.Background(), "hello there")
	require.NoError(t, err)

	path := filepath.Join(dataDir, "state.json")
	require.NoError(t, o.SaveStateToFile(path))

	o.Working.Clear()
	require.Equal(t, 0, o.Working.Len())

	require.NoError(t, o.LoadStateFromFile(path))
	require.Equal(t, 1, o.Working.Len())
	require.Equal(t, "hello there", o.Working.GetMessages()[0].Content)
}

func TestLoadStateFromFile_LogsButLoadsOnModelMismatch(t *testing.T) {
	cfg := config.Defaults().Orchestrator
	o, _, dataDir := newTestOrchestrator(t, cfg)

	state := SavedState{
		WorkingMessages: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
		ModelInfo:       embedding.ModelInfo{ModelName: "some-other-model", Dim: 999},
		SavedAt:         fixedNow()(),
	}
	path := filepath.Join(dataDir, "state.json")
	require.NoError(t, atomicfile.WriteJSON(path, state, atomicfile.SecretPerm))

	require.NoError(t, o.LoadStateFromFile(path))
	require.Equal(t, 1, o.Working.Len())
}
