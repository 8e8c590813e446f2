package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func unitVec(x, y float32) []float32 { return []float32{x, y} }

func TestArchivalMemory_SearchRanksByCosineSimilarity(t *testing.T) {
	a := NewArchivalMemory(t.TempDir(), "test", 10, fixedNow())
	a.store("alpha", nil, unitVec(1, 0))
	a.store("beta", nil, unitVec(0, 1))

	results := a.Search(unitVec(1, 0), 10)
	require.Len(t, results, 2)
	require.Equal(t, "alpha", results[0].Text)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestArchivalMemory_SearchBumpsAccessBookkeeping(t *testing.T) {
	a := NewArchivalMemory(t.TempDir(), "test", 10, fixedNow())
	a.store("alpha", nil, unitVec(1, 0))
	a.Search(unitVec(1, 0), 10)

	_, total := a.Stats()
	require.Equal(t, 1, total)
}

func TestArchivalMemory_PersistAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	a := NewArchivalMemory(dir, "test", 10, fixedNow())
	a.store("alpha", map[string]any{"k": "v"}, unitVec(1, 0))
	require.NoError(t, a.Persist())

	b := NewArchivalMemory(dir, "test", 10, fixedNow())
	require.NoError(t, b.Load())
	itemCount, totalAccesses := b.Stats()
	require.Equal(t, 1, itemCount)
	require.Equal(t, 0, totalAccesses)
	results := b.Search(unitVec(1, 0), 10)
	require.Len(t, results, 1)
	require.Equal(t, "alpha", results[0].Text)
}

func TestKnowledgeBase_DeterministicIDForCodeDocuments(t *testing.T) {
	kb := NewKnowledgeBase(t.TempDir(), 1000, 100, fixedNow())
	embedFn := func(text string) ([]float32, error) { return unitVec(1, 0), nil }
	gc := &GitContext{RepoURL: "https://example.com/repo.git", FilePath: "main.go"}

	id1, err := kb.AddDocument(embedFn, "package main", nil, SourceCode, gc)
	require.NoError(t, err)
	id2, err := kb.AddDocument(embedFn, "package main updated", nil, SourceCode, gc)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	docCount, _ := kb.Stats()
	require.Equal(t, 1, docCount)
}

func TestKnowledgeBase_QueryReturnsAtMostOneChunkPerDocument(t *testing.T) {
	kb := NewKnowledgeBase(t.TempDir(), 50, 10, fixedNow())
	embedFn := func(text string) ([]float32, error) { return unitVec(1, 0), nil }

	longText := ""
	for i := 0; i < 10; i++ {
		longText += "paragraph content padding words here to exceed the chunk size.\n\n"
	}
	_, err := kb.AddDocument(embedFn, longText, nil, SourceManual, nil)
	require.NoError(t, err)

	results := kb.Query(unitVec(1, 0), 10, "")
	ids := make(map[string]bool)
	for _, r := range results {
		require.False(t, ids[r.ID], "expected at most one chunk per document")
		ids[r.ID] = true
	}
}

func TestMultiModelStore_BackfillPreservesTextVerbatim(t *testing.T) {
	m := NewMultiModelStore(t.TempDir(), []string{"model-a:2"}, fixedNow())
	embedders := embedderSet{"model-a:2": func(text string) ([]float32, error) { return unitVec(1, 0), nil }}
	id, err := m.StoreConversation(embedders, "hello world")
	require.NoError(t, err)

	moreEmbedders := embedderSet{
		"model-a:2": embedders["model-a:2"],
		"model-b:2": func(text string) ([]float32, error) { return unitVec(0, 1), nil },
	}
	updated, err := m.Backfill(moreEmbedders)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	m.mu.Lock()
	entry := m.entries[id]
	m.mu.Unlock()
	require.Equal(t, "hello world", entry.Text)
	require.Contains(t, entry.Embeddings, "model-b:2")
}
