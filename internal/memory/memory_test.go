package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestWorkingMemory_DropsOldestWhenOverCap(t *testing.T) {
	w := NewWorkingMemory(10, fixedNow())
	for i := 0; i < 5; i++ {
		w.Add(RoleUser, "one two three")
	}
	require.True(t, w.TokenCount() <= 10 || w.Len() < 5, "expected eviction to have trimmed messages")
}

func TestWorkingMemory_AcceptsTriggeringInsertionFirst(t *testing.T) {
	w := NewWorkingMemory(5, fixedNow())
	msg := w.Add(RoleUser, "one two three four five six seven")
	require.NotEmpty(t, msg.ID)
	require.GreaterOrEqual(t, w.Len(), 1)
}

func TestActiveMemory_EvictsLeastRecentlyAccessed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	a := NewActiveMemory(2, func() time.Time { return clock })

	var evicted []Page
	onEvict := OnEvictFunc(func(p Page) { evicted = append(evicted, p) })

	idA := a.AddPage(TextContent("first"), PageKindConversation, onEvict)
	clock = clock.Add(time.Minute)
	a.AddPage(TextContent("second"), PageKindConversation, onEvict)

	clock = clock.Add(time.Minute)
	a.Touch(idA) // idA is now most-recently accessed

	clock = clock.Add(time.Minute)
	a.AddPage(TextContent("third"), PageKindConversation, onEvict)

	require.Len(t, evicted, 1)
	require.Equal(t, "second", evicted[0].Content.Body)
}

func TestActiveMemory_FindByPageIDDedupesPromotion(t *testing.T) {
	a := NewActiveMemory(10, fixedNow())
	a.AddPage(PromotedContent("archival-1", "text"), PageKindPromoted, nil)
	p, ok := a.FindByPageID("archival-1")
	require.True(t, ok)
	require.Equal(t, PageContentPromoted, p.Content.Type)
}

func TestChunkText_FitsAsSingleChunk(t *testing.T) {
	chunks := ChunkText("short text", 1000, 100)
	require.Equal(t, []string{"short text"}, chunks)
}

func TestChunkText_SplitsOnParagraphBoundaries(t *testing.T) {
	text := ""
	for i := 0; i < 20; i++ {
		text += "This is paragraph number filler content here to pad it out.\n\n"
	}
	chunks := ChunkText(text, 200, 20)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), 400) // generous bound; overlap carries forward
	}
}

func TestDeterministicCodeID_StableAcrossCalls(t *testing.T) {
	gc := &GitContext{RepoURL: "https://example.com/repo.git", FilePath: "main.go", CommitHash: "abc123"}
	id1 := deterministicCodeID(gc)
	id2 := deterministicCodeID(gc)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 16)
}

func TestSourcePriority_OrdersWorkingAboveKnowledge(t *testing.T) {
	require.Greater(t, sourcePriority("working"), sourcePriority("active"))
	require.Greater(t, sourcePriority("active"), sourcePriority("archival"))
	require.Greater(t, sourcePriority("archival"), sourcePriority("knowledge"))
}
