package dreaming

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, llm *fakeLLM) *Pipeline {
	t.Helper()
	chunker := NewChunker(llm, "good", fixedCtx())
	synthesizer := NewSynthesizer(llm, "good", fixedCtx())
	p, err := NewPipeline(chunker, synthesizer, t.TempDir(), "good", nil, fixedCtx())
	require.NoError(t, err)
	return p
}

func chunkingAndClusterResponse() string {
	return `{"chunks":[{"content":"hi","language":"en","labels":[],"speaker":"user","entities":["Acme"]}],"clusters":[{"type":"TOPIC","title":"Intro","summary":"intro chat","chunk_ids":["b_conv1_0"]}]}`
}

// fakeLLM always returns the same payload regardless of prompt, so we give
// it a response shaped to satisfy both the chunking and synthesis parsers
// (each only reads the keys it cares about).
func TestProcessConversation_CreatesFirstArchiveVersion(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)

	result := p.ProcessConversation(context.Background(), "conv1", "hi there", nil)
	require.Equal(t, "success", result.Status)
	require.Equal(t, 1, result.ArchiveVersion)
	require.Nil(t, result.PreviousVersion)

	archive, err := p.GetArchive("conv1", nil)
	require.NoError(t, err)
	require.NotNil(t, archive)
	require.Equal(t, 1, archive.Version)
	require.Contains(t, archive.Entities, "Acme")
}

func TestProcessConversation_SecondRunDemotesFirstVersion(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)

	first := p.ProcessConversation(context.Background(), "conv1", "hi there", nil)
	require.Equal(t, 1, first.ArchiveVersion)

	second := p.ProcessConversation(context.Background(), "conv1", "hi again", nil)
	require.Equal(t, "success", second.Status)
	require.Equal(t, 2, second.ArchiveVersion)
	require.NotNil(t, second.PreviousVersion)
	require.Equal(t, 1, *second.PreviousVersion)

	manifest, ok := p.GetManifest("conv1")
	require.True(t, ok)
	require.Equal(t, 2, manifest.LatestVersion)
	require.False(t, manifest.Versions["1"].IsLatest)
	require.Equal(t, "superseded", manifest.Versions["1"].Status)
	require.Equal(t, "cold", manifest.Versions["1"].StorageLocation)
	require.True(t, manifest.Versions["2"].IsLatest)
	require.Equal(t, "hot", manifest.Versions["2"].StorageLocation)
}

func TestGetManifest_SynthesizesFromArchivesWithoutPersisting(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)
	p.ProcessConversation(context.Background(), "conv1", "hi there", nil)

	// Remove the manifest the pipeline itself wrote, to simulate a fresh
	// checkout that only has archive files.
	require.NoError(t, os.Remove(p.manifestPath("conv1")))

	manifest, ok := p.GetManifest("conv1")
	require.True(t, ok)
	require.Equal(t, 1, manifest.LatestVersion)

	// GetManifest must not have written manifest.json back to disk.
	_, existsAfter := p.loadManifest("conv1")
	require.False(t, existsAfter)
}

func TestProcessConversation_ChunkingFailureLeavesNoArchive(t *testing.T) {
	llm := &fakeLLM{response: "not even remotely json, and never will be"}
	p := newTestPipeline(t, llm)

	result := p.ProcessConversation(context.Background(), "conv1", "hi there", nil)
	require.Equal(t, "failed", result.Status)
	require.NotEmpty(t, result.Error)

	archive, err := p.GetArchive("conv1", nil)
	require.NoError(t, err)
	require.Nil(t, archive)
}

func TestUpgradeQuality_RereadsOriginalTextAndMintsNewVersion(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)

	first := p.ProcessConversation(context.Background(), "conv1", "hi there", nil)
	require.Equal(t, "success", first.Status)
	require.Equal(t, 1, first.ArchiveVersion)

	result, err := p.UpgradeQuality(context.Background(), "conv1", "premium")
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	require.Equal(t, 2, result.ArchiveVersion)

	archive, err := p.GetArchive("conv1", nil)
	require.NoError(t, err)
	require.NotNil(t, archive)
	require.Equal(t, "premium", archive.QualityLevel)
	require.Equal(t, "hi there", archive.Metadata["original_text"])
}

func TestUpgradeQuality_ErrorsWhenNoArchiveExists(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)

	_, err := p.UpgradeQuality(context.Background(), "conv1", "premium")
	require.Error(t, err)
}

func TestUpgradeQuality_ErrorsWhenOriginalTextMissingFromMetadata(t *testing.T) {
	llm := &fakeLLM{response: chunkingAndClusterResponse()}
	p := newTestPipeline(t, llm)

	first := p.ProcessConversation(context.Background(), "conv1", "hi there", nil)
	require.Equal(t, "success", first.Status)

	archive, err := p.GetArchive("conv1", nil)
	require.NoError(t, err)
	delete(archive.Metadata, "original_text")
	require.NoError(t, p.saveArchive(*archive))

	_, err = p.UpgradeQuality(context.Background(), "conv1", "premium")
	require.Error(t, err)
}
