package dreaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/logctx"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func fixedCtx() *logctx.Context {
	return &logctx.Context{Clock: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestChunkConversation_ParsesWellFormedLLMResponse(t *testing.T) {
	llm := &fakeLLM{response: `{"chunks":[{"content":"hello","language":"en","labels":["greeting"],"speaker":"user","entities":[]}]}`}
	c := NewChunker(llm, "good", fixedCtx())

	chunks, err := c.ChunkConversation(context.Background(), "conv1", "hello")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "hello", chunks[0].Content)
	require.Equal(t, "user", chunks[0].Speaker)
	require.Equal(t, 0.9, chunks[0].Confidence)
}

func TestChunkConversation_ErrorsWithNoFallbackOnLLMError(t *testing.T) {
	llm := &fakeLLM{err: assertErr("boom")}
	c := NewChunker(llm, "basic", fixedCtx())

	_, err := c.ChunkConversation(context.Background(), "conv1", "para one\n\npara two")
	require.Error(t, err)
}

func TestChunkConversation_RecoversJSONEmbeddedInProse(t *testing.T) {
	llm := &fakeLLM{response: "Sure thing! Here you go:\n" +
		`{"chunks":[{"content":"hello","language":"en","labels":[],"speaker":"user","entities":[]}]}` +
		"\nHope that helps."}
	c := NewChunker(llm, "basic", fixedCtx())

	chunks, err := c.ChunkConversation(context.Background(), "conv1", "user: hi there")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "user", chunks[0].Speaker)
}

func TestChunkConversation_ErrorsWithNoFallbackWhenUnrecoverable(t *testing.T) {
	llm := &fakeLLM{response: "not json at all, and never will be"}
	c := NewChunker(llm, "basic", fixedCtx())

	_, err := c.ChunkConversation(context.Background(), "conv1", "user: hi there")
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
