package dreaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSynthesizeChunks_ParsesWellFormedResponse(t *testing.T) {
	llm := &fakeLLM{response: `{"clusters":[{"type":"TOPIC","title":"Greeting","summary":"a greeting exchange","chunk_ids":["b_conv1_0"],"entities":["hello"]}]}`}
	s := NewSynthesizer(llm, "good", fixedCtx())

	chunks := []BChunk{{ID: "b_conv1_0", Content: "hello"}}
	clusters, err := s.SynthesizeChunks(context.Background(), chunks, "conv1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, ClusterTopic, clusters[0].Type)
	require.Equal(t, "Greeting", clusters[0].Theme)
}

func TestSynthesizeChunks_ReturnsEmptyForNoChunks(t *testing.T) {
	llm := &fakeLLM{}
	s := NewSynthesizer(llm, "basic", fixedCtx())

	clusters, err := s.SynthesizeChunks(context.Background(), nil, "conv1")
	require.NoError(t, err)
	require.Empty(t, clusters)
	require.Equal(t, 0, llm.calls)
}

func TestSynthesizeChunks_RecoversJSONEmbeddedInProse(t *testing.T) {
	llm := &fakeLLM{response: "Sure thing! Here you go:\n" +
		`{"clusters":[{"type":"SUMMARY","title":"Overview","summary":"s","chunk_ids":[]}]}` +
		"\nHope that helps."}
	s := NewSynthesizer(llm, "basic", fixedCtx())

	clusters, err := s.SynthesizeChunks(context.Background(), []BChunk{{ID: "b_0"}}, "conv1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, ClusterSummary, clusters[0].Type)
}

func TestSynthesizeChunks_ErrorsWithNoFallbackWhenUnrecoverable(t *testing.T) {
	llm := &fakeLLM{response: "garbage garbage garbage"}
	s := NewSynthesizer(llm, "basic", fixedCtx())

	_, err := s.SynthesizeChunks(context.Background(), []BChunk{{ID: "b_0"}}, "conv1")
	require.Error(t, err)
}
