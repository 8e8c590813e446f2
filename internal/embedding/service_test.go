package embedding

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/logctx"
)

func testContext(t *testing.T) *logctx.Context {
	t.Helper()
	return logctx.New(zerolog.Nop(), t.TempDir())
}

func TestEmbed_RandomBackendIsDeterministic(t *testing.T) {
	cfg := config.Defaults().Embedding
	cfg.Backend = config.BackendRandom
	cfg.Dim = 32
	svc, err := New(testContext(t), cfg)
	require.NoError(t, err)

	v1, err := svc.Embed(context.Background(), "hello world", PromptQuery)
	require.NoError(t, err)
	v2, err := svc.Embed(context.Background(), "hello world", PromptQuery)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestSimilarity_CosineIdentityAndOpposite(t *testing.T) {
	v := []float32{1, 2, 3, -1}
	require.InDelta(t, 1.0, Cosine(v, v), 1e-6)

	neg := make([]float32, len(v))
	for i, x := range v {
		neg[i] = -x
	}
	require.InDelta(t, -1.0, Cosine(v, neg), 1e-6)
}

func TestEmbedBatch_CachesByContentHash(t *testing.T) {
	cfg := config.Defaults().Embedding
	cfg.Backend = config.BackendRandom
	cfg.Dim = 16
	svc, err := New(testContext(t), cfg)
	require.NoError(t, err)

	first, err := svc.EmbedBatch(context.Background(), []string{"a", "b"}, PromptPassage)
	require.NoError(t, err)
	require.Equal(t, 2, svc.cache.size())

	second, err := svc.EmbedBatch(context.Background(), []string{"a"}, PromptPassage)
	require.NoError(t, err)
	require.Equal(t, first[0], second[0])
	require.Equal(t, 2, svc.cache.size())
}

func TestEmbedBatch_FallsBackToRandomOnBackendFailure(t *testing.T) {
	cfg := config.Defaults().Embedding
	cfg.Backend = config.BackendLocalHTTP
	cfg.LocalURL = "http://127.0.0.1:0" // guaranteed unreachable
	cfg.Dim = 8
	svc, err := New(testContext(t), cfg)
	require.NoError(t, err)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"x"}, PromptQuery)
	require.NoError(t, err)
	require.Len(t, vecs[0], 8)
}

func TestModelInfo_ReportsActiveBackend(t *testing.T) {
	cfg := config.Defaults().Embedding
	cfg.Backend = config.BackendRandom
	cfg.ModelName = "fallback-random"
	svc, err := New(testContext(t), cfg)
	require.NoError(t, err)

	info := svc.ModelInfo()
	require.Equal(t, config.BackendRandom, info.Backend)
	require.Equal(t, "fallback-random", info.ModelName)
}
