// Package embedding implements C1, the embedding service: text in, a
// fixed-dimension unit vector out, through one of four interchangeable
// back-ends, with a content-addressable on-disk cache.
//
// Grounded on the teacher's internal/embedding/client.go (the remote-api
// openai request/response shape: {model,input} -> data[i].embedding) and
// internal/llm/embeddings.go (the alternate texts/model -> embeddings[i]
// shape used by the google/genai provider). Failure handling follows spec
// §4.1: any backend error is logged and the call transparently falls back
// to the random backend rather than propagating, because retrieval must
// always return some ranking.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/logctx"
)

// PromptKind selects the passage/query prefixing convention some
// in-process sentence-transformer models expect.
type PromptKind string

const (
	PromptPassage PromptKind = "passage"
	PromptQuery   PromptKind = "query"
)

// ModelInfo describes the embedding service's current configuration, per
// the model_info() contract in spec §4.1.
type ModelInfo struct {
	Backend   config.EmbeddingBackend `json:"backend"`
	ModelName string                  `json:"model_name"`
	Dim       int                     `json:"dim"`
	Device    string                  `json:"device"`
	CacheSize int                     `json:"cache_size"`
}

// backend is the narrow interface every embedding back-end implements.
// The service layer owns caching, failure fallback, and model switching;
// a backend only turns text into vectors.
type backend interface {
	embedBatch(ctx context.Context, texts []string, kind PromptKind) ([][]float32, error)
}

// Service is the C1 embedding service. It is safe for concurrent use.
type Service struct {
	ctx *logctx.Context

	mu      sync.RWMutex
	cfg     config.EmbeddingConfig
	active  backend
	random  *randomBackend
	cache   *diskCache
	shared  *redisCache

	insertsSinceFlush int
}

// New constructs a Service from the loaded embedding configuration. When
// cfg.RedisEnabled is set, a shared Redis-backed L2 cache sits in front of
// the per-process disk cache; a failure to reach Redis is logged and the
// service falls back to the disk cache alone rather than failing startup.
func New(appCtx *logctx.Context, cfg config.EmbeddingConfig) (*Service, error) {
	s := &Service{
		ctx:    appCtx.With("embedding"),
		cfg:    cfg,
		random: newRandomBackend(cfg.Dim),
	}
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	s.active = b
	s.cache = newDiskCache(appCtx.DataDir, cfg.ModelName, cfg.CacheFlushEvery)
	if err := s.cache.load(); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("embedding cache load failed, starting empty")
	}
	if shared, err := newRedisCache(cfg.RedisEnabled, cfg.RedisAddr, cfg.ModelName); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("redis embedding cache unavailable, using disk cache only")
	} else {
		s.shared = shared
	}
	return s, nil
}

func newBackend(cfg config.EmbeddingConfig) (backend, error) {
	switch cfg.Backend {
	case config.BackendInProcess:
		return newInProcessBackend(cfg), nil
	case config.BackendLocalHTTP:
		return newLocalHTTPBackend(cfg), nil
	case config.BackendRemoteAPI:
		return newRemoteAPIBackend(cfg), nil
	case config.BackendRandom, "":
		return newRandomBackend(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("embedding: unknown backend %q", cfg.Backend)
	}
}

// Embed turns a single text into a vector, per spec's embed(text, prompt_kind).
func (s *Service) Embed(ctx context.Context, text string, kind PromptKind) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text}, kind)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch turns many texts into vectors in one call, consulting and
// populating the content-hash cache, and falling back to the random
// back-end (never erroring) on any active-backend failure.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, kind PromptKind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	s.mu.RLock()
	active := s.active
	cache := s.cache
	shared := s.shared
	s.mu.RUnlock()

	for i, t := range texts {
		h := contentHash(t)
		if v, ok := cache.get(h); ok {
			out[i] = v
			continue
		}
		if v, ok := shared.get(ctx, h); ok {
			out[i] = v
			cache.put(h, v)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := active.embedBatch(ctx, missTexts, kind)
	if err != nil {
		s.ctx.Log.Error().Err(err).Int("count", len(missTexts)).Msg("embedding backend failed, falling back to random")
		vecs, err = s.random.embedBatch(ctx, missTexts, kind)
		if err != nil {
			// The random backend is pure computation and cannot fail; this
			// branch exists only to satisfy the interface contract.
			return nil, err
		}
	}

	s.mu.Lock()
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		h := contentHash(missTexts[j])
		cache.put(h, vecs[j])
		shared.put(ctx, h, vecs[j])
		s.insertsSinceFlush++
	}
	flushNeeded := s.insertsSinceFlush >= cache.flushEvery
	if flushNeeded {
		s.insertsSinceFlush = 0
	}
	s.mu.Unlock()

	if flushNeeded {
		if err := cache.save(); err != nil {
			s.ctx.Log.Error().Err(err).Msg("embedding cache flush failed")
		}
	}
	return out, nil
}

// ModelInfo reports the service's current back-end and model.
func (s *Service) ModelInfo() ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelInfo{
		Backend:   s.cfg.Backend,
		ModelName: s.cfg.ModelName,
		Dim:       s.cfg.Dim,
		Device:    s.cfg.Device,
		CacheSize: s.cache.size(),
	}
}

// ChangeModel switches the active back-end/model, flushing and
// re-initialising the cache under the new model's cache filename.
func (s *Service) ChangeModel(cfg config.EmbeddingConfig) error {
	b, err := newBackend(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.save(); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("embedding cache flush before model change failed")
	}
	s.cfg = cfg
	s.active = b
	s.random = newRandomBackend(cfg.Dim)
	s.cache = newDiskCache(s.ctx.DataDir, cfg.ModelName, cfg.CacheFlushEvery)
	s.insertsSinceFlush = 0
	if err := s.cache.load(); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("embedding cache load after model change failed")
	}
	if shared, err := newRedisCache(cfg.RedisEnabled, cfg.RedisAddr, cfg.ModelName); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("redis embedding cache unavailable after model change, using disk cache only")
		s.shared = nil
	} else {
		s.shared = shared
	}
	return nil
}

// Similarity computes the cosine similarity between two vectors, in [-1, 1].
func Similarity(u, v []float32) float64 {
	return Cosine(u, v)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
