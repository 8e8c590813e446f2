package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/embedding"
)

// MultiModelStore is C6: parallel per-model embeddings for the same text,
// with backfill/migration support when a new model is added or priorities
// change. Text is preserved verbatim across migration (TESTABLE PROPERTY
// per spec §8).
type MultiModelStore struct {
	mu           sync.Mutex
	entries      map[string]*MultiModelEntry
	order        []string
	path         string
	priorityKeys []string // e.g. "bge-m3:1024", ordered highest-priority first
	nowFunc      func() time.Time
}

type multiModelFile struct {
	Entries   []MultiModelEntry `json:"entries"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewMultiModelStore builds a store backed by dataDir/multimodel.json.
// priorityKeys order determines which model's embedding is preferred when
// searching (first present key wins), per spec §4.6.
func NewMultiModelStore(dataDir string, priorityKeys []string, now func() time.Time) *MultiModelStore {
	if now == nil {
		now = time.Now
	}
	return &MultiModelStore{
		entries:      make(map[string]*MultiModelEntry),
		path:         filepath.Join(dataDir, "multimodel.json"),
		priorityKeys: priorityKeys,
		nowFunc:      now,
	}
}

// ModelKey renders the "<model_name>:<dim>" key spec §4.6 uses to index
// per-model embeddings.
func ModelKey(modelName string, dim int) string {
	return fmt.Sprintf("%s:%d", modelName, dim)
}

// Load restores the store from disk; a missing file is empty, a corrupt
// file yields an empty store.
func (m *MultiModelStore) Load() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f multiModelFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*MultiModelEntry, len(f.Entries))
	m.order = nil
	for i := range f.Entries {
		e := f.Entries[i]
		m.entries[e.ID] = &e
		m.order = append(m.order, e.ID)
	}
	return nil
}

// Persist rewrites the store as a single JSON blob, atomically.
func (m *MultiModelStore) Persist() error {
	m.mu.Lock()
	entries := make([]MultiModelEntry, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			entries = append(entries, *e)
		}
	}
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(m.path, multiModelFile{
		Entries:   entries,
		UpdatedAt: m.nowFunc(),
	}, atomicfile.SecretPerm)
}

// embedderSet maps a model key to an embedding function for that model,
// used by StoreConversation/StoreDocument/Backfill to embed with whichever
// models are currently enabled.
type embedderSet map[string]func(text string) ([]float32, error)

func (m *MultiModelStore) storeText(embedders embedderSet, text string, extra map[string][]float32) (string, error) {
	vecs := make(map[string][]float32, len(embedders)+len(extra))
	for key, fn := range embedders {
		vec, err := fn(text)
		if err != nil {
			return "", err
		}
		vecs[key] = vec
	}
	for k, v := range extra {
		vecs[k] = v
	}

	models := make([]string, 0, len(vecs))
	for k := range vecs {
		models = append(models, k)
	}
	sort.Strings(models)

	id := uuid.NewString()
	now := m.nowFunc()
	entry := MultiModelEntry{
		ID:         id,
		Text:       text,
		Embeddings: vecs,
		Metadata: MultiModelMetadata{
			CreatedAt:       now,
			ModelVersions:   models,
			AvailableModels: models,
		},
	}

	m.mu.Lock()
	m.entries[id] = &entry
	m.order = append(m.order, id)
	m.mu.Unlock()

	return id, nil
}

// StoreConversation embeds text with every model in embedders and stores
// the resulting multi-model entry.
func (m *MultiModelStore) StoreConversation(embedders embedderSet, text string) (string, error) {
	return m.storeText(embedders, text, nil)
}

// StoreDocument embeds text with every model in embedders and stores the
// resulting multi-model entry, mirroring StoreConversation — kept as a
// distinct method since the orchestrator calls these from different
// operations (spec §4.6/§4.7) even though the storage shape is identical.
func (m *MultiModelStore) StoreDocument(embedders embedderSet, text string) (string, error) {
	return m.storeText(embedders, text, nil)
}

// Search picks, for each entry, the highest-priority model embedding it
// has available and scores it against queryVec embedded under that same
// model (queryVecsByModel supplies the query embedding per model key).
func (m *MultiModelStore) Search(queryVecsByModel map[string][]float32, limit int) []ScoredResult {
	m.mu.Lock()
	entries := make([]MultiModelEntry, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			entries = append(entries, *e)
		}
	}
	m.mu.Unlock()

	var results []ScoredResult
	for _, e := range entries {
		key, qvec, ok := m.pickModel(e, queryVecsByModel)
		if !ok {
			continue
		}
		score := embedding.Cosine(qvec, e.Embeddings[key])
		results = append(results, ScoredResult{
			ID:       e.ID,
			Text:     e.Text,
			Metadata: map[string]any{"model_key": key},
			Score:    score,
			Source:   "archival",
		})
	}
	sortScoredDesc(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// pickModel returns the highest-priority model key present both on the
// entry and in the supplied query vectors.
func (m *MultiModelStore) pickModel(e MultiModelEntry, queryVecsByModel map[string][]float32) (string, []float32, bool) {
	for _, key := range m.priorityKeys {
		if _, hasEntry := e.Embeddings[key]; hasEntry {
			if qv, hasQuery := queryVecsByModel[key]; hasQuery {
				return key, qv, true
			}
		}
	}
	// No priority key matched both sides; fall back to any overlapping key.
	for key, vec := range e.Embeddings {
		if qv, ok := queryVecsByModel[key]; ok {
			_ = vec
			return key, qv, true
		}
	}
	return "", nil, false
}

// Backfill adds embeddings for models present in embedders but missing
// from an entry, preserving the entry's text verbatim. Returns the number
// of entries updated.
func (m *MultiModelStore) Backfill(embedders embedderSet) (int, error) {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	updated := 0
	for _, id := range ids {
		m.mu.Lock()
		e, ok := m.entries[id]
		m.mu.Unlock()
		if !ok {
			continue
		}

		changed := false
		for key, fn := range embedders {
			if _, has := e.Embeddings[key]; has {
				continue
			}
			vec, err := fn(e.Text)
			if err != nil {
				return updated, err
			}
			m.mu.Lock()
			e.Embeddings[key] = vec
			changed = true
			m.mu.Unlock()
		}
		if changed {
			models := make([]string, 0, len(e.Embeddings))
			for k := range e.Embeddings {
				models = append(models, k)
			}
			sort.Strings(models)
			m.mu.Lock()
			e.Metadata.ModelVersions = models
			e.Metadata.AvailableModels = models
			m.mu.Unlock()
			updated++
		}
	}
	return updated, nil
}

// Stats reports entry count and, per model key, how many entries carry an
// embedding for it — used for toggle_multi_model introspection.
func (m *MultiModelStore) Stats() (count int, perModel map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perModel = make(map[string]int)
	for _, e := range m.entries {
		for k := range e.Embeddings {
			perModel[k]++
		}
	}
	return len(m.entries), perModel
}
