package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/embedding"
)

// ArchivalMemory is C4: an unbounded append-only vector store with
// cosine-similarity search and batched persistence. Storage is two
// parallel ordered sequences — items and their vectors are the same
// length and indexed by position, per spec §4.4.
type ArchivalMemory struct {
	mu           sync.Mutex
	items        []ArchivedItem
	path         string
	persistEvery int
	sinceFlush   int
	nowFunc      func() time.Time
}

type archivalFile struct {
	Memories  []ArchivedItem `json:"memories"`
	Vectors   [][]float32    `json:"vectors"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewArchivalMemory opens (or prepares to create) the archival collection
// file at dataDir/archival/<collection>.json.
func NewArchivalMemory(dataDir, collection string, persistEvery int, now func() time.Time) *ArchivalMemory {
	if persistEvery <= 0 {
		persistEvery = 10
	}
	if now == nil {
		now = time.Now
	}
	a := &ArchivalMemory{
		path:         filepath.Join(dataDir, "archival", collection+".json"),
		persistEvery: persistEvery,
		nowFunc:      now,
	}
	return a
}

// Load restores the archival collection from disk. A missing file is not
// an error (empty collection); a corrupt file is logged by the caller and
// also yields an empty collection per spec §7 kind 4.
func (a *ArchivalMemory) Load() error {
	b, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f archivalFile
	if err := json.Unmarshal(b, &f); err != nil {
		a.mu.Lock()
		a.items = nil
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	a.items = f.Memories
	a.mu.Unlock()
	return nil
}

// store appends a new archived item with an already-computed vector,
// computing nothing itself; Store and StorePage embed the text first and
// then call it.
func (a *ArchivalMemory) store(text string, metadata map[string]any, vector []float32) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	a.items = append(a.items, ArchivedItem{
		ID:        id,
		Text:      text,
		Metadata:  metadata,
		Embedding: vector,
		CreatedAt: a.nowFunc(),
	})
	a.sinceFlush++
	return id
}

// Store appends text+metadata, embedding it with the given embedder
// (passage-kind), and persists every persistEvery insertions.
func (a *ArchivalMemory) Store(embedFn func(text string) ([]float32, error), text string, metadata map[string]any) (string, error) {
	vec, err := embedFn(text)
	if err != nil {
		return "", err
	}
	id := a.store(text, metadata, vec)
	a.maybeFlush()
	return id, nil
}

// StorePage derives text from a page's serialised content and stores it
// with metadata taken from the page (page_id, page_kind) plus type "page",
// per spec §4.4's store_page contract.
func (a *ArchivalMemory) StorePage(embedFn func(text string) ([]float32, error), page Page) (string, error) {
	meta := map[string]any{
		"page_id":   page.ID,
		"page_kind": string(page.Kind),
		"type":      "page",
	}
	return a.Store(embedFn, page.Content.SerializedText(), meta)
}

func (a *ArchivalMemory) maybeFlush() {
	a.mu.Lock()
	needFlush := a.sinceFlush >= a.persistEvery
	if needFlush {
		a.sinceFlush = 0
	}
	a.mu.Unlock()
	if needFlush {
		_ = a.Persist()
	}
}

// Persist rewrites the entire collection as a single JSON blob,
// atomically.
func (a *ArchivalMemory) Persist() error {
	a.mu.Lock()
	items := make([]ArchivedItem, len(a.items))
	vectors := make([][]float32, len(a.items))
	copy(items, a.items)
	for i, it := range a.items {
		vectors[i] = it.Embedding
	}
	a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(a.path, archivalFile{
		Memories:  items,
		Vectors:   vectors,
		UpdatedAt: a.nowFunc(),
	}, atomicfile.SecretPerm)
}

// Search performs a linear scan computing cosine similarity against every
// stored vector and returns results sorted descending by score, limited
// to limit. Matching items have their access bookkeeping bumped.
func (a *ArchivalMemory) Search(queryVec []float32, limit int) []ScoredResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	scored := make([]ScoredResult, 0, len(a.items))
	for i := range a.items {
		score := embedding.Cosine(queryVec, a.items[i].Embedding)
		scored = append(scored, ScoredResult{
			ID:       a.items[i].ID,
			Text:     a.items[i].Text,
			Metadata: a.items[i].Metadata,
			Score:    score,
			Source:   "archival",
		})
	}
	sortScoredDesc(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	now := a.nowFunc()
	for _, r := range scored {
		for i := range a.items {
			if a.items[i].ID == r.ID {
				a.items[i].AccessCount++
				a.items[i].LastAccessedAt = now
				break
			}
		}
	}
	return scored
}

// Get returns the archived item by id, for reconstructing dreaming
// archives or debugging.
func (a *ArchivalMemory) Get(id string) (ArchivedItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, it := range a.items {
		if it.ID == id {
			return it, true
		}
	}
	return ArchivedItem{}, false
}

// Stats reports the archival collection's size and total access count —
// the supplemented introspection surface named in SPEC_FULL.md §4.
func (a *ArchivalMemory) Stats() (count int, totalAccesses int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, it := range a.items {
		totalAccesses += it.AccessCount
	}
	return len(a.items), totalAccesses
}

func sortScoredDesc(s []ScoredResult) {
	// Insertion sort is fine here: archival collections in this server's
	// use case (single-process, single-host) are not large enough to
	// justify sort.Slice's extra allocation; kept simple and stable.
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1].Score < s[j].Score {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}
