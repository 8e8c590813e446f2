package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/embedding"
)

// KnowledgeBase is C5: chunked documents with a per-chunk embedding index,
// source-type filtering, and deterministic IDs for repo-sourced documents.
type KnowledgeBase struct {
	mu           sync.Mutex
	docs         map[string]*Document
	order        []string
	chunks       []ChunkEmbedding
	path         string
	chunkSize    int
	chunkOverlap int
	nowFunc      func() time.Time
}

type knowledgeFile struct {
	Documents []Document       `json:"documents"`
	Chunks    []ChunkEmbedding `json:"chunks"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewKnowledgeBase builds a KnowledgeBase backed by dataDir/knowledge.json.
func NewKnowledgeBase(dataDir string, chunkSize, chunkOverlap int, now func() time.Time) *KnowledgeBase {
	if now == nil {
		now = time.Now
	}
	return &KnowledgeBase{
		docs:         make(map[string]*Document),
		path:         filepath.Join(dataDir, "knowledge.json"),
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		nowFunc:      now,
	}
}

// Load restores the knowledge base from disk; a missing file is empty, a
// corrupt file yields an empty base per spec §7 kind 4.
func (k *KnowledgeBase) Load() error {
	b, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f knowledgeFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.docs = make(map[string]*Document, len(f.Documents))
	k.order = nil
	for i := range f.Documents {
		d := f.Documents[i]
		k.docs[d.ID] = &d
		k.order = append(k.order, d.ID)
	}
	k.chunks = f.Chunks
	return nil
}

// Persist rewrites the knowledge base as a single JSON blob, atomically.
func (k *KnowledgeBase) Persist() error {
	k.mu.Lock()
	docs := make([]Document, 0, len(k.order))
	for _, id := range k.order {
		if d, ok := k.docs[id]; ok {
			docs = append(docs, *d)
		}
	}
	chunks := make([]ChunkEmbedding, len(k.chunks))
	copy(chunks, k.chunks)
	k.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(k.path, knowledgeFile{
		Documents: docs,
		Chunks:    chunks,
		UpdatedAt: k.nowFunc(),
	}, atomicfile.SecretPerm)
}

// deterministicCodeID derives a stable id for source_type=code documents so
// re-ingesting the same repo file is idempotent, per spec §3/§9:
// SHA256(repo_url:file_path[:commit_hash])[:16].
func deterministicCodeID(gc *GitContext) string {
	key := gc.RepoURL + ":" + gc.FilePath
	if gc.CommitHash != "" {
		key += ":" + gc.CommitHash
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// AddDocument chunks text, embeds each chunk (passage kind) with embedFn,
// and stores the document. For source_type=code documents with a
// GitContext, the document ID is deterministic; re-adding the same
// repo/file/commit overwrites rather than duplicates.
func (k *KnowledgeBase) AddDocument(
	embedFn func(text string) ([]float32, error),
	text string,
	metadata map[string]any,
	sourceType SourceType,
	gitContext *GitContext,
) (string, error) {
	chunks := ChunkText(text, k.chunkSize, k.chunkOverlap)
	if len(chunks) == 0 {
		return "", fmt.Errorf("memory: knowledge base: empty document text")
	}

	var id string
	if sourceType == SourceCode && gitContext != nil {
		id = deterministicCodeID(gitContext)
	} else {
		id = uuid.NewString()
	}

	now := k.nowFunc()
	doc := Document{
		ID:          id,
		Text:        text,
		Chunks:      chunks,
		Metadata:    metadata,
		SourceType:  sourceType,
		GitContext:  gitContext,
		CreatedAt:   now,
		LastUpdated: now,
	}

	chunkEmbeddings := make([]ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		vec, err := embedFn(c)
		if err != nil {
			return "", err
		}
		chunkEmbeddings[i] = ChunkEmbedding{DocID: id, ChunkIndex: i, Vector: vec, SourceType: sourceType}
	}

	k.mu.Lock()
	if existing, ok := k.docs[id]; ok {
		doc.CreatedAt = existing.CreatedAt
		k.removeChunksLocked(id)
	} else {
		k.order = append(k.order, id)
	}
	k.docs[id] = &doc
	k.chunks = append(k.chunks, chunkEmbeddings...)
	k.mu.Unlock()

	return id, k.Persist()
}

func (k *KnowledgeBase) removeChunksLocked(docID string) {
	out := k.chunks[:0]
	for _, c := range k.chunks {
		if c.DocID != docID {
			out = append(out, c)
		}
	}
	k.chunks = out
}

// Query searches chunk embeddings by cosine similarity, returning at most
// one chunk per document (diversity dedup, per spec §4.5), highest-scoring
// chunk wins, limited to limit results.
func (k *KnowledgeBase) Query(queryVec []float32, limit int, sourceTypeFilter SourceType) []ScoredResult {
	k.mu.Lock()
	chunks := make([]ChunkEmbedding, len(k.chunks))
	copy(chunks, k.chunks)
	docs := make(map[string]Document, len(k.docs))
	for id, d := range k.docs {
		docs[id] = *d
	}
	k.mu.Unlock()

	bestByDoc := make(map[string]ScoredResult)
	for _, c := range chunks {
		if sourceTypeFilter != "" && c.SourceType != sourceTypeFilter {
			continue
		}
		doc, ok := docs[c.DocID]
		if !ok || c.ChunkIndex >= len(doc.Chunks) {
			continue
		}
		score := embedding.Cosine(queryVec, c.Vector)
		if existing, ok := bestByDoc[c.DocID]; !ok || score > existing.Score {
			bestByDoc[c.DocID] = ScoredResult{
				ID:       doc.ID,
				Text:     doc.Chunks[c.ChunkIndex],
				Metadata: doc.Metadata,
				Score:    score,
				Source:   "knowledge",
			}
		}
	}

	results := make([]ScoredResult, 0, len(bestByDoc))
	for _, r := range bestByDoc {
		results = append(results, r)
	}
	sortScoredDesc(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// GetByRepository returns every document whose GitContext.RepoURL matches.
func (k *KnowledgeBase) GetByRepository(repoURL string) []Document {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []Document
	for _, id := range k.order {
		d := k.docs[id]
		if d != nil && d.GitContext != nil && d.GitContext.RepoURL == repoURL {
			out = append(out, *d)
		}
	}
	return out
}

// ListRecent returns up to n most-recently-added documents, newest first.
func (k *KnowledgeBase) ListRecent(n int) []Document {
	k.mu.Lock()
	defer k.mu.Unlock()
	if n > len(k.order) {
		n = len(k.order)
	}
	out := make([]Document, 0, n)
	for i := len(k.order) - 1; i >= 0 && len(out) < n; i-- {
		if d, ok := k.docs[k.order[i]]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// Remove deletes a document and its chunk embeddings.
func (k *KnowledgeBase) Remove(id string) (bool, error) {
	k.mu.Lock()
	if _, ok := k.docs[id]; !ok {
		k.mu.Unlock()
		return false, nil
	}
	delete(k.docs, id)
	for i, oid := range k.order {
		if oid == id {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
	k.removeChunksLocked(id)
	k.mu.Unlock()
	return true, k.Persist()
}

// Stats reports document and chunk counts for introspection.
func (k *KnowledgeBase) Stats() (docCount, chunkCount int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.docs), len(k.chunks)
}
