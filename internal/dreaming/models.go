// Package dreaming implements C10: the A→B→C→D memory consolidation
// pipeline. A raw conversation (A) is chunked into semantic B chunks, the
// B chunks are synthesized into C clusters, and the result is archived as
// an immutable, versioned D record under a per-conversation manifest.
//
// Grounded on _examples/original_source/app/dreaming/{models,chunker,
// synthesizer,pipeline}.py, reworked into the teacher's idiom: explicit
// structs instead of dataclasses, injected dependencies instead of
// optional constructor args, and atomic file writes via internal/atomicfile
// instead of a hand-rolled temp-path dance.
package dreaming

import "time"

// ChunkType names the kind of semantic unit a BChunk represents.
type ChunkType string

const (
	ChunkSemantic    ChunkType = "semantic"
	ChunkSpeakerTurn ChunkType = "speaker_turn"
	ChunkEntity      ChunkType = "entity"
	ChunkRelation    ChunkType = "relationship"
)

// ClusterType names the kind of synthesis a CCluster represents.
type ClusterType string

const (
	ClusterTopic        ClusterType = "topic"
	ClusterRelationship ClusterType = "relationship"
	ClusterSummary      ClusterType = "summary"
	ClusterTimeline     ClusterType = "timeline"
)

// BChunk is a deconstructed semantic chunk (B), produced from a raw
// conversation (A) by the Chunker.
type BChunk struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id"`
	Type     ChunkType `json:"chunk_type"`
	Content  string    `json:"content"`

	Labels      []string `json:"labels"`
	Speaker     string   `json:"speaker"`
	Entities    []string `json:"entities"`
	Confidence  float64  `json:"confidence"`
	Language    string   `json:"language,omitempty"`
	Position    float64  `json:"position_in_parent"`
	QualityUsed string   `json:"quality_level"`

	CreatedAt time.Time `json:"created_at"`
}

// CCluster is a synthesized cluster (C), combining multiple BChunks into a
// consolidated view.
type CCluster struct {
	ID      string      `json:"id"`
	Type    ClusterType `json:"cluster_type"`
	Content string      `json:"content"`

	RelatedChunks   []string `json:"related_chunks"`
	RelatedClusters []string `json:"related_clusters"`
	Theme           string   `json:"theme"`
	Entities        []string `json:"entities,omitempty"`
	Confidence      float64  `json:"confidence"`
	QualityUsed     string   `json:"quality_level"`

	CreatedAt time.Time `json:"created_at"`
}

// Archive is the immutable record (D) for one version of one conversation's
// consolidated knowledge.
type Archive struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Version        int        `json:"version"`
	QualityLevel   string     `json:"quality_level"`
	CreatedAt      time.Time  `json:"created_at"`
	Entities       []string   `json:"entities"`
	BChunks        []BChunk   `json:"b_chunks"`
	CClusters      []CCluster `json:"c_clusters"`
	Metadata       map[string]any `json:"metadata"`
}

// VersionLifecycle is the per-version lineage/lifecycle record kept in a
// conversation's manifest.
type VersionLifecycle struct {
	IsLatest           bool   `json:"is_latest"`
	Status             string `json:"status"` // active | superseded
	StorageLocation     string `json:"storage_location"` // hot | cold
	PreviousVersion    *int   `json:"previous_version,omitempty"`
	SupersedesVersion  *int   `json:"supersedes_version,omitempty"`
	SupersededByVersion *int  `json:"superseded_by_version,omitempty"`
	SupersededAt       string `json:"superseded_at,omitempty"`
}

// Manifest tracks the version lineage of one conversation's archives.
type Manifest struct {
	ConversationID string                      `json:"conversation_id"`
	LatestVersion  int                         `json:"latest_version"`
	UpdatedAt      string                      `json:"updated_at"`
	Versions       map[string]VersionLifecycle `json:"versions"`
}

// Result is the outcome of ProcessConversation, summarizing each pipeline
// stage for the caller (and for the get_dreaming_status-style tool).
type Result struct {
	ConversationID string         `json:"conversation_id"`
	QualityLevel   string         `json:"quality_level"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	Status         string         `json:"status"` // success | failed
	Error          string         `json:"error,omitempty"`
	BChunkCount    int            `json:"b_chunk_count"`
	CClusterCount  int            `json:"c_cluster_count"`
	ArchiveVersion int            `json:"archive_version"`
	PreviousVersion *int          `json:"previous_version,omitempty"`
}
