// Package config loads the server's JSON configuration file and layers
// environment-variable overrides on top, the way the teacher's
// internal/config loader does (godotenv.Overload, then explicit os.Getenv
// reads layered over file-sourced defaults, then validation). The surface
// here is scoped to what this server actually needs: embedding back-ends,
// memory-tier sizing, the tool registry's external dependencies, transport
// auth, and the dreaming pipeline.
package config

import "time"

// EmbeddingBackend selects which of the four embedding back-ends C1 uses.
type EmbeddingBackend string

const (
	BackendInProcess EmbeddingBackend = "in-process"
	BackendLocalHTTP EmbeddingBackend = "local-http"
	BackendRemoteAPI EmbeddingBackend = "remote-api"
	BackendRandom    EmbeddingBackend = "random"
)

// RemoteAPIProvider selects the request/response shape used by the
// remote-api embedding back-end.
type RemoteAPIProvider string

const (
	ProviderOpenAI RemoteAPIProvider = "openai" // input+model -> data[i].embedding
	ProviderGenai  RemoteAPIProvider = "genai"   // texts+model -> embeddings[i]
	ProviderGeneric RemoteAPIProvider = "generic"
)

// EmbeddingConfig configures C1.
type EmbeddingConfig struct {
	Backend    EmbeddingBackend  `json:"backend"`
	ModelName  string            `json:"model_name"`
	Dim        int               `json:"dim"`
	Device     string            `json:"device"`
	LocalURL   string            `json:"local_url"`
	RemoteProvider RemoteAPIProvider `json:"remote_provider"`
	RemoteURL  string            `json:"remote_url"`
	APIKey     string            `json:"api_key"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	CacheFlushEvery int          `json:"cache_flush_every"`
	RedisEnabled bool            `json:"redis_enabled"`
	RedisAddr    string          `json:"redis_addr"`
}

// WorkingMemoryConfig configures C2.
type WorkingMemoryConfig struct {
	MaxTokens int `json:"max_tokens"`
}

// ActiveMemoryConfig configures C3.
type ActiveMemoryConfig struct {
	MaxPages int `json:"max_pages"`
}

// ArchivalMemoryConfig configures C4.
type ArchivalMemoryConfig struct {
	PersistEvery int `json:"persist_every"`
}

// KnowledgeBaseConfig configures C5.
type KnowledgeBaseConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// OrchestratorConfig configures C7's thresholds, per the resolved Open
// Question on promotion_threshold vs. the hard-coded 0.8 retrieval check
// (see DESIGN.md).
type OrchestratorConfig struct {
	WorkingActiveMatchThreshold float64 `json:"working_active_match_threshold"`
	PromotionRetrievalThreshold float64 `json:"promotion_retrieval_threshold"`
	ArchivalPromotionThreshold  float64 `json:"archival_promotion_threshold"`
	PageOutBatchSize            int     `json:"page_out_batch_size"`
	MemoryPagingTriggerFraction float64 `json:"memory_paging_trigger_fraction"`
	MultiModelEnabled           bool    `json:"multi_model_enabled"`
	MultiModelPriorityKeys      []string `json:"multi_model_priority_keys"`
}

// ToolsConfig configures C8's external dependencies (web search).
type ToolsConfig struct {
	GoogleSearchAPIKey string `json:"google_search_api_key"`
	GoogleSearchCX     string `json:"google_search_cx"`
	WebSearchTimeoutSeconds int `json:"web_search_timeout_seconds"`
}

// TransportConfig configures C9.
type TransportConfig struct {
	RequireAuth bool   `json:"require_auth"`
	APIKey      string `json:"api_key"`
	HTTPAddr    string `json:"http_addr"`
}

// DreamingConfig configures C10.
type DreamingConfig struct {
	LLMProvider string `json:"llm_provider"` // anthropic | openai | genai
	Model       string `json:"model"`
	APIKey      string `json:"api_key"`
	QualityLevel string `json:"quality_level"` // basic | good | premium
	KafkaEnabled bool   `json:"kafka_enabled"`
	KafkaBrokers string `json:"kafka_brokers"`
	KafkaTopic   string `json:"kafka_topic"`
	S3ColdStorageEnabled bool   `json:"s3_cold_storage_enabled"`
	S3Bucket             string `json:"s3_bucket"`
	S3Region             string `json:"s3_region"`
}

// Config is the top-level server configuration, loaded by Load from the
// JSON file whose path it is given (no file is read when that path is
// empty), with environment overrides layered on top.
type Config struct {
	DataDir    string               `json:"data_dir"`
	Embedding  EmbeddingConfig      `json:"embedding"`
	Working    WorkingMemoryConfig  `json:"working_memory"`
	Active     ActiveMemoryConfig   `json:"active_memory"`
	Archival   ArchivalMemoryConfig `json:"archival_memory"`
	Knowledge  KnowledgeBaseConfig  `json:"knowledge_base"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Tools      ToolsConfig          `json:"tools"`
	Transport  TransportConfig      `json:"transport"`
	Dreaming   DreamingConfig       `json:"dreaming"`
}

// EmbedTimeout returns the configured embedding-call timeout, falling back
// to the 5-10s window named in spec §5.
func (c EmbeddingConfig) EmbedTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebSearchTimeout returns the configured web-search timeout, defaulting
// to the 15s window named in spec §5.
func (c ToolsConfig) WebSearchTimeout() time.Duration {
	if c.WebSearchTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.WebSearchTimeoutSeconds) * time.Second
}

// Defaults returns a Config with every field the server requires to run
// set to a safe default, before file and environment overlays are applied.
func Defaults() Config {
	return Config{
		DataDir: "./data",
		Embedding: EmbeddingConfig{
			Backend:         BackendRandom,
			ModelName:       "fallback-random",
			Dim:             384,
			TimeoutSeconds:  8,
			CacheFlushEvery: 100,
		},
		Working: WorkingMemoryConfig{MaxTokens: 2000},
		Active:  ActiveMemoryConfig{MaxPages: 50},
		Archival: ArchivalMemoryConfig{PersistEvery: 10},
		Knowledge: KnowledgeBaseConfig{ChunkSize: 1000, ChunkOverlap: 100},
		Orchestrator: OrchestratorConfig{
			WorkingActiveMatchThreshold: 0.3,
			PromotionRetrievalThreshold: 0.8,
			ArchivalPromotionThreshold:  0.6,
			PageOutBatchSize:            10,
			MemoryPagingTriggerFraction: 0.8,
			MultiModelPriorityKeys:      []string{"bge-m3:1024", "gemma:768", "gemma:256"},
		},
		Tools: ToolsConfig{WebSearchTimeoutSeconds: 15},
		Transport: TransportConfig{RequireAuth: false, HTTPAddr: ":8085"},
		Dreaming: DreamingConfig{QualityLevel: "good"},
	}
}
