package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the JSON configuration file at path over top of Defaults(),
// then applies environment overrides, then validates. Following the
// teacher's loader (internal/config/loader.go), .env values are loaded
// with Overload so they deterministically win over any pre-existing OS
// environment variable — useful in development, harmless in production
// where no .env file is present.
func Load(path string) (Config, error) {
	_ = godotenv.Overload()

	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MCP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_BACKEND")); v != "" {
		cfg.Embedding.Backend = EmbeddingBackend(v)
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_MODEL")); v != "" {
		cfg.Embedding.ModelName = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_DIM")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dim = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_DEVICE")); v != "" {
		cfg.Embedding.Device = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_LOCAL_URL")); v != "" {
		cfg.Embedding.LocalURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_REMOTE_PROVIDER")); v != "" {
		cfg.Embedding.RemoteProvider = RemoteAPIProvider(v)
	}
	if v := strings.TrimSpace(os.Getenv("MCP_EMBEDDING_REMOTE_URL")); v != "" {
		cfg.Embedding.RemoteURL = v
	}
	if v := firstNonEmpty(os.Getenv("MCP_EMBEDDING_API_KEY"), os.Getenv("OPENAI_API_KEY"), os.Getenv("GOOGLE_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_API_KEY")); v != "" {
		cfg.Transport.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_REQUIRE_AUTH")); v != "" {
		cfg.Transport.RequireAuth = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv("MCP_HTTP_ADDR")); v != "" {
		cfg.Transport.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_API_KEY")); v != "" {
		cfg.Tools.GoogleSearchAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_CX")); v != "" {
		cfg.Tools.GoogleSearchCX = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_DREAMING_LLM_PROVIDER")); v != "" {
		cfg.Dreaming.LLMProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_DREAMING_MODEL")); v != "" {
		cfg.Dreaming.Model = v
	}
	if v := firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Dreaming.APIKey == "" {
		cfg.Dreaming.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_KAFKA_BROKERS")); v != "" {
		cfg.Dreaming.KafkaBrokers = v
		cfg.Dreaming.KafkaEnabled = true
	}
	if v := strings.TrimSpace(os.Getenv("MCP_S3_BUCKET")); v != "" {
		cfg.Dreaming.S3Bucket = v
		cfg.Dreaming.S3ColdStorageEnabled = true
	}
}

func validate(cfg Config) error {
	switch cfg.Embedding.Backend {
	case BackendInProcess, BackendLocalHTTP, BackendRemoteAPI, BackendRandom:
	default:
		return fmt.Errorf("embedding.backend must be one of in-process|local-http|remote-api|random (got %q)", cfg.Embedding.Backend)
	}
	if cfg.Embedding.Backend == BackendLocalHTTP && cfg.Embedding.LocalURL == "" {
		return fmt.Errorf("embedding.local_url is required for backend %q", BackendLocalHTTP)
	}
	if cfg.Embedding.Backend == BackendRemoteAPI {
		if cfg.Embedding.RemoteURL == "" {
			return fmt.Errorf("embedding.remote_url is required for backend %q", BackendRemoteAPI)
		}
		switch cfg.Embedding.RemoteProvider {
		case ProviderOpenAI, ProviderGenai, ProviderGeneric:
		default:
			return fmt.Errorf("embedding.remote_provider must be one of openai|genai|generic (got %q)", cfg.Embedding.RemoteProvider)
		}
	}
	if cfg.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be > 0")
	}
	if cfg.Working.MaxTokens <= 0 {
		return fmt.Errorf("working_memory.max_tokens must be > 0")
	}
	if cfg.Active.MaxPages <= 0 {
		return fmt.Errorf("active_memory.max_pages must be > 0")
	}
	if cfg.Knowledge.ChunkSize <= 0 || cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge_base chunk_size/chunk_overlap out of range")
	}
	if cfg.Orchestrator.ArchivalPromotionThreshold < 0 || cfg.Orchestrator.ArchivalPromotionThreshold > 1 {
		return fmt.Errorf("orchestrator.archival_promotion_threshold must be in [0,1]")
	}
	if cfg.Orchestrator.PromotionRetrievalThreshold < 0 || cfg.Orchestrator.PromotionRetrievalThreshold > 1 {
		return fmt.Errorf("orchestrator.promotion_retrieval_threshold must be in [0,1]")
	}
	if cfg.Transport.RequireAuth && cfg.Transport.APIKey == "" {
		return fmt.Errorf("transport.require_auth is true but no api_key is configured")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
