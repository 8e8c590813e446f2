package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, BackendRandom, cfg.Embedding.Backend)
	require.Equal(t, 0.6, cfg.Orchestrator.ArchivalPromotionThreshold)
	require.Equal(t, 0.8, cfg.Orchestrator.PromotionRetrievalThreshold)
}

func TestLoad_RequiresLocalURLForLocalHTTPBackend(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"embedding":{"backend":"local-http","dim":384}}`), 0o644))
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"data_dir":"./from-file"}`), 0o644))
	t.Setenv("MCP_DATA_DIR", "/from/env")
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.DataDir)
}

func TestLoad_RequireAuthWithoutKeyFails(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"transport":{"require_auth":true}}`), 0o644))
	_, err := Load(p)
	require.Error(t, err)
}
