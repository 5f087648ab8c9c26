package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foreman/internal/security"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	require.Equal(t, DefaultToolMaxConcurrent, cfg.Executor.ToolMaxConcurrent)
	require.Equal(t, security.ModeStrict, cfg.Policies["explorer"].Mode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_tokens: 2048
llm:
  model: test-model
executor:
  tool_max_concurrent: 2
policies:
  coder:
    mode: strict
    allow_pipes: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.MaxTokens)
	require.Equal(t, "test-model", cfg.LLM.Model)
	require.Equal(t, 2, cfg.Executor.ToolMaxConcurrent)
	require.Equal(t, security.ModeStrict, cfg.Policies["coder"].Mode)
	require.True(t, cfg.Policies["coder"].AllowPipes)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FOREMAN_API_KEY", "env-key")
	t.Setenv("FOREMAN_MODEL", "env-model")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.LLM.APIKey)
	require.Equal(t, "env-model", cfg.LLM.Model)
}

func TestNormalizeClampsRanges(t *testing.T) {
	cfg := Config{MaxTokens: -1, Executor: ExecutorConfig{StatusResetDelay: -time.Second}}
	cfg.Normalize()
	require.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	require.Equal(t, DefaultStatusResetDelay, cfg.Executor.StatusResetDelay)
	require.Equal(t, DefaultServerAddr, cfg.Server.Addr)
}

func TestValidateRejectsUnknownExporter(t *testing.T) {
	cfg := Default()
	cfg.Observability.TraceExporter = "jaeger"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownPolicyMode(t *testing.T) {
	cfg := Default()
	cfg.Policies["coder"] = security.Policy{Mode: "lenient"}
	require.Error(t, cfg.Validate())
}

func TestWriteExampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteExample(path))
	require.Error(t, WriteExample(path))
}
