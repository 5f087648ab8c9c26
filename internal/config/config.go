// Package config loads runtime configuration for both binaries: defaults,
// then ~/.foreman/config.yaml, then FOREMAN_* environment variables, each
// layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"foreman/internal/security"
	"foreman/internal/supervise"
)

// Defaults shared across binaries.
const (
	DefaultMaxTokens         = 8192
	DefaultMaxIterations     = 6
	DefaultToolMaxConcurrent = 8
	DefaultStatusResetDelay  = 3 * time.Second
	DefaultApprovalTimeout   = 120 * time.Second
	DefaultMaxRetries        = 3
	DefaultShellTimeout      = 120 * time.Second
	DefaultServerAddr        = ":8420"
	DefaultMetricsPort       = 9420
	DefaultRecallTopK        = 3
)

// LLMConfig selects the completion provider.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSec  int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ExecutorConfig bounds tool dispatch and lifecycle behavior.
type ExecutorConfig struct {
	ToolMaxConcurrent int           `yaml:"tool_max_concurrent" mapstructure:"tool_max_concurrent"`
	StatusResetDelay  time.Duration `yaml:"status_reset_delay" mapstructure:"status_reset_delay"`
	ApprovalTimeout   time.Duration `yaml:"approval_timeout" mapstructure:"approval_timeout"`
	ShellTimeout      time.Duration `yaml:"shell_timeout" mapstructure:"shell_timeout"`
	AdapterCacheSize  int           `yaml:"adapter_cache_size" mapstructure:"adapter_cache_size"`
}

// VerifyConfig bounds the verification/retry loop.
type VerifyConfig struct {
	MaxRetries     int  `yaml:"max_retries" mapstructure:"max_retries"`
	EnableRollback bool `yaml:"enable_rollback" mapstructure:"enable_rollback"`
}

// ObservabilityConfig selects tracing exporter and metrics endpoint.
type ObservabilityConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	TraceExporter  string  `yaml:"trace_exporter" mapstructure:"trace_exporter"` // otlp | zipkin | none
	OTLPEndpoint   string  `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint" mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	MetricsPort    int     `yaml:"metrics_port" mapstructure:"metrics_port"`
}

// RecallConfig configures the prior-task similarity store.
type RecallConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	PersistDir string `yaml:"persist_dir" mapstructure:"persist_dir"`
	TopK       int    `yaml:"top_k" mapstructure:"top_k"`
}

// ServerConfig configures the HTTP API binary.
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Config is the full runtime configuration.
type Config struct {
	WorkspaceRoot string                     `yaml:"workspace_root" mapstructure:"workspace_root"`
	SessionDir    string                     `yaml:"session_dir" mapstructure:"session_dir"`
	LogLevel      string                     `yaml:"log_level" mapstructure:"log_level"`
	MaxTokens     int                        `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int                        `yaml:"max_iterations" mapstructure:"max_iterations"`
	LLM           LLMConfig                  `yaml:"llm" mapstructure:"llm"`
	Supervise     supervise.Config           `yaml:"timeouts" mapstructure:"timeouts"`
	Executor      ExecutorConfig             `yaml:"executor" mapstructure:"executor"`
	Verify        VerifyConfig               `yaml:"verify" mapstructure:"verify"`
	Observability ObservabilityConfig        `yaml:"observability" mapstructure:"observability"`
	Recall        RecallConfig               `yaml:"recall" mapstructure:"recall"`
	Server        ServerConfig               `yaml:"server" mapstructure:"server"`
	Policies      map[string]security.Policy `yaml:"policies" mapstructure:"policies"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SessionDir:    "~/.foreman/sessions",
		LogLevel:      "info",
		MaxTokens:     DefaultMaxTokens,
		MaxIterations: DefaultMaxIterations,
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxRetries: DefaultMaxRetries,
		},
		Supervise: supervise.DefaultConfig(),
		Executor: ExecutorConfig{
			ToolMaxConcurrent: DefaultToolMaxConcurrent,
			StatusResetDelay:  DefaultStatusResetDelay,
			ApprovalTimeout:   DefaultApprovalTimeout,
			ShellTimeout:      DefaultShellTimeout,
			AdapterCacheSize:  64,
		},
		Verify: VerifyConfig{
			MaxRetries:     DefaultMaxRetries,
			EnableRollback: true,
		},
		Observability: ObservabilityConfig{
			TraceExporter: "none",
			SampleRate:    1.0,
			MetricsPort:   DefaultMetricsPort,
		},
		Recall: RecallConfig{
			PersistDir: "~/.foreman/recall",
			TopK:       DefaultRecallTopK,
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
		Policies: map[string]security.Policy{
			// Coder and builder need redirections for generated files and
			// chained build steps; the explorer stays read-only strict.
			"explorer": security.StrictPolicy(),
			"coder":    {Mode: security.ModePermissive, AllowRedirections: true},
			"builder":  {Mode: security.ModePermissive, AllowRedirections: true, AllowChaining: true},
			"tester":   {Mode: security.ModePermissive, AllowPipes: true},
			"deployer": {Mode: security.ModePermissive, AllowChaining: true},
		},
	}
}

// Load reads configuration from file and environment on top of the defaults.
// A missing config file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".foreman", "config.yaml")
		}
	}
	path = ExpandHome(path)

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	// Env shortcuts that don't map cleanly through nested keys.
	if key := os.Getenv("FOREMAN_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if url := os.Getenv("FOREMAN_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if model := os.Getenv("FOREMAN_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps out-of-range values back to the defaults.
func (c *Config) Normalize() {
	def := Default()
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.Executor.ToolMaxConcurrent <= 0 {
		c.Executor.ToolMaxConcurrent = def.Executor.ToolMaxConcurrent
	}
	if c.Executor.StatusResetDelay <= 0 {
		c.Executor.StatusResetDelay = def.Executor.StatusResetDelay
	}
	if c.Executor.ApprovalTimeout <= 0 {
		c.Executor.ApprovalTimeout = def.Executor.ApprovalTimeout
	}
	if c.Executor.ShellTimeout <= 0 {
		c.Executor.ShellTimeout = def.Executor.ShellTimeout
	}
	if c.Executor.AdapterCacheSize <= 0 {
		c.Executor.AdapterCacheSize = def.Executor.AdapterCacheSize
	}
	if c.Verify.MaxRetries <= 0 {
		c.Verify.MaxRetries = def.Verify.MaxRetries
	}
	if c.Recall.TopK <= 0 {
		c.Recall.TopK = def.Recall.TopK
	}
	if c.Observability.SampleRate <= 0 || c.Observability.SampleRate > 1 {
		c.Observability.SampleRate = 1.0
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	c.SessionDir = ExpandHome(c.SessionDir)
	c.Recall.PersistDir = ExpandHome(c.Recall.PersistDir)
	c.WorkspaceRoot = ExpandHome(c.WorkspaceRoot)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must not be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	switch c.Observability.TraceExporter {
	case "", "none", "otlp", "zipkin":
	default:
		return fmt.Errorf("observability.trace_exporter must be one of none, otlp, zipkin")
	}
	for worker, policy := range c.Policies {
		if policy.Mode != security.ModeStrict && policy.Mode != security.ModePermissive {
			return fmt.Errorf("policy for %q has unknown mode %q", worker, policy.Mode)
		}
	}
	return nil
}

// WriteExample writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteExample(path string) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("config file already exists or is not writable: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write([]byte("# foreman configuration\n")); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
