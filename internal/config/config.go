// Package config handles loading and validating Quant Agent configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists.
	_ = godotenv.Load()
}

// Config is the root configuration.
type Config struct {
	DataDir  string            `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.quantagent/data. Override: QUANTAGENT_DATA_DIR.
	Server   ServerConfig      `json:"server" yaml:"server"`
	Provider ProviderConfig    `json:"provider" yaml:"provider"`
	Cache    *CacheConfig      `json:"cache,omitempty" yaml:"cache,omitempty"` // nil = SQLite defaults
	Tools    ToolsConfig       `json:"tools" yaml:"tools"`
	Agent    AgentConfig       `json:"agent" yaml:"agent"`
	MCP      []MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
	Tracing  *TracingConfig    `json:"tracing,omitempty" yaml:"tracing,omitempty"` // nil = tracing disabled
	Logging  LoggingConfig     `json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`                             // Default: ":8080"
	APIKeys           []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Empty = open access
	RequestsPerMinute int      `json:"requests_per_minute" yaml:"requests_per_minute"`
	RateBurst         int      `json:"rate_burst" yaml:"rate_burst"`
}

// ListenAddr returns the bind address, defaulting to ":8080".
func (s *ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// ProviderConfig configures the chat model backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name"`                             // Default: "openai"
	Model     string `json:"model" yaml:"model"`                           // Default: "gpt-5-nano"
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Empty = provider default
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`   // Overridden by OPENAI_API_KEY
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

// ProviderName returns the provider identifier, defaulting to "openai".
func (p *ProviderConfig) ProviderName() string {
	if p.Name != "" {
		return p.Name
	}
	return "openai"
}

// ModelName returns the model, defaulting to "gpt-5-nano".
func (p *ProviderConfig) ModelName() string {
	if p.Model != "" {
		return p.Model
	}
	return "gpt-5-nano"
}

// CacheConfig configures the durable fetch cache.
type CacheConfig struct {
	Driver        string `json:"driver" yaml:"driver"`                       // "sqlite" (default), "postgres", or "memory"
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`       // SQLite file path. Default: derived from data dir.
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty"`         // Postgres DSN. Overridden by QUANTAGENT_CACHE_DSN.
	MaxBytes      int64  `json:"max_bytes" yaml:"max_bytes"`                 // Default: 100 MB
	TTLHours      int    `json:"ttl_hours" yaml:"ttl_hours"`                 // Default: 24
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule"`       // Cron spec. Default: "@every 1h". "off" disables.
}

// CacheDriver returns the configured driver, defaulting to "sqlite".
func (c *CacheConfig) CacheDriver() string {
	if c != nil && c.Driver != "" {
		return c.Driver
	}
	return "sqlite"
}

// TTL returns the entry lifetime, defaulting to 24 hours.
func (c *CacheConfig) TTL() time.Duration {
	if c != nil && c.TTLHours > 0 {
		return time.Duration(c.TTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// Ceiling returns the size bound in bytes, defaulting to 100 MB.
func (c *CacheConfig) Ceiling() int64 {
	if c != nil && c.MaxBytes > 0 {
		return c.MaxBytes
	}
	return 100 << 20
}

// Schedule returns the sweep cron spec, or "" when sweeping is disabled.
func (c *CacheConfig) Schedule() string {
	if c == nil || c.SweepSchedule == "" {
		return "@every 1h"
	}
	if c.SweepSchedule == "off" {
		return ""
	}
	return c.SweepSchedule
}

// ToolsConfig configures the built-in tools and their call budgets.
type ToolsConfig struct {
	BraveCredential string         `json:"brave_credential,omitempty" yaml:"brave_credential,omitempty"` // Default: "env://BRAVE_API_KEY"
	CallLimits      map[string]int `json:"call_limits,omitempty" yaml:"call_limits,omitempty"`           // Per-request ceilings, keyed by tool name.
}

// BraveCredentialRef returns the search credential reference.
func (t *ToolsConfig) BraveCredentialRef() string {
	if t.BraveCredential != "" {
		return t.BraveCredential
	}
	return "env://BRAVE_API_KEY"
}

// AgentConfig configures the tool-use loop.
type AgentConfig struct {
	SystemPrompt  string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"` // 0 = default
	MaxHistory    int    `json:"max_history" yaml:"max_history"`       // Messages kept per conversation. 0 = default.
}

// MCPServerConfig describes one external MCP server connection.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio", "sse", or "streamable_http"
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	CallLimit int               `json:"call_limit,omitempty" yaml:"call_limit,omitempty"` // Per-request ceiling for each discovered tool.
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "quantagent"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info", "warn", "error". Default: "info"
	Format string `json:"format" yaml:"format"` // "json" (default) or "text"
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/quantagent.yaml"
	}
	return filepath.Join(home, ".quantagent", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// Format is detected by extension: .yml/.yaml for YAML, everything else
// JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".quantagent", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a runnable configuration without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".quantagent", "data")
		}
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Provider.APIKey = envKey
	}
	if envDD := os.Getenv("QUANTAGENT_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("QUANTAGENT_CACHE_DSN"); envDSN != "" {
		if cfg.Cache == nil {
			cfg.Cache = &CacheConfig{}
		}
		cfg.Cache.DSN = envDSN
	}
	if envKeys := os.Getenv("QUANTAGENT_API_KEYS"); envKeys != "" {
		cfg.Server.APIKeys = strings.Split(envKeys, ",")
	}
}

// CachePath returns the SQLite cache file path, derived from the data dir
// when unset.
func (c *Config) CachePath() string {
	if c.Cache != nil && c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.DataDir, "cache.db")
}

func (c *Config) validate() error {
	if c.Cache != nil {
		switch c.Cache.CacheDriver() {
		case "sqlite", "postgres", "memory":
		default:
			return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
		}
		if c.Cache.CacheDriver() == "postgres" && c.Cache.DSN == "" {
			return fmt.Errorf("cache driver postgres requires a dsn")
		}
		if c.Cache.MaxBytes < 0 {
			return fmt.Errorf("cache max_bytes must not be negative")
		}
	}
	for name, limit := range c.Tools.CallLimits {
		if limit < 0 {
			return fmt.Errorf("tool %q call limit must not be negative", name)
		}
	}
	for i, m := range c.MCP {
		if m.Name == "" {
			return fmt.Errorf("mcp server %d has no name", i)
		}
		switch m.Transport {
		case "stdio", "sse", "streamable_http":
		default:
			return fmt.Errorf("mcp server %q has unsupported transport %q", m.Name, m.Transport)
		}
	}
	if c.Tracing != nil && c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled without an endpoint")
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
