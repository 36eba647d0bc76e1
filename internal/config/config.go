package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognition-sh/cognition/internal/mcp"
	"github.com/cognition-sh/cognition/internal/permission"
	"github.com/cognition-sh/cognition/pkg/types"
)

// ScopeConfig configures the ScopeHarness (C3).
type ScopeConfig struct {
	Keys    []string `yaml:"keys"`
	Enabled bool     `yaml:"enabled"`
}

// RateLimitConfig configures the RateLimiter (C2).
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	BurstSize         int           `yaml:"burstSize"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
}

// SessionsConfig configures the SessionManager (C4).
type SessionsConfig struct {
	CacheSize    int  `yaml:"cacheSize"`
	MaxSessions  int  `yaml:"maxSessions"`
	StrictSerial bool `yaml:"strictSerial"`
}

// StreamConfig configures EventBuffer & SSEStream (C5).
type StreamConfig struct {
	BufferSize        int           `yaml:"bufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	RetryMillis       int           `yaml:"retryMillis"`
}

// StorageConfig selects and configures the StorageBackend (C1).
type StorageConfig struct {
	Backend string `yaml:"backend"` // "embedded" | "networked" | "memory"
	DSN     string `yaml:"dsn"`
}

// PermissionConfig configures the bash-command permission table the
// AgentDriver adapter (C6) consults before running any ToolCall named
// "bash". Patterns follow internal/permission's wildcard grammar ("git *",
// "rm *", "*"); an unrecognized action string falls back to "ask".
type PermissionConfig struct {
	Bash map[string]string `yaml:"bash"`
}

// BashPermissions converts the configured pattern table to the
// permission.PermissionAction map agentdriver.New expects.
func (p PermissionConfig) BashPermissions() map[string]permission.PermissionAction {
	out := make(map[string]permission.PermissionAction, len(p.Bash))
	for pattern, action := range p.Bash {
		switch a := permission.PermissionAction(action); a {
		case permission.ActionAllow, permission.ActionDeny, permission.ActionAsk:
			out[pattern] = a
		default:
			out[pattern] = permission.ActionAsk
		}
	}
	return out
}

// ServerConfig is the top-level, fully-merged Cognition server configuration.
type ServerConfig struct {
	Port         int             `yaml:"port"`
	Directory    string          `yaml:"-"`
	EnableCORS   bool            `yaml:"enableCORS"`
	ReadTimeout  time.Duration   `yaml:"readTimeout"`
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	Storage      StorageConfig   `yaml:"storage"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
	Scope        ScopeConfig     `yaml:"scope"`
	Sessions     SessionsConfig  `yaml:"sessions"`
	Stream       StreamConfig    `yaml:"stream"`
	App          types.AppConfig `yaml:"app"`
	// MCPServers names every external MCP server the AgentDriver's tool
	// registry should draw tools from, keyed by server name.
	MCPServers map[string]mcp.Config `yaml:"mcpServers"`
	Permission PermissionConfig      `yaml:"permission"`
}

// DefaultServerConfig returns the built-in baseline configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses must not be write-deadlined
		Storage: StorageConfig{
			Backend: "embedded",
		},
		Permission: PermissionConfig{
			Bash: map[string]string{
				"rm *":   "deny",
				"sudo *": "deny",
				"git *":  "allow",
				"ls *":   "allow",
				"cat *":  "allow",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
			SweepInterval:     5 * time.Minute,
			IdleTimeout:       10 * time.Minute,
		},
		Sessions: SessionsConfig{
			CacheSize:    256,
			MaxSessions:  64,
			StrictSerial: false,
		},
		Stream: StreamConfig{
			BufferSize:        100,
			HeartbeatInterval: 15 * time.Second,
			RetryMillis:       3000,
		},
	}
}

// Load builds a ServerConfig by layering, in priority order: built-in
// defaults, the global YAML file, the project YAML file for directory, and
// COGNITION_* environment variables.
func Load(directory string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	cfg.Directory = directory

	loadYAMLFile(GlobalConfigPath(), cfg)
	if directory != "" {
		loadYAMLFile(ProjectConfigPath(directory), cfg)
	}
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadYAMLFile merges the YAML file at path into cfg, leaving cfg untouched
// if the file does not exist.
func loadYAMLFile(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies COGNITION_* environment variable overrides.
// These take precedence over both the global and project YAML files.
func applyEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("COGNITION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("COGNITION_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("COGNITION_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("COGNITION_SCOPING_ENABLED"); v != "" {
		cfg.Scope.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("COGNITION_MODEL"); v != "" {
		cfg.App.Model = v
	}
	if v := os.Getenv("COGNITION_SMALL_MODEL"); v != "" {
		cfg.App.SmallModel = v
	}

	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if cfg.App.Provider == nil {
			cfg.App.Provider = make(map[string]types.ProviderConfig)
		}
		p := cfg.App.Provider[provider]
		if p.Options.APIKey == "" {
			p.Options.APIKey = apiKey
			cfg.App.Provider[provider] = p
		}
	}
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(cfg *ServerConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
