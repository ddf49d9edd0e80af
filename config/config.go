// Package config loads the application configuration from YAML and
// LOOM_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loom-agent/loom/llm"
)

// Config is the top-level application configuration.
type Config struct {
	Provider  ProviderConfig    `mapstructure:"provider"`
	Agent     AgentConfig       `mapstructure:"agent"`
	Skills    SkillsConfig      `mapstructure:"skills"`
	Templates TemplatesConfig   `mapstructure:"templates"`
	MCP       []MCPServerConfig `mapstructure:"mcp"`
	Store     StoreConfig       `mapstructure:"store"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
}

// ProviderConfig selects the inference endpoint.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`     // anthropic, openai, ollama, or a gollm-routed provider
	Model   string `mapstructure:"model"`    // model id or catalog alias
	BaseURL string `mapstructure:"base_url"` // endpoint override
	APIKey  string `mapstructure:"api_key"`  // usually supplied via LOOM_PROVIDER_API_KEY or the store
}

// AgentConfig describes session runtime parameters.
type AgentConfig struct {
	SystemPrompt     string   `mapstructure:"system_prompt"`
	MaxTokens        int      `mapstructure:"max_tokens"`
	Temperature      *float64 `mapstructure:"temperature"` // nil leaves the provider default
	LoopWindow       int      `mapstructure:"loop_window"`
	MaxSubagentDepth int      `mapstructure:"max_subagent_depth"`
}

// SkillsConfig points at a directory of skill markdown files.
type SkillsConfig struct {
	Dir string `mapstructure:"dir"`
}

// TemplatesConfig points at a directory of slash-command templates.
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// MCPServerConfig describes one MCP server to bridge tools from. Exactly
// one of Command (stdio transport) or URL (HTTP transport) must be set.
type MCPServerConfig struct {
	ID      string   `mapstructure:"id"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
	URL     string   `mapstructure:"url"`
}

// StoreConfig locates the credential and thread database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from the provided path, or from config.yaml in
// the working directory or ~/.loom when path is empty. A missing file is
// fine in that case; defaults and environment variables apply either way.
// Environment variables override file values (prefix LOOM_, dots replaced
// with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.loom")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates defaults for optional fields. Every scalar key gets
// one so that LOOM_* environment overrides bind even without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", llm.DefaultModel)
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")

	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.max_tokens", 0)
	v.SetDefault("agent.loop_window", 0)
	v.SetDefault("agent.max_subagent_depth", 0)

	v.SetDefault("skills.dir", "")
	v.SetDefault("templates.dir", "")

	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.addr", "")
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "loom.db"
	}
	return filepath.Join(home, ".loom", "loom.db")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.Name) == "" {
		return errors.New("provider.name must be set")
	}

	// A model the catalog knows must belong to the configured provider.
	// Unknown ids pass: ollama models are discovered at runtime and new
	// hosted models ship faster than the catalog.
	if info := llm.GetModelInfo(c.Provider.Model); info != nil && info.Provider != c.Provider.Name {
		return fmt.Errorf("model %q belongs to provider %q, not %q",
			c.Provider.Model, info.Provider, c.Provider.Name)
	}

	if c.Agent.MaxTokens < 0 {
		return errors.New("agent.max_tokens must be >= 0")
	}
	if t := c.Agent.Temperature; t != nil && (*t < 0 || *t > 2) {
		return errors.New("agent.temperature must be within [0,2]")
	}

	seen := make(map[string]bool, len(c.MCP))
	for i, srv := range c.MCP {
		if strings.TrimSpace(srv.ID) == "" {
			return fmt.Errorf("mcp[%d] must define id", i)
		}
		if seen[srv.ID] {
			return fmt.Errorf("mcp id %q defined twice", srv.ID)
		}
		seen[srv.ID] = true
		hasCommand := strings.TrimSpace(srv.Command) != ""
		hasURL := strings.TrimSpace(srv.URL) != ""
		if hasCommand == hasURL {
			return fmt.Errorf("mcp %q must define exactly one of command or url", srv.ID)
		}
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path must be set")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console or json, got %q", c.Logging.Format)
	}

	return nil
}
