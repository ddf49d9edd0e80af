package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loom-agent/loom/llm"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
provider:
  name: anthropic
  model: claude-sonnet-4-5
  api_key: dummy
agent:
  max_tokens: 4096
  temperature: 0.7
skills:
  dir: ./skills
mcp:
  - id: search
    url: https://mcp.example.com/sse
  - id: local
    command: mcp-server
    args: ["--stdio"]
store:
  path: /tmp/loom-test.db
logging:
  level: debug
  format: json
metrics:
  addr: ":9464"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Provider.Name)
	require.Equal(t, "claude-sonnet-4-5", cfg.Provider.Model)
	require.Equal(t, 4096, cfg.Agent.MaxTokens)
	require.NotNil(t, cfg.Agent.Temperature)
	require.Equal(t, 0.7, *cfg.Agent.Temperature)
	require.Equal(t, "./skills", cfg.Skills.Dir)
	require.Len(t, cfg.MCP, 2)
	require.Equal(t, "search", cfg.MCP[0].ID)
	require.Equal(t, []string{"--stdio"}, cfg.MCP[1].Args)
	require.Equal(t, "/tmp/loom-test.db", cfg.Store.Path)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Provider.Name)
	require.Equal(t, llm.DefaultModel, cfg.Provider.Model)
	require.Nil(t, cfg.Agent.Temperature)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.Equal(t, filepath.Join(home, ".loom", "loom.db"), cfg.Store.Path)
	require.Empty(t, cfg.Metrics.Addr)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOOM_PROVIDER_NAME", "openai")
	t.Setenv("LOOM_PROVIDER_MODEL", "gpt-5.2")
	t.Setenv("LOOM_AGENT_MAX_TOKENS", "2048")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Provider.Name)
	require.Equal(t, "gpt-5.2", cfg.Provider.Model)
	require.Equal(t, 2048, cfg.Agent.MaxTokens)
}

func TestValidateProviderModelMismatch(t *testing.T) {
	cfg := Config{
		Provider: ProviderConfig{Name: "openai", Model: "sonnet"},
		Store:    StoreConfig{Path: "loom.db"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "anthropic")
}

func TestValidateUnknownModelPasses(t *testing.T) {
	cfg := Config{
		Provider: ProviderConfig{Name: "ollama", Model: "qwen3:8b"},
		Store:    StoreConfig{Path: "loom.db"},
	}
	require.NoError(t, cfg.Validate())
}

func TestValidateMCPEntries(t *testing.T) {
	base := func() Config {
		return Config{
			Provider: ProviderConfig{Name: "anthropic"},
			Store:    StoreConfig{Path: "loom.db"},
		}
	}

	cfg := base()
	cfg.MCP = []MCPServerConfig{{Command: "srv"}}
	require.Error(t, cfg.Validate(), "missing id")

	cfg = base()
	cfg.MCP = []MCPServerConfig{{ID: "a", Command: "srv", URL: "https://x"}}
	require.Error(t, cfg.Validate(), "both transports")

	cfg = base()
	cfg.MCP = []MCPServerConfig{{ID: "a"}}
	require.Error(t, cfg.Validate(), "no transport")

	cfg = base()
	cfg.MCP = []MCPServerConfig{{ID: "a", Command: "srv"}, {ID: "a", URL: "https://x"}}
	require.Error(t, cfg.Validate(), "duplicate id")

	cfg = base()
	cfg.MCP = []MCPServerConfig{{ID: "a", Command: "srv"}, {ID: "b", URL: "https://x"}}
	require.NoError(t, cfg.Validate())
}

func TestValidateTemperatureRange(t *testing.T) {
	bad := 2.5
	cfg := Config{
		Provider: ProviderConfig{Name: "anthropic"},
		Store:    StoreConfig{Path: "loom.db"},
		Agent:    AgentConfig{Temperature: &bad},
	}
	require.Error(t, cfg.Validate())
}
