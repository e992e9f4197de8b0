package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadMCPServersStopsAtGap(t *testing.T) {
	servers := LoadMCPServers(envMap(map[string]string{
		"MCP_SERVER_1_URL":       "http://one",
		"MCP_SERVER_1_NAME":      "One",
		"MCP_SERVER_1_API_KEY":   "k1",
		"MCP_SERVER_2_URL":       "http://two",
		"MCP_SERVER_2_AUTH_TYPE": "oauth",
		"MCP_SERVER_4_URL":       "http://four",
	}))

	require.Len(t, servers, 2)
	assert.Equal(t, "One", servers[0].Name)
	assert.Equal(t, "api_key", servers[0].AuthType)
	assert.Equal(t, "k1", servers[0].APIKey)
	assert.Equal(t, "oauth", servers[1].AuthType)
}

func TestLoadYAMLWithSubstitution(t *testing.T) {
	t.Setenv("PROPOS_TEST_TABLE", "docs")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 9000
knowledge:
  table: ${PROPOS_TEST_TABLE}
  backend: ${PROPOS_TEST_MISSING:qdrant}
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "docs", cfg.Knowledge.Table)
	assert.Equal(t, "qdrant", cfg.Knowledge.Backend)
}

func TestLoadJSONDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama":{"base_url":"http://ollama:11434/"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ollama:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Agent.Model)
	assert.Equal(t, DefaultTable, cfg.Knowledge.Table)
	assert.Equal(t, 100, cfg.Knowledge.BatchSize)
	assert.Equal(t, "http://ollama:11434", cfg.Embedding.Endpoint)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestFromEnvOverlay(t *testing.T) {
	cfg := &Config{}
	FromEnv(cfg, envMap(map[string]string{
		"SUPABASE_URL":              "https://x.supabase.co",
		"SUPABASE_KEY":              "secret",
		"PORT":                      "4000",
		"SLACK_BOT_TOKEN":           "xoxb",
		"DISCORD_BROADCAST_CHANNEL": "123",
		"MCP_SERVER_1_URL":          "http://tools",
	}))

	assert.Equal(t, "https://x.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.True(t, cfg.Gateway.Slack.Enabled)
	assert.False(t, cfg.Gateway.Discord.Enabled)
	assert.Equal(t, "123", cfg.Gateway.Discord.BroadcastChannel)
	require.Len(t, cfg.MCP.Servers, 1)
}

func TestValidateListsEverythingMissing(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate(RequireSupabase, RequireOllama)
	require.Error(t, err)
	assert.Equal(t, "missing required configuration: SUPABASE_URL, SUPABASE_KEY, OLLAMA_BASE_URL", err.Error())

	cfg.Supabase = SupabaseConfig{URL: "u", Key: "k"}
	cfg.Ollama.BaseURL = "http://o"
	assert.NoError(t, cfg.Validate(RequireSupabase, RequireOllama))
}

func TestKnowledgeRequirements(t *testing.T) {
	cfg := &Config{Knowledge: KnowledgeConfig{Backend: "postgres"}}
	assert.Equal(t, []Requirement{RequireSupabaseDB}, cfg.KnowledgeRequirements())
	cfg.Knowledge.Backend = "qdrant"
	assert.Empty(t, cfg.KnowledgeRequirements())
	cfg.Knowledge.Backend = "none"
	assert.Empty(t, cfg.KnowledgeRequirements())
	cfg.Knowledge.Backend = ""
	assert.Equal(t, []Requirement{RequireSupabase}, cfg.KnowledgeRequirements())
}
