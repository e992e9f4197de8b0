package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Requirement names a setting that must be present before a command can run.
type Requirement string

const (
	RequireSupabase   Requirement = "supabase"
	RequireOllama     Requirement = "ollama"
	RequireSupabaseDB Requirement = "supabase_db"
)

// FromEnv overlays environment variables onto cfg. Non-empty values win
// over whatever the config file provided.
func FromEnv(cfg *Config, getenv func(string) string) {
	str := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	num(&cfg.Server.Port, "PORT")
	str(&cfg.Server.LogLevel, "LOG_LEVEL")

	str(&cfg.Agent.ID, "AGENT_ID")
	str(&cfg.Agent.Name, "AGENT_NAME")
	str(&cfg.Ollama.BaseURL, "OLLAMA_BASE_URL")
	str(&cfg.Ollama.Model, "OLLAMA_MODEL")

	str(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	str(&cfg.Embedding.Endpoint, "EMBEDDING_ENDPOINT")
	str(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	str(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")

	str(&cfg.Supabase.URL, "SUPABASE_URL")
	str(&cfg.Supabase.Key, "SUPABASE_KEY")
	str(&cfg.Supabase.DBURL, "SUPABASE_DB_URL")
	str(&cfg.Knowledge.Backend, "KNOWLEDGE_BACKEND")

	str(&cfg.Database.Redis.Addr, "REDIS_ADDR")
	str(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	str(&cfg.Database.Neo4j.URI, "NEO4J_URI")
	str(&cfg.Database.Neo4j.User, "NEO4J_USER")
	str(&cfg.Database.Neo4j.Password, "NEO4J_PASSWORD")
	str(&cfg.Database.Qdrant.Host, "QDRANT_HOST")
	num(&cfg.Database.Qdrant.Port, "QDRANT_PORT")

	if v := getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Gateway.Slack.Enabled = true
		cfg.Gateway.Slack.BotToken = v
	}
	str(&cfg.Gateway.Slack.AppToken, "SLACK_APP_TOKEN")
	if v := getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Gateway.Discord.Enabled = true
		cfg.Gateway.Discord.BotToken = v
	}
	str(&cfg.Gateway.Discord.BroadcastChannel, "DISCORD_BROADCAST_CHANNEL")

	str(&cfg.Search.UpstreamURL, "SEARXNG_URL")
	str(&cfg.Search.GatewayURL, "SEARCH_GATEWAY_URL")
	num(&cfg.Search.Port, "SEARCH_PORT")

	cfg.MCP.Servers = append(cfg.MCP.Servers, LoadMCPServers(getenv)...)
}

// LoadMCPServers scans MCP_SERVER_1_*, MCP_SERVER_2_*, ... and stops at
// the first index without a URL.
func LoadMCPServers(getenv func(string) string) []MCPServerConfig {
	var servers []MCPServerConfig
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("MCP_SERVER_%d_", i)
		url := getenv(prefix + "URL")
		if url == "" {
			return servers
		}
		s := MCPServerConfig{
			Name:         getenv(prefix + "NAME"),
			URL:          url,
			Description:  getenv(prefix + "DESCRIPTION"),
			AuthType:     getenv(prefix + "AUTH_TYPE"),
			Transport:    getenv(prefix + "TRANSPORT"),
			APIKey:       getenv(prefix + "API_KEY"),
			ClientID:     getenv(prefix + "CLIENT_ID"),
			ClientSecret: getenv(prefix + "CLIENT_SECRET"),
			TokenURL:     getenv(prefix + "TOKEN_URL"),
		}
		if s.AuthType == "" {
			s.AuthType = "api_key"
		}
		servers = append(servers, s)
	}
}

// Validate reports every missing setting named by reqs in a single error.
func (c *Config) Validate(reqs ...Requirement) error {
	var missing []string
	for _, r := range reqs {
		switch r {
		case RequireSupabase:
			if c.Supabase.URL == "" {
				missing = append(missing, "SUPABASE_URL")
			}
			if c.Supabase.Key == "" {
				missing = append(missing, "SUPABASE_KEY")
			}
		case RequireSupabaseDB:
			if c.Supabase.DBURL == "" {
				missing = append(missing, "SUPABASE_DB_URL")
			}
		case RequireOllama:
			if c.Ollama.BaseURL == "" {
				missing = append(missing, "OLLAMA_BASE_URL")
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// KnowledgeRequirements returns the settings the selected knowledge
// backend needs.
func (c *Config) KnowledgeRequirements() []Requirement {
	switch c.Knowledge.Backend {
	case "postgres":
		return []Requirement{RequireSupabaseDB}
	case "qdrant", "none":
		return nil
	default:
		return []Requirement{RequireSupabase}
	}
}
