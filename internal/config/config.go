package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Agent     AgentConfig      `json:"agent" yaml:"agent"`
	Ollama    OllamaConfig     `json:"ollama" yaml:"ollama"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Embedding EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Supabase  SupabaseConfig   `json:"supabase" yaml:"supabase"`
	Knowledge KnowledgeConfig  `json:"knowledge" yaml:"knowledge"`
	MCP       MCPConfig        `json:"mcp" yaml:"mcp"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
	Database  DatabaseConfig   `json:"database" yaml:"database"`
	Search    SearchConfig     `json:"search" yaml:"search"`
}

type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	Development bool   `json:"development" yaml:"development"`
}

// AgentConfig describes the local agent identity and its LLM defaults.
type AgentConfig struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Model         string `json:"model" yaml:"model"`
	SystemPrompt  string `json:"system_prompt" yaml:"system_prompt"`
	MaxToolRounds int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
}

type OllamaConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

type ProviderConfig struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Models   []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

type SupabaseConfig struct {
	URL   string `json:"url" yaml:"url"`
	Key   string `json:"key" yaml:"key"`
	DBURL string `json:"db_url" yaml:"db_url"`
}

// KnowledgeConfig selects where knowledge-base documents live.
// Backend is one of "supabase", "postgres", "qdrant" or "none".
type KnowledgeConfig struct {
	Backend   string `json:"backend" yaml:"backend"`
	Table     string `json:"table" yaml:"table"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
}

// MCPConfig lists tool gateways. RateLimit (calls per second, per server)
// applies to tools flagged rate_limited; zero disables it.
type MCPConfig struct {
	Servers   []MCPServerConfig `json:"servers" yaml:"servers"`
	RateLimit float64           `json:"rate_limit" yaml:"rate_limit"`
	Burst     int               `json:"burst" yaml:"burst"`
}

type MCPServerConfig struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	URL          string `json:"url" yaml:"url"`
	Description  string `json:"description" yaml:"description"`
	AuthType     string `json:"auth_type" yaml:"auth_type"`
	Transport    string `json:"transport" yaml:"transport"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	TokenURL     string `json:"token_url" yaml:"token_url"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

// DiscordGatewayConfig configures the Discord bot. BroadcastChannel pins
// A2A broadcasts to one channel; by default each guild's first text
// channel is used.
type DiscordGatewayConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	BotToken         string `json:"bot_token" yaml:"bot_token"`
	BroadcastChannel string `json:"broadcast_channel" yaml:"broadcast_channel"`
}

type DatabaseConfig struct {
	Neo4j  Neo4jConfig  `json:"neo4j" yaml:"neo4j"`
	Redis  RedisConfig  `json:"redis" yaml:"redis"`
	Qdrant QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type QdrantConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// SearchConfig drives both the SearXNG gateway service and the search client.
type SearchConfig struct {
	Port                int     `json:"port" yaml:"port"`
	UpstreamURL         string  `json:"upstream_url" yaml:"upstream_url"`
	GatewayURL          string  `json:"gateway_url" yaml:"gateway_url"`
	RateLimit           float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst               int     `json:"burst" yaml:"burst"`
	TimeoutSeconds      int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	ExecutionTTLSeconds int     `json:"execution_ttl_seconds" yaml:"execution_ttl_seconds"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads an optional JSON or YAML config file, substitutes environment
// variable references, overlays the process environment and fills defaults.
// An empty path yields a config built from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(path, expandEnv(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	FromEnv(cfg, os.Getenv)
	cfg.applyDefaults()
	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(data), cfg)
	default:
		return json.Unmarshal([]byte(data), cfg)
	}
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = DefaultOllamaURL
	}
	c.Ollama.BaseURL = strings.TrimRight(c.Ollama.BaseURL, "/")
	if c.Ollama.Model == "" {
		c.Ollama.Model = DefaultModel
	}
	if c.Agent.Model == "" {
		c.Agent.Model = c.Ollama.Model
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "ProPosAgent"
	}
	if c.Agent.MaxToolRounds == 0 {
		c.Agent.MaxToolRounds = 5
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.Endpoint == "" && c.Embedding.Provider == "local" {
		c.Embedding.Endpoint = c.Ollama.BaseURL
	}
	if c.Knowledge.Backend == "" {
		c.Knowledge.Backend = "supabase"
	}
	if c.Knowledge.Table == "" {
		c.Knowledge.Table = DefaultTable
	}
	if c.Knowledge.BatchSize == 0 {
		c.Knowledge.BatchSize = 100
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].AuthType == "" {
			c.MCP.Servers[i].AuthType = "api_key"
		}
	}
	if c.Search.Port == 0 {
		c.Search.Port = 8080
	}
	if c.Search.UpstreamURL == "" {
		c.Search.UpstreamURL = "http://localhost:8888"
	}
	if c.Search.GatewayURL == "" {
		c.Search.GatewayURL = "http://localhost:8081"
	}
	if c.Search.RateLimit == 0 {
		c.Search.RateLimit = 5
	}
	if c.Search.Burst == 0 {
		c.Search.Burst = 10
	}
	if c.Search.TimeoutSeconds == 0 {
		c.Search.TimeoutSeconds = 30
	}
	if c.Search.ExecutionTTLSeconds == 0 {
		c.Search.ExecutionTTLSeconds = 600
	}
}

const (
	DefaultOllamaURL = "http://localhost:11434"
	DefaultModel     = "llama3"
	DefaultTable     = "knowledge_base"
)
