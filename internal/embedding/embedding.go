// Package embedding turns text into vectors for the knowledge base.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider    string `json:"provider"` // "api" or "local"
	Endpoint    string `json:"endpoint"`
	Model       string `json:"model"`
	APIKey      string `json:"api_key"`
	Dimension   int    `json:"dimension"`
	Concurrency int    `json:"concurrency"`
}

// DefaultLocalModel is the Ollama embedding model used when none is configured.
const DefaultLocalModel = "nomic-embed-text"

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	switch cfg.Provider {
	case "local", "ollama", "":
		return NewLocalProvider(cfg), nil
	case "api", "openai":
		return NewAPIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// dimension remembers the configured vector size until the first real
// embedding reports the actual one.
type dimension struct {
	configured int
	observed   atomic.Int64
}

func (d *dimension) observe(vecs [][]float32) {
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vecs[0])))
	}
}

func (d *dimension) get() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}
