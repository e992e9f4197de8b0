// Package search wraps a SearXNG instance as an MCP tool gateway and
// provides the client used to query it.
package search

import (
	"slices"
)

const (
	ToolID      = "searxng_search"
	ToolName    = "SearXNG Search"
	ServiceName = "SearXNG MCP"
	Version     = "1.0.0"

	DefaultResults  = 5
	DefaultLanguage = "all"

	serviceDescription = "MCP-compatible API for SearXNG search engine"
	toolDescription    = "Search the web using SearXNG metasearch engine"
)

// DefaultCategories is used when a request names none.
var DefaultCategories = []string{"general"}

// Params are the searxng_search tool parameters.
type Params struct {
	Query      string   `json:"query"`
	NumResults int      `json:"num_results"`
	Language   string   `json:"language"`
	Categories []string `json:"categories"`
}

// withDefaults fills unset fields. An explicit empty category list is
// kept as given.
func (p Params) withDefaults() Params {
	if p.NumResults == 0 {
		p.NumResults = DefaultResults
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.Categories == nil {
		p.Categories = slices.Clone(DefaultCategories)
	}
	return p
}

// Descriptor is the tool entry served on GET /tools.
func Descriptor() map[string]any {
	return map[string]any{
		"id":          ToolID,
		"name":        ToolName,
		"description": toolDescription,
		"version":     Version,
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"num_results": map[string]any{
					"type":        "integer",
					"description": "Number of results to return",
					"default":     DefaultResults,
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language filter",
					"default":     DefaultLanguage,
				},
				"categories": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Search categories",
					"default":     DefaultCategories,
				},
			},
			"required": []string{"query"},
		},
		"returns": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"results": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "object"},
					"description": "The search results",
				},
			},
		},
		"is_streaming":  false,
		"auth_required": false,
		"rate_limited":  false,
		"auth_type":     "none",
	}
}
