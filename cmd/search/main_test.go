package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCategories(t *testing.T) {
	assert.Equal(t, []string{"general", "news"}, splitCategories("general, news,"))
	assert.Equal(t, []string{}, splitCategories(""))
}

func runSearch(t *testing.T, handler http.HandlerFunc, args ...string) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--url", srv.URL}, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestSearchPrintsOnlyFormattedResults(t *testing.T) {
	out := runSearch(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tools":
			w.Write([]byte(`[{"id":"searxng_search","name":"SearXNG Search"}]`))
		case "/tools/searxng_search/execute":
			w.Write([]byte(`{"execution_id":"e1","status":"in_progress"}`))
		default:
			w.Write([]byte(`{"status":"success","result":{"results":[{"title":"Go","url":"https://go.dev","content":"The Go language"}]}}`))
		}
	}, "golang")
	assert.Equal(t, "1. Go\n   URL: https://go.dev\n   The Go language\n\n", out)
}

func TestSearchErrorIsOutputNotExitStatus(t *testing.T) {
	out := runSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "golang")
	assert.Contains(t, out, "Error: Failed to discover tools: HTTP 500")

	out = runSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "--json", "golang")
	assert.Contains(t, out, `"error": "Failed to discover tools: HTTP 500"`)
}
