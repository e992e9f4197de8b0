package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchURL(t *testing.T) {
	u := NewUpstream("http://searx:8888/", 0)

	tests := []struct {
		name string
		in   Params
		want string
	}{
		{"defaults", Params{Query: "go lang"}, "http://searx:8888/search?q=go+lang&format=json"},
		{"explicit defaults", Params{Query: "x", NumResults: 5, Language: "all", Categories: []string{"general"}},
			"http://searx:8888/search?q=x&format=json"},
		{"number", Params{Query: "x", NumResults: 10}, "http://searx:8888/search?q=x&format=json&number=10"},
		{"language", Params{Query: "x", Language: "de"}, "http://searx:8888/search?q=x&format=json&language=de"},
		{"categories", Params{Query: "x", Categories: []string{"news", "it"}},
			"http://searx:8888/search?q=x&format=json&category_news=1&category_it=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, u.SearchURL(tt.in))
		})
	}
}

func TestUpstreamSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"results":[{"title":"Go"}]}`))
	}))
	defer srv.Close()
	u := NewUpstream(srv.URL, 0)

	got, err := u.Search(context.Background(), Params{Query: "go"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[{"title":"Go"}]}`, string(got))

	_, err = u.Search(context.Background(), Params{Query: "boom"})
	require.Error(t, err)
	assert.Equal(t, "SearXNG request failed with status 502", err.Error())

	srv.Close()
	_, err = u.Search(context.Background(), Params{Query: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Search failed: ")
}
