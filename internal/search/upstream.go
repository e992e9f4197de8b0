package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Upstream queries a SearXNG instance through its JSON API.
type Upstream struct {
	baseURL string
	client  *http.Client
}

// NewUpstream creates a client for the SearXNG instance at baseURL.
func NewUpstream(baseURL string, timeout time.Duration) *Upstream {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Upstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SearchURL builds the /search URL. Parameters equal to their defaults
// are left out so SearXNG applies its own settings.
func (u *Upstream) SearchURL(p Params) string {
	p = p.withDefaults()
	var b strings.Builder
	b.WriteString(u.baseURL)
	b.WriteString("/search?q=")
	b.WriteString(url.QueryEscape(p.Query))
	b.WriteString("&format=json")
	if p.NumResults != DefaultResults {
		b.WriteString("&number=" + strconv.Itoa(p.NumResults))
	}
	if p.Language != DefaultLanguage {
		b.WriteString("&language=" + url.QueryEscape(p.Language))
	}
	if !slices.Equal(p.Categories, DefaultCategories) {
		for _, c := range p.Categories {
			b.WriteString("&category_" + url.QueryEscape(c) + "=1")
		}
	}
	return b.String()
}

// Search runs a query and returns SearXNG's JSON response untouched.
func (u *Upstream) Search(ctx context.Context, p Params) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.SearchURL(p), nil)
	if err != nil {
		return nil, fmt.Errorf("Search failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("SearXNG request failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Search failed: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("Search failed: upstream returned invalid JSON")
	}
	return body, nil
}

// Ping checks that the upstream answers at all.
func (u *Upstream) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("searxng unreachable at %s: %w", u.baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("searxng health: status %d", resp.StatusCode)
	}
	return nil
}
