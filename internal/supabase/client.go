// Package supabase is a minimal PostgREST client for a hosted Supabase
// project: table inserts and RPC calls authenticated with the project key.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by New when the URL or key is missing.
var ErrNotConfigured = errors.New("supabase url and key are required")

// Client talks to a Supabase project's REST endpoint.
type Client struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the project at projectURL.
func New(projectURL, key string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if projectURL == "" || key == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL: strings.TrimRight(projectURL, "/") + "/rest/v1",
		key:     key,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// APIError is a PostgREST error body plus the HTTP status.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("supabase %d: %s", e.StatusCode, msg)
}

// Insert writes rows into table and decodes the inserted representation
// into out when out is non-nil.
func (c *Client) Insert(ctx context.Context, table string, rows any, out any) error {
	path := "/" + url.PathEscape(table)
	if err := c.do(ctx, path, rows, out, "return=representation"); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// RPC calls a Postgres function exposed through PostgREST.
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	path := "/rpc/" + url.PathEscape(fn)
	if err := c.do(ctx, path, params, out, ""); err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, payload, out any, prefer string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		c.logger.Debug("supabase request failed",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
