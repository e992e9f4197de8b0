package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error is a failed search as reported to the user. Details carries the
// gateway's response body when there is one.
type Error struct {
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Client talks to a search gateway: it discovers the search tool,
// starts an execution and polls for its result.
type Client struct {
	baseURL      string
	http         *http.Client
	maxAttempts  int
	pollInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPolling overrides how many times and how often results are polled.
func WithPolling(attempts int, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.maxAttempts, c.pollInterval = attempts, interval
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the gateway at baseURL. It polls up to
// 10 times, 500ms apart.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		maxAttempts:  10,
		pollInterval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type toolEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type executionReply struct {
	Status      string          `json:"status"`
	ExecutionID string          `json:"execution_id"`
	Result      json.RawMessage `json:"result"`
	Error       *string         `json:"error"`
}

// Search runs a query and returns the raw SearXNG result. Every failure
// is an *Error.
func (c *Client) Search(ctx context.Context, p Params) (json.RawMessage, error) {
	p = p.withDefaults()

	toolID, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{"parameters": p})
	status, respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/tools/%s/execute", c.baseURL, toolID), body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &Error{Message: fmt.Sprintf("Failed to execute search: HTTP %d", status), Details: string(respBody)}
	}
	var started executionReply
	if err := json.Unmarshal(respBody, &started); err != nil {
		return nil, &Error{Message: fmt.Sprintf("Unexpected error: %v", err)}
	}
	if started.ExecutionID == "" {
		return nil, &Error{Message: "No execution ID received"}
	}

	return c.poll(ctx, fmt.Sprintf("%s/tools/%s/executions/%s", c.baseURL, toolID, started.ExecutionID))
}

// discover returns the id of the first tool whose name mentions search.
func (c *Client) discover(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &Error{Message: fmt.Sprintf("Failed to discover tools: HTTP %d", status), Details: string(body)}
	}
	var tools []toolEntry
	if err := json.Unmarshal(body, &tools); err != nil {
		return "", &Error{Message: fmt.Sprintf("Unexpected error: %v", err)}
	}
	for _, t := range tools {
		if strings.Contains(strings.ToLower(t.Name), "search") {
			return t.ID, nil
		}
	}
	return "", &Error{Message: "Search tool not found in MCP"}
}

func (c *Client) poll(ctx context.Context, url string) (json.RawMessage, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, body, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, &Error{Message: fmt.Sprintf("Failed to get results: HTTP %d", status), Details: string(body)}
		}
		var reply executionReply
		if err := json.Unmarshal(body, &reply); err != nil {
			return nil, &Error{Message: fmt.Sprintf("Unexpected error: %v", err)}
		}
		switch reply.Status {
		case StatusSuccess:
			if len(reply.Result) == 0 || string(reply.Result) == "null" {
				return json.RawMessage("{}"), nil
			}
			return reply.Result, nil
		case StatusError:
			msg := "Unknown error"
			if reply.Error != nil {
				msg = *reply.Error
			}
			return nil, &Error{Message: msg}
		}

		select {
		case <-ctx.Done():
			return nil, &Error{Message: fmt.Sprintf("Request error: %v", ctx.Err())}
		case <-time.After(c.pollInterval):
		}
	}
	return nil, &Error{Message: "Timed out waiting for results"}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, &Error{Message: fmt.Sprintf("Request error: %v", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Message: fmt.Sprintf("Request error: %v", err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{Message: fmt.Sprintf("Request error: %v", err)}
	}
	return resp.StatusCode, respBody, nil
}
