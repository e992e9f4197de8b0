package mcp

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

// restTransport speaks the REST tool gateway protocol:
// GET /tools, POST /tools/{id}/execute and GET /tools/{id}/executions/{eid}.
type restTransport struct {
	server *Server
	client *http.Client
}

func newRESTTransport(srv *Server, hc *http.Client) *restTransport {
	return &restTransport{server: srv, client: hc}
}

func (t *restTransport) Close() error { return nil }

func (t *restTransport) Discover(ctx context.Context) ([]Tool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.server.URL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover tools: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeTools(body)
}

// decodeTools accepts {"tools": [...]} or a bare array.
func decodeTools(body []byte) ([]Tool, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var tools []Tool
		if err := json.Unmarshal(body, &tools); err != nil {
			return nil, fmt.Errorf("decode tools: %w", err)
		}
		return tools, nil
	}
	var wrapped struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	if wrapped.Tools == nil {
		wrapped.Tools = []Tool{}
	}
	return wrapped.Tools, nil
}

type executionStatus struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id"`
	Result      any    `json:"result"`
	Error       string `json:"error"`
}

func (t *restTransport) Execute(ctx context.Context, tool Tool, params map[string]any, opts ExecuteOptions) ToolResponse {
	body, err := json.Marshal(map[string]any{"parameters": params})
	if err != nil {
		return errorResponse("marshal parameters: %v", err)
	}
	url := fmt.Sprintf("%s/tools/%s/execute", t.server.URL, tool.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errorResponse("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var st executionStatus
	code, err := t.doJSON(req, &st)
	if err != nil {
		return errorResponse("Failed to connect to MCP server: %v", err)
	}
	if code != http.StatusOK && code != http.StatusAccepted {
		return errorResponse("Failed to execute tool: status %d", code)
	}
	if st.Status == "" {
		st.Status = StatusError
	}

	out := ToolResponse{Status: st.Status, ExecutionID: st.ExecutionID, Result: st.Result, Error: st.Error}
	if out.Status == StatusInProgress && out.ExecutionID != "" && opts.Wait {
		return t.wait(ctx, tool.ID, out.ExecutionID, opts)
	}
	return out
}

// wait polls an execution until it reaches a terminal status.
func (t *restTransport) wait(ctx context.Context, toolID, executionID string, opts ExecuteOptions) ToolResponse {
	deadline := time.Now().Add(opts.Timeout)
	url := fmt.Sprintf("%s/tools/%s/executions/%s", t.server.URL, toolID, executionID)
	timedOut := ToolResponse{Status: StatusError, ExecutionID: executionID, Error: "Execution timed out"}

	for attempt := 0; opts.MaxAttempts <= 0 || attempt < opts.MaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			return timedOut
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errorResponse("create request: %v", err)
		}
		var st executionStatus
		code, err := t.doJSON(req, &st)
		if err != nil {
			r := errorResponse("Failed to check execution status: %v", err)
			r.ExecutionID = executionID
			return r
		}
		if code != http.StatusOK {
			r := errorResponse("Failed to check execution status: status %d", code)
			r.ExecutionID = executionID
			return r
		}
		if st.Status == StatusSuccess || st.Status == StatusError {
			return ToolResponse{Status: st.Status, ExecutionID: executionID, Result: st.Result, Error: st.Error}
		}

		select {
		case <-ctx.Done():
			r := errorResponse("%v", ctx.Err())
			r.ExecutionID = executionID
			return r
		case <-time.After(opts.PollInterval):
		}
	}
	return timedOut
}

// doJSON performs req and decodes a JSON body into out when the status
// is 2xx.
func (t *restTransport) doJSON(req *http.Request, out any) (int, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
