package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaProvider talks to a local Ollama runtime over its native HTTP API.
type OllamaProvider struct {
	config ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOllamaProvider creates an Ollama provider. Endpoint defaults to
// http://localhost:11434.
func NewOllamaProvider(cfg ProviderConfig, logger *zap.Logger) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.ID == "" {
		cfg.ID = "ollama"
	}
	if cfg.Name == "" {
		cfg.Name = "Ollama"
	}
	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *OllamaProvider) ID() string   { return p.config.ID }
func (p *OllamaProvider) Name() string { return p.config.Name }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []Tool          `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (p *OllamaProvider) buildRequest(req *ChatRequest, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" && len(p.config.Models) > 0 {
		model = p.config.Models[0]
	}

	// Tool results in Ollama are keyed by tool name, not call id.
	callNames := make(map[string]string)
	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			args := strings.TrimSpace(tc.Function.Arguments)
			if args == "" {
				args = "{}"
			}
			call.Function.Arguments = json.RawMessage(args)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		if m.Role == RoleTool {
			om.ToolName = m.Name
			if om.ToolName == "" {
				om.ToolName = callNames[m.ToolCallID]
			}
		}
		msgs = append(msgs, om)
	}

	out := ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Tools:    req.Tools,
		Stream:   stream,
	}
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		opts["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		opts["stop"] = req.Stop
	}
	if len(opts) > 0 {
		out.Options = opts
	}
	return out
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

// Chat sends a non-streaming /api/chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, "/api/chat", p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}

	calls := convertToolCalls(out.Message.ToolCalls)
	finish := out.DoneReason
	if len(calls) > 0 {
		finish = FinishToolCalls
	}
	return &ChatResponse{
		Model:        out.Model,
		Content:      out.Message.Content,
		ToolCalls:    calls,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func convertToolCalls(in []ollamaToolCall) []ToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(in))
	for i, c := range in {
		args := string(c.Function.Arguments)
		// Some models return arguments as a JSON string instead of an object.
		var s string
		if json.Unmarshal(c.Function.Arguments, &s) == nil {
			args = s
		}
		if args == "" || args == "null" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Type: "function",
			Function: ToolCallFunction{
				Name:      c.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}

// ChatStream sends a streaming /api/chat request. Ollama streams one JSON
// object per line.
func (p *OllamaProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	resp, err := p.post(ctx, "/api/chat", p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan *StreamChunk, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				p.logger.Warn("skip malformed stream line", zap.Error(err))
				continue
			}
			if part.Error != "" {
				ch <- &StreamChunk{Done: true, Err: fmt.Errorf("ollama error: %s", part.Error)}
				return
			}
			chunk := &StreamChunk{
				Content:   part.Message.Content,
				ToolCalls: convertToolCalls(part.Message.ToolCalls),
				Done:      part.Done,
			}
			if part.Done {
				chunk.FinishReason = part.DoneReason
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- &StreamChunk{Done: true, Err: fmt.Errorf("read stream: %w", err)}
		}
	}()
	return ch, nil
}

// ListModels returns the locally pulled models from /api/tags.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
			Size  int64  `json:"size"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]Model, len(result.Models))
	for i, m := range result.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		models[i] = Model{ID: id, Name: m.Name, Provider: p.config.ID, Size: m.Size}
	}
	return models, nil
}

// HealthCheck verifies the Ollama runtime is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", p.config.Endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health: status %d", resp.StatusCode)
	}
	return nil
}
