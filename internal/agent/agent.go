// Package agent runs the LLM tool loop: knowledge-base retrieval, MCP
// tool calls and A2A messaging exposed to the model as function tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/nidhogg/proposagent/internal/provider"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	DefaultModel         = "llama3"
	DefaultTable         = "knowledge_base"
	DefaultMaxToolRounds = 5

	DefaultSystemPrompt = "You are a helpful assistant that can complete various tasks using tools. " +
		"You have access to a knowledge base and can collaborate with other agents " +
		"using the A2A protocol. You can call MCP servers for tool execution and access advanced capabilities."
)

// Capabilities are advertised to the hub while the agent runs.
var Capabilities = []string{"text_processing", "knowledge_retrieval", "tool_execution"}

var ErrToolRoundsExceeded = errors.New("tool round limit reached without an answer")

// ChatRouter sends a chat request on behalf of an agent.
type ChatRouter interface {
	Route(ctx context.Context, agentID string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Knowledge searches the knowledge base.
type Knowledge interface {
	Search(ctx context.Context, table, text string, limit int, filter map[string]any) ([]knowledge.Document, error)
}

// ToolGateway discovers and runs MCP tools.
type ToolGateway interface {
	Servers() []mcp.Server
	DiscoverTools(ctx context.Context, serverID string) ([]mcp.Tool, error)
	ExecuteTool(ctx context.Context, toolID string, params map[string]any, opts mcp.ExecuteOptions) (mcp.ToolResponse, error)
}

// Hub is the A2A messaging hub.
type Hub interface {
	Register(ctx context.Context, info a2a.AgentInfo) error
	Unregister(ctx context.Context, agentID string) error
	Send(ctx context.Context, msg a2a.Message) (*a2a.SendReceipt, error)
	Agents(ctx context.Context) []a2a.AgentInfo
	AgentsWithCapability(ctx context.Context, capability string) []a2a.AgentInfo
	MatchAgents(ctx context.Context, description string) []a2a.AgentInfo
	Receive(agentID string) []a2a.Message
}

// Config is the agent's identity and LLM settings.
type Config struct {
	ID            string
	Name          string
	Model         string
	SystemPrompt  string
	Table         string
	MaxToolRounds int
}

// Deps are the services the agent's tools use. Nil services leave their
// tools unregistered.
type Deps struct {
	Router    ChatRouter
	Knowledge Knowledge
	Tools     ToolGateway
	Hub       Hub
}

// Agent is one LLM-backed participant.
type Agent struct {
	cfg    Config
	deps   Deps
	tools  *ToolRegistry
	logger *zap.Logger
}

// New creates an agent. Router is required.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Agent, error) {
	if deps.Router == nil {
		return nil, errors.New("agent: chat router is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}

	a := &Agent{cfg: cfg, deps: deps, tools: NewToolRegistry(), logger: logger.With(zap.String("agent", cfg.ID))}
	registerBuiltinTools(a.tools, a)
	return a, nil
}

func (a *Agent) ID() string    { return a.cfg.ID }
func (a *Agent) Name() string  { return a.cfg.Name }
func (a *Agent) Model() string { return a.cfg.Model }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *ToolRegistry { return a.tools }

// Info is the agent's hub registry entry.
func (a *Agent) Info() a2a.AgentInfo {
	return a2a.AgentInfo{
		ID:           a.cfg.ID,
		Name:         a.cfg.Name,
		Capabilities: append([]string(nil), Capabilities...),
		Metadata:     map[string]any{"model": a.cfg.Model},
	}
}

// RunOptions adjusts a single Run.
type RunOptions struct {
	// Table overrides the knowledge-base table.
	Table string
	// History is prepended to the user input, after the system prompt.
	History []provider.Message
}

// Metadata identifies who produced a Response.
type Metadata struct {
	AgentID string `json:"agent_id"`
	Model   string `json:"model"`
}

// Response is the outcome of a Run.
type Response struct {
	Status   string         `json:"status"`
	Data     string         `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata Metadata       `json:"metadata"`
	Usage    provider.Usage `json:"usage"`
	Trace    *Trace         `json:"trace,omitempty"`
}

type runKey struct{}

type runState struct {
	table string
}

func (s *runState) tableOr(fallback string) string {
	if s.table != "" {
		return s.table
	}
	return fallback
}

func stateFrom(ctx context.Context) *runState {
	if s, ok := ctx.Value(runKey{}).(*runState); ok {
		return s
	}
	return &runState{}
}

// Run answers input. The agent is registered with the hub for the
// duration of the call unless it is already registered.
func (a *Agent) Run(ctx context.Context, input string, opts RunOptions) Response {
	meta := Metadata{AgentID: a.cfg.ID, Model: a.cfg.Model}

	if a.deps.Hub != nil {
		err := a.deps.Hub.Register(ctx, a.Info())
		switch {
		case err == nil:
			defer func() {
				if err := a.deps.Hub.Unregister(context.WithoutCancel(ctx), a.cfg.ID); err != nil {
					a.logger.Warn("unregister agent", zap.Error(err))
				}
			}()
		case errors.Is(err, a2a.ErrAlreadyRegistered):
		default:
			a.logger.Error("register agent", zap.Error(err))
			return Response{Status: StatusError, Error: err.Error(), Metadata: meta}
		}
	}

	table := opts.Table
	if table == "" {
		table = a.cfg.Table
	}
	trace := &Trace{ID: uuid.New().String(), AgentID: a.cfg.ID, StartedAt: time.Now()}
	ctx = context.WithValue(ctx, runKey{}, &runState{table: table})

	content, usage, err := a.loop(ctx, input, opts.History, trace)
	trace.Duration = time.Since(trace.StartedAt)
	if err != nil {
		a.logger.Error("agent run failed", zap.Error(err))
		return Response{Status: StatusError, Error: err.Error(), Metadata: meta, Usage: usage, Trace: trace}
	}
	return Response{Status: StatusSuccess, Data: content, Metadata: meta, Usage: usage, Trace: trace}
}

func (a *Agent) loop(ctx context.Context, input string, history []provider.Message, trace *Trace) (string, provider.Usage, error) {
	msgs := make([]provider.Message, 0, len(history)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: a.cfg.SystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: input})

	req := &provider.ChatRequest{Model: a.cfg.Model, Messages: msgs}
	if defs := a.tools.Definitions(); len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = "auto"
	}

	var usage provider.Usage
	for round := 0; ; round++ {
		trace.add(StepReasoning, "", "Sending request to LLM")
		resp, err := a.deps.Router.Route(ctx, a.cfg.ID, req)
		if err != nil {
			return "", usage, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			trace.Steps = append(trace.Steps, Step{
				Type:       StepResponse,
				Content:    resp.Content,
				Timestamp:  time.Now(),
				TokensUsed: resp.Usage.TotalTokens,
			})
			return resp.Content, usage, nil
		}
		if round >= a.cfg.MaxToolRounds {
			return "", usage, fmt.Errorf("%w (%d rounds)", ErrToolRoundsExceeded, a.cfg.MaxToolRounds)
		}
		trace.Rounds++

		req.Messages = append(req.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			trace.add(StepToolCall, tc.Function.Name, tc.Function.Arguments)
			result, err := a.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				result = errorResult(err)
			}
			trace.add(StepToolResult, tc.Function.Name, truncate(result, 200))
			req.Messages = append(req.Messages, provider.Message{
				Role:       provider.RoleTool,
				Name:       tc.Function.Name,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}

		a.logger.Debug("tool round complete",
			zap.Int("round", round+1),
			zap.Int("tool_calls", len(resp.ToolCalls)))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
