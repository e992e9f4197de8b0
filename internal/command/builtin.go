package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
)

// Hub is the part of the A2A hub the commands read and write.
type Hub interface {
	Agents(ctx context.Context) []a2a.AgentInfo
	AgentsWithCapability(ctx context.Context, capability string) []a2a.AgentInfo
	Threads() []a2a.ThreadSummary
	Thread(threadID string) (a2a.ThreadSummary, bool)
	ThreadHistory(threadID string) []a2a.Message
	Send(ctx context.Context, msg a2a.Message) (*a2a.SendReceipt, error)
}

// Tools lists MCP servers and their tools.
type Tools interface {
	Servers() []mcp.Server
	DiscoverTools(ctx context.Context, serverID string) ([]mcp.Tool, error)
}

// Knowledge searches the knowledge base.
type Knowledge interface {
	Search(ctx context.Context, table, text string, limit int, filter map[string]any) ([]knowledge.Document, error)
}

// StatusProvider reports chat adapter connections.
type StatusProvider interface {
	Status() []gateway.AdapterStatus
}

// Deps are the services behind the builtin commands. Commands whose
// service is nil are not registered.
type Deps struct {
	Hub       Hub
	Tools     Tools
	Knowledge Knowledge
	Status    StatusProvider
	// AgentID is the sender of /send messages.
	AgentID string
	// Table is the knowledge-base table /kb searches.
	Table string
}

// RegisterBuiltins registers /help plus every command deps can serve.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register(helpCommand(reg))
	if deps.Hub != nil {
		reg.Register(agentsCommand(deps.Hub))
		reg.Register(threadsCommand(deps.Hub))
		reg.Register(threadCommand(deps.Hub))
		if deps.AgentID != "" {
			reg.Register(sendCommand(deps.Hub, deps.AgentID))
		}
	}
	if deps.Tools != nil {
		reg.Register(serversCommand(deps.Tools))
		reg.Register(toolsCommand(deps.Tools))
	}
	if deps.Knowledge != nil {
		table := deps.Table
		if table == "" {
			table = "knowledge_base"
		}
		reg.Register(kbCommand(deps.Knowledge, table))
	}
	if deps.Status != nil {
		reg.Register(statusCommand(deps.Status))
	}
}

func text(s string) (*Result, error) { return &Result{Content: s}, nil }

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Anything else is sent to the agent.")
			return text(b.String())
		},
	}
}

func agentsCommand(hub Hub) *Command {
	return &Command{
		Name:        "agents",
		Description: "List registered agents, optionally by capability",
		Usage:       "/agents [capability]",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			agents := hub.Agents(ctx)
			if args != "" {
				agents = hub.AgentsWithCapability(ctx, args)
			}
			if len(agents) == 0 {
				if args != "" {
					return text(fmt.Sprintf("No agents with capability %q.", args))
				}
				return text("No agents registered.")
			}
			var b strings.Builder
			b.WriteString("Registered agents:\n")
			for _, a := range agents {
				fmt.Fprintf(&b, "  [%s] %s (%s)\n", a.ID, a.Name, strings.Join(a.Capabilities, ", "))
			}
			return &Result{Content: b.String(), Data: agents}, nil
		},
	}
}

func threadsCommand(hub Hub) *Command {
	return &Command{
		Name:        "threads",
		Description: "List conversation threads, most recent first",
		Usage:       "/threads",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			threads := hub.Threads()
			if len(threads) == 0 {
				return text("No conversation threads yet.")
			}
			var b strings.Builder
			b.WriteString("Threads:\n")
			for _, t := range threads {
				fmt.Fprintf(&b, "  %s  %q  %d message(s), %s\n",
					t.ThreadID, t.Title, t.MessageCount, strings.Join(t.Participants, ", "))
			}
			return &Result{Content: b.String(), Data: threads}, nil
		},
	}
}

func threadCommand(hub Hub) *Command {
	return &Command{
		Name:        "thread",
		Description: "Show the messages of one thread",
		Usage:       "/thread <thread_id>",
		Handler: func(_ context.Context, args string, _ *Context) (*Result, error) {
			if args == "" {
				return text("Usage: /thread <thread_id>")
			}
			summary, ok := hub.Thread(args)
			if !ok {
				return text(fmt.Sprintf("Thread %s not found.", args))
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Thread %s: %s\n", summary.ThreadID, summary.Title)
			for _, m := range hub.ThreadHistory(args) {
				fmt.Fprintf(&b, "  [%s] %s -> %s (%s): %s\n",
					m.Timestamp.Format("15:04:05"), m.SenderID, m.RecipientID, m.Type, m.Content)
			}
			return &Result{Content: b.String(), Data: summary}, nil
		},
	}
}

func sendCommand(hub Hub, senderID string) *Command {
	return &Command{
		Name:        "send",
		Description: "Send an A2A message from this agent",
		Usage:       "/send <agent_id|broadcast> <text>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			recipient, content, _ := strings.Cut(args, " ")
			content = strings.TrimSpace(content)
			if recipient == "" || content == "" {
				return text("Usage: /send <agent_id|broadcast> <text>")
			}
			receipt, err := hub.Send(ctx, a2a.NewMessage(senderID, recipient, content))
			if err != nil {
				return text(fmt.Sprintf("Send failed: %v", err))
			}
			return &Result{
				Content: fmt.Sprintf("Sent %s (thread %s).", receipt.MessageID, receipt.ThreadID),
				Data:    receipt,
			}, nil
		},
	}
}

func serversCommand(tools Tools) *Command {
	return &Command{
		Name:        "servers",
		Description: "List configured MCP servers",
		Usage:       "/servers",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			servers := tools.Servers()
			if len(servers) == 0 {
				return text("No MCP servers configured.")
			}
			var b strings.Builder
			b.WriteString("MCP servers:\n")
			for _, s := range servers {
				fmt.Fprintf(&b, "  [%s] %s %s (%s, %d tools)\n", s.ID, s.Name, s.URL, s.Transport, len(s.Tools))
			}
			return &Result{Content: b.String(), Data: servers}, nil
		},
	}
}

func toolsCommand(tools Tools) *Command {
	return &Command{
		Name:        "tools",
		Description: "Discover the tools of an MCP server",
		Usage:       "/tools <server_id>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			if args == "" {
				return text("Usage: /tools <server_id>")
			}
			list, err := tools.DiscoverTools(ctx, args)
			if err != nil {
				return text(fmt.Sprintf("Tool discovery failed: %v", err))
			}
			if len(list) == 0 {
				return text(fmt.Sprintf("Server %s exposes no tools.", args))
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Tools on %s:\n", args)
			for _, t := range list {
				fmt.Fprintf(&b, "  - %s: %s\n", t.ID, t.Description)
			}
			return &Result{Content: b.String(), Data: list}, nil
		},
	}
}

func kbCommand(kb Knowledge, table string) *Command {
	return &Command{
		Name:        "kb",
		Description: "Search the knowledge base",
		Usage:       "/kb <query>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			if args == "" {
				return text("Usage: /kb <query>")
			}
			docs, err := kb.Search(ctx, table, args, knowledge.DefaultResults, nil)
			if err != nil {
				return text(fmt.Sprintf("Knowledge base search failed: %v", err))
			}
			return &Result{Content: knowledge.FormatContext(docs), Data: docs}, nil
		},
	}
}

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show chat adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			adapters := provider.Status()
			if len(adapters) == 0 {
				return text("No adapters configured.")
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &Result{Content: b.String(), Data: adapters}, nil
		},
	}
}
