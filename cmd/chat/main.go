package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	agentColor = color.New(color.FgCyan, color.Bold)
	errColor   = color.New(color.FgRed)
	okColor    = color.New(color.FgGreen)
	dimColor   = color.New(color.Faint)
)

func main() {
	var server, user string
	root := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a ProPosAgent server from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := &chatClient{
				server: strings.TrimRight(server, "/"),
				user:   user,
				http:   &http.Client{Timeout: 65 * time.Second},
			}
			return c.repl(cmd.InOrStdin())
		},
	}
	root.Flags().StringVar(&server, "server", "http://localhost:3210", "agent server URL")
	root.Flags().StringVar(&user, "user", "cli-user", "user name sent with each message")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type chatClient struct {
	server string
	user   string
	http   *http.Client
}

func (c *chatClient) repl(in io.Reader) error {
	fmt.Println("ProPosAgent chat")
	dimColor.Printf("Server: %s | User: %s\n", c.server, c.user)
	dimColor.Println("Type 'exit' to leave, /help for server commands, /status for gateway status.")
	c.health()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		case "/status":
			c.status()
		default:
			c.send(input)
		}
	}
}

func (c *chatClient) health() {
	var body struct {
		Agent struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"agent"`
		KnowledgeBackend string `json:"knowledge_backend"`
		MCPServers       int    `json:"mcp_servers"`
	}
	if err := c.getJSON("/api/health", &body); err != nil {
		errColor.Fprintf(os.Stderr, "Server unreachable: %v\n", err)
		return
	}
	okColor.Printf("Connected to %s (%s, model %s)", body.Agent.Name, body.Agent.ID, body.Agent.Model)
	fmt.Printf(" knowledge=%s mcp_servers=%d\n", body.KnowledgeBackend, body.MCPServers)
}

func (c *chatClient) status() {
	var body struct {
		Adapters []struct {
			Platform  string `json:"platform"`
			Connected bool   `json:"connected"`
			Error     string `json:"error,omitempty"`
			Details   string `json:"details,omitempty"`
		} `json:"adapters"`
	}
	if err := c.getJSON("/api/gateway/status", &body); err != nil {
		errColor.Fprintf(os.Stderr, "Failed to fetch status: %v\n", err)
		return
	}
	fmt.Println("Gateway status:")
	for _, s := range body.Adapters {
		if s.Connected {
			okColor.Printf("  + %s", s.Platform)
		} else {
			errColor.Printf("  - %s", s.Platform)
		}
		if s.Details != "" {
			fmt.Printf(" (%s)", s.Details)
		}
		if s.Error != "" {
			errColor.Printf(" %s", s.Error)
		}
		fmt.Println()
	}
}

func (c *chatClient) send(content string) {
	body, _ := json.Marshal(map[string]string{
		"user_id":   c.user,
		"user_name": c.user,
		"content":   content,
	})
	resp, err := c.http.Post(c.server+"/api/gateway/rest/message", "application/json", bytes.NewReader(body))
	if err != nil {
		errColor.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		errColor.Fprintf(os.Stderr, "Server error (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}

	var msg struct {
		AgentID string `json:"agent_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		errColor.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		return
	}
	if msg.AgentID != "" {
		agentColor.Printf("[%s] ", msg.AgentID)
	}
	fmt.Println(msg.Content)
}

func (c *chatClient) getJSON(path string, v any) error {
	resp, err := c.http.Get(c.server + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
