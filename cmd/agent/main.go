package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/app"
	"github.com/nidhogg/proposagent/internal/config"
	"github.com/nidhogg/proposagent/internal/logging"
)

type globalFlags struct {
	configPath string
	table      string
	agentID    string
	agentName  string
	model      string
	jsonOut    bool
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	var g globalFlags
	if err := newRootCmd(&g).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(g *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "agent [input...]",
		Short: "Ask the ProPosAgent a question",
		Long: "Runs one agent turn. The input is taken from the arguments, or from\n" +
			"stdin when no arguments are given.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, g, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", os.Getenv("CONFIG_PATH"), "JSON or YAML config file")
	pf.StringVar(&g.table, "table", "", "knowledge-base table, overrides knowledge.table")
	pf.StringVar(&g.agentID, "agent-id", "", "agent id (default random)")
	pf.StringVar(&g.agentName, "agent-name", "", "agent display name")
	pf.StringVar(&g.model, "model", "", "Ollama model")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	root.Flags().BoolVar(&g.jsonOut, "json", false, "print the full response as JSON")

	root.AddCommand(serveCmd(g), ingestCmd(g), toolsCmd(g))
	return root
}

// setup loads config, checks reqs and builds the app.
func setup(ctx context.Context, g *globalFlags, opts app.Options, reqs ...config.Requirement) (*app.App, *zap.Logger, error) {
	cfg, logger, err := loadConfig(g, true, reqs...)
	if err != nil {
		return nil, logger, err
	}
	a, err := buildApp(ctx, g, cfg, logger, opts)
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}

// loadConfig reads config and sets up logging. withKnowledge adds the
// settings the configured knowledge backend needs to reqs.
func loadConfig(g *globalFlags, withKnowledge bool, reqs ...config.Requirement) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, zap.NewNop(), err
	}
	level := cfg.Server.LogLevel
	if g.verbose {
		level = "debug"
	}
	logger := logging.Must(level, cfg.Server.Development)

	if withKnowledge {
		reqs = append(reqs, cfg.KnowledgeRequirements()...)
	}
	if err := cfg.Validate(reqs...); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func buildApp(ctx context.Context, g *globalFlags, cfg *config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
	opts.AgentID = g.agentID
	opts.AgentName = g.agentName
	opts.Model = g.model
	opts.Table = g.table
	return app.New(ctx, cfg, logger, opts)
}

func runOnce(cmd *cobra.Command, g *globalFlags, args []string) error {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}
	if input == "" {
		return errors.New("no input given")
	}

	ctx := cmd.Context()
	a, logger, err := setup(ctx, g, app.Options{}, config.RequireOllama)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close(context.WithoutCancel(ctx))

	resp := a.Agent.Run(ctx, input, agent.RunOptions{})
	out := cmd.OutOrStdout()
	if g.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else if resp.Status == agent.StatusSuccess {
		fmt.Fprintln(out, resp.Data)
		if resp.Trace != nil {
			color.New(color.Faint).Fprintf(cmd.ErrOrStderr(), "[%s, %d tool round(s), %d tokens]\n",
				resp.Metadata.Model, resp.Trace.Rounds, resp.Usage.TotalTokens)
		}
	}
	if resp.Status != agent.StatusSuccess {
		color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Error: %s\n", resp.Error)
		return errors.New(resp.Error)
	}
	return nil
}
