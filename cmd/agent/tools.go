package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nidhogg/proposagent/internal/app"
)

func toolsCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List configured MCP servers and their tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(g, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			// Tool listing needs no knowledge base.
			cfg.Knowledge.Backend = "none"
			a, err := buildApp(ctx, g, cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			servers := a.Tools.Servers()
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(servers)
			}
			if len(servers) == 0 {
				fmt.Fprintln(out, "No MCP servers configured.")
				return nil
			}
			bold := color.New(color.Bold)
			faint := color.New(color.Faint)
			for _, s := range servers {
				bold.Fprintf(out, "%s", s.Name)
				faint.Fprintf(out, " (%s, %s, %s)\n", s.ID, s.Transport, s.URL)
				if len(s.Tools) == 0 {
					faint.Fprintln(out, "  no tools discovered")
				}
				for _, t := range s.Tools {
					fmt.Fprintf(out, "  %s  %s\n", color.CyanString(t.ID), t.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print servers as JSON")
	return cmd
}
