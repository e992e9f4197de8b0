package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nidhogg/proposagent/internal/search"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd prints the formatted results, or an "Error: ..." line, on
// stdout. Search failures are part of the output, not the exit status.
func newRootCmd() *cobra.Command {
	var (
		url        string
		results    int
		language   string
		categories string
		jsonOut    bool
	)
	defaultURL := os.Getenv("SEARCH_GATEWAY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8081"
	}

	root := &cobra.Command{
		Use:          "search QUERY...",
		Short:        "Search the web through the SearXNG tool gateway",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := search.Params{
				Query:      strings.Join(args, " "),
				NumResults: results,
				Language:   language,
				Categories: splitCategories(categories),
			}
			client := search.NewClient(url)
			result, err := client.Search(cmd.Context(), params)

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err != nil {
					return enc.Encode(search.ErrorJSON(err))
				}
				var v any
				if uerr := json.Unmarshal(result, &v); uerr != nil {
					return enc.Encode(search.ErrorJSON(uerr))
				}
				return enc.Encode(v)
			}

			if err != nil {
				color.New(color.FgRed).Fprintln(out, search.FormatResults(nil, err))
				return nil
			}
			fmt.Fprintln(out, search.FormatResults(result, nil))
			return nil
		},
	}
	root.Flags().StringVar(&url, "url", defaultURL, "search gateway URL")
	root.Flags().IntVar(&results, "results", search.DefaultResults, "number of results")
	root.Flags().StringVar(&language, "language", search.DefaultLanguage, "search language")
	root.Flags().StringVar(&categories, "categories", strings.Join(search.DefaultCategories, ","), "comma-separated categories")
	root.Flags().BoolVar(&jsonOut, "json", false, "print the raw result as JSON")
	return root
}

func splitCategories(s string) []string {
	out := []string{}
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
