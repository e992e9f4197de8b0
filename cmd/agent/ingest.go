package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/app"
)

// record is one document read from an ingest file.
type record struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func ingestCmd(g *globalFlags) *cobra.Command {
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Add documents to the knowledge base",
		Long: "Reads .json (array of strings or {content, metadata} objects), .jsonl\n" +
			"(one object per line) or plain text files and inserts them into the\n" +
			"knowledge base. Text files are split into chunks of --chunk-size runes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var all []record
			for _, path := range args {
				recs, err := loadRecords(path, chunkSize)
				if err != nil {
					return err
				}
				all = append(all, recs...)
			}
			if len(all) == 0 {
				return errors.New("no documents found")
			}
			return ingest(cmd, g, all)
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1000, "maximum runes per text chunk")
	return cmd
}

func ingest(cmd *cobra.Command, g *globalFlags, recs []record) error {
	ctx := cmd.Context()
	a, logger, err := setup(ctx, g, app.Options{SkipDiscovery: true})
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close(context.WithoutCancel(ctx))
	if a.Knowledge == nil {
		return errors.New("knowledge base is not configured")
	}

	contents := make([]string, len(recs))
	metas := make([]map[string]any, len(recs))
	for i, r := range recs {
		contents[i] = r.Content
		metas[i] = r.Metadata
	}
	docs, err := a.Knowledge.AddDocuments(ctx, a.Table, contents, metas)
	if err != nil {
		logger.Error("ingest failed", zap.Int("inserted", len(docs)), zap.Error(err))
		return err
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Inserted %d document(s) into %s\n", len(docs), a.Table)
	return nil
}

// loadRecords reads one file. Every record gets a "source" metadata key
// unless it already has one.
func loadRecords(path string, chunkSize int) ([]record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var recs []record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		recs, err = parseJSON(data)
	case ".jsonl":
		recs, err = parseJSONL(data)
	default:
		for _, c := range chunkText(string(data), chunkSize) {
			recs = append(recs, record{Content: c})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := recs[:0]
	for _, r := range recs {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		if _, ok := r.Metadata["source"]; !ok {
			r.Metadata["source"] = filepath.Base(path)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseJSON(data []byte) ([]record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	recs := make([]record, 0, len(raw))
	for i, item := range raw {
		r, err := parseRecord(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func parseJSONL(data []byte) ([]record, error) {
	var recs []record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		r, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		recs = append(recs, r)
	}
	return recs, sc.Err()
}

// parseRecord accepts a bare string or a {content, metadata} object.
func parseRecord(raw json.RawMessage) (record, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return record{Content: s}, nil
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, err
	}
	return r, nil
}

// chunkText splits text on blank lines and packs paragraphs into chunks of
// at most size runes. A paragraph longer than size is cut on rune bounds.
func chunkText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if curLen > 0 && curLen+2+len(runes) > size {
			flush()
		}
		for len(runes) > size {
			flush()
			chunks = append(chunks, string(runes[:size]))
			runes = runes[size:]
		}
		if len(runes) == 0 {
			continue
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(string(runes))
		curLen += len(runes)
	}
	flush()
	return chunks
}
