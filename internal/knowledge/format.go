package knowledge

import (
	"fmt"
	"sort"
	"strings"
)

// NoResults is what FormatContext renders for an empty result set.
const NoResults = "No relevant information found in the knowledge base."

// FormatContext renders search results as a prompt context block.
// Metadata keys are listed alphabetically.
func FormatContext(docs []Document) string {
	if len(docs) == 0 {
		return NoResults
	}

	var b strings.Builder
	b.WriteString("CONTEXT INFORMATION:\n\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "Document %d (Relevance: %.2f):\n", i+1, d.Relevance)

		keys := make([]string, 0, len(d.Metadata))
		for k := range d.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, d.Metadata[k])
		}

		fmt.Fprintf(&b, "Content: %s\n\n", d.Content)
	}
	return b.String()
}
