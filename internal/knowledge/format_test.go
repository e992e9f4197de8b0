package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatContextEmpty(t *testing.T) {
	assert.Equal(t, NoResults, FormatContext(nil))
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]Document{
		{Content: "Go is fun.", Relevance: 0.912, Metadata: map[string]any{"source": "blog", "author": "ann"}},
		{Content: "Second.", Relevance: 0.5},
	})
	want := "CONTEXT INFORMATION:\n\n" +
		"Document 1 (Relevance: 0.91):\n" +
		"author: ann\n" +
		"source: blog\n" +
		"Content: Go is fun.\n\n" +
		"Document 2 (Relevance: 0.50):\n" +
		"Content: Second.\n\n"
	assert.Equal(t, want, got)
}
