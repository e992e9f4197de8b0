package store

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorParam(t *testing.T) {
	assert.Nil(t, vectorParam(nil))
	v := vectorParam([]float32{0.5, -1, 0.25})
	require.NotNil(t, v)
	assert.Equal(t, "[0.5,-1,0.25]", *v)
}

func TestBundledMigrationsAreOrdered(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{
		"001_knowledge_base.up.sql",
		"002_search_documents.up.sql",
		"003_a2a_messages.up.sql",
	}, names)
}
