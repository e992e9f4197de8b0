package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableFlagDefersToConfig(t *testing.T) {
	var g globalFlags
	root := newRootCmd(&g)

	flag := root.PersistentFlags().Lookup("table")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)

	require.NoError(t, root.PersistentFlags().Parse([]string{"--table", "faq"}))
	assert.Equal(t, "faq", g.table)
}
