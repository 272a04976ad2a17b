package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"serve", "index", "search", "compact", "status", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, "expected %q to be registered", name)
		assert.Equal(t, name, found.Name())
	}
}

func TestNewRootCmd_IndexHasFullAndFilesSubcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"full", "files"} {
		found, _, err := root.Find([]string{"index", name})
		require.NoError(t, err, "expected index %q to be registered", name)
		assert.Equal(t, name, found.Name())
	}
}
