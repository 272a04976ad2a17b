package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_FindsIndexedSymbol(t *testing.T) {
	dir := writeTestRepo(t)

	full := newIndexFullCmd()
	full.SetArgs([]string{dir})
	require.NoError(t, full.Execute())

	search := newSearchCmd()
	buf := &bytes.Buffer{}
	search.SetOut(buf)
	search.SetArgs([]string{"--path", dir, "Greet"})
	require.NoError(t, search.Execute())

	assert.Contains(t, buf.String(), filepath.Base(dir))
}
