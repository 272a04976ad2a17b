package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCmd_ReportsNoVersionBeforeIndexing(t *testing.T) {
	dir := writeTestRepo(t)

	status := newStatusCmd()
	buf := &bytes.Buffer{}
	status.SetOut(buf)
	status.SetArgs([]string{dir})
	require.NoError(t, status.Execute())

	assert.Contains(t, buf.String(), "no index version found")
}

func TestStatusCmd_ReportsValidAfterIndexing(t *testing.T) {
	dir := writeTestRepo(t)

	full := newIndexFullCmd()
	full.SetArgs([]string{dir})
	require.NoError(t, full.Execute())

	status := newStatusCmd()
	buf := &bytes.Buffer{}
	status.SetOut(buf)
	status.SetArgs([]string{dir})
	require.NoError(t, status.Execute())

	assert.Contains(t, buf.String(), "✅ valid")
}
