package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactCmd_SkipsWhenBelowThreshold(t *testing.T) {
	dir := writeTestRepo(t)

	full := newIndexFullCmd()
	full.SetArgs([]string{dir})
	require.NoError(t, full.Execute())

	compact := newCompactCmd()
	buf := &bytes.Buffer{}
	compact.SetOut(buf)
	compact.SetArgs([]string{dir})
	require.NoError(t, compact.Execute())

	assert.Contains(t, buf.String(), "not triggered")
}

func TestCompactCmd_ForceRunsUnconditionally(t *testing.T) {
	dir := writeTestRepo(t)

	full := newIndexFullCmd()
	full.SetArgs([]string{dir})
	require.NoError(t, full.Execute())

	compact := newCompactCmd()
	buf := &bytes.Buffer{}
	compact.SetOut(buf)
	compact.SetArgs([]string{"--force", dir})
	require.NoError(t, compact.Execute())

	assert.Contains(t, buf.String(), "compaction complete")
}
