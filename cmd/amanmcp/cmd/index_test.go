package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(`package main

// Greet prints a greeting.
func Greet(name string) string {
	return "hello " + name
}
`), 0o644)
	require.NoError(t, err)
	return dir
}

func TestIndexFullCmd_IndexesRepoAndRecordsVersion(t *testing.T) {
	dir := writeTestRepo(t)

	cmd := newIndexFullCmd()
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	w, err := wireService(dir)
	require.NoError(t, err)
	defer w.Close()

	repoID := repoIDFor(dir)
	v, err := w.VersionStore.GetLatestVersion(cmd.Context(), repoID)
	require.NoError(t, err)
	require.NotNil(t, v, "expected a completed index version to have been recorded")
}

func TestIndexFilesCmd_AcceptsFileListWithHeadSHA(t *testing.T) {
	dir := writeTestRepo(t)

	cmd := newIndexFilesCmd()
	cmd.SetArgs([]string{"--head-sha", "abc123", filepath.Join(dir, "main.go")})
	require.NoError(t, cmd.Execute())
}
