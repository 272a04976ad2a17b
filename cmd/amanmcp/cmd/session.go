package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/config"
	"github.com/amanindex/coreengine/internal/session"
)

// activeMarkerFile names the file inside a session manager's storage
// directory that records which session `use` last selected, so a bare
// `amanmcp serve`/`index`/`search` (no path argument) can resolve to that
// session's project path instead of the current directory.
const activeMarkerFile = "active"

func newSessionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "session",
		Short: "Manage named indexing sessions (spec.md §6 repo/snapshot selection)",
		Long: `A session pins a name to a project path and its last-seen index
stats, so repeated amanmcp invocations can refer to "the api-gateway session"
instead of retyping a path. "amanmcp session use" marks a session active;
other commands fall back to the active session's project path when invoked
without an explicit path argument.`,
	}
	c.AddCommand(newSessionUseCmd())
	c.AddCommand(newSessionListCmd())
	c.AddCommand(newSessionCurrentCmd())
	c.AddCommand(newSessionRemoveCmd())
	return c
}

func sessionManager() (*session.Manager, error) {
	cfg, err := config.LoadUserConfig()
	if err != nil {
		cfg = config.NewConfig()
	}
	return session.NewManager(session.ManagerConfig{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
}

func newSessionUseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "use <name> [path]",
		Short: "Create or switch to a named session and mark it active",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			path := "."
			if len(args) == 2 {
				path = args[1]
			}
			root, err := resolveRoot(path)
			if err != nil {
				return fmt.Errorf("resolve project root: %w", err)
			}

			mgr, err := sessionManager()
			if err != nil {
				return fmt.Errorf("open session manager: %w", err)
			}
			sess, err := mgr.Open(name, root)
			if err != nil {
				return fmt.Errorf("open session %q: %w", name, err)
			}
			if err := mgr.Save(sess); err != nil {
				return fmt.Errorf("save session %q: %w", name, err)
			}
			if err := setActiveSession(mgr, name); err != nil {
				return fmt.Errorf("mark session %q active: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "active session %q -> %s\n", name, sess.ProjectPath)
			return nil
		},
	}
	return c
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return fmt.Errorf("open session manager: %w", err)
			}
			infos, err := mgr.List()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			active, _ := activeSessionName(mgr)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROJECT PATH\tLAST USED\tACTIVE")
			for _, info := range infos {
				marker := ""
				if info.Name == active {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.ProjectPath, info.LastUsed.Format("2006-01-02 15:04"), marker)
			}
			return tw.Flush()
		},
	}
}

func newSessionCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the active session's name and project path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return fmt.Errorf("open session manager: %w", err)
			}
			name, ok := activeSessionName(mgr)
			if !ok {
				return fmt.Errorf("no active session (run: amanmcp session use <name> [path])")
			}
			sess, err := mgr.Get(name)
			if err != nil {
				return fmt.Errorf("load active session %q: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, sess.ProjectPath)
			return nil
		},
	}
}

func newSessionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr, err := sessionManager()
			if err != nil {
				return fmt.Errorf("open session manager: %w", err)
			}
			if err := mgr.Delete(name); err != nil {
				return fmt.Errorf("delete session %q: %w", name, err)
			}
			if active, ok := activeSessionName(mgr); ok && active == name {
				_ = clearActiveSession(mgr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session %q\n", name)
			return nil
		},
	}
}

// setActiveSession records name as the active session by writing the
// storage directory's marker file. session.Manager itself stays unaware of
// "active" as a concept -- that's purely a CLI-layer convenience on top of
// its name/path registry.
func setActiveSession(mgr *session.Manager, name string) error {
	return os.WriteFile(activeMarkerPath(mgr), []byte(name), 0o644)
}

func clearActiveSession(mgr *session.Manager) error {
	err := os.Remove(activeMarkerPath(mgr))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// activeSessionName returns the session name written by the most recent
// "session use", if any, and whether that session still exists.
func activeSessionName(mgr *session.Manager) (string, bool) {
	data, err := os.ReadFile(activeMarkerPath(mgr))
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(data))
	if name == "" || !mgr.Exists(name) {
		return "", false
	}
	return name, true
}

// activeMarkerPath returns the marker file's path alongside the manager's
// session registry.
func activeMarkerPath(mgr *session.Manager) string {
	return filepath.Join(mgr.StoragePath(), activeMarkerFile)
}

// activeProjectPath resolves the active session's project path, if any
// session is active and loadable. Used by resolveRoot as a fallback when
// no explicit path argument was given.
func activeProjectPath() (string, bool) {
	mgr, err := sessionManager()
	if err != nil {
		return "", false
	}
	name, ok := activeSessionName(mgr)
	if !ok {
		return "", false
	}
	sess, err := mgr.Get(name)
	if err != nil {
		return "", false
	}
	return sess.ProjectPath, true
}

// recordSessionIndexStats updates the active session's IndexStats after a
// full reindex of root, if the active session's project path is root.
// A no-op when no session is active or it points elsewhere.
func recordSessionIndexStats(root string, fileCount, chunkCount int) {
	mgr, err := sessionManager()
	if err != nil {
		return
	}
	name, ok := activeSessionName(mgr)
	if !ok {
		return
	}
	sess, err := mgr.Get(name)
	if err != nil || sess.ProjectPath != root {
		return
	}
	sess.UpdateIndexStats(fileCount, chunkCount)
	_ = mgr.Save(sess)
}
