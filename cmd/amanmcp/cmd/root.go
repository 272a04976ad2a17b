// Package cmd provides the CLI commands for the code-intelligence
// indexing and query engine (spec.md §6 "CLI / entry surface"): full and
// incremental reindex, search, compact, and version-status. The CLI is
// intentionally thin -- every command is a construction-and-call wrapper
// over internal/indexing.Service and its collaborators.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/logging"
	"github.com/amanindex/coreengine/pkg/version"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var debug bool
	var logFile string
	var loggingCleanup func()

	cmd := &cobra.Command{
		Use:   "amanmcp",
		Short: "Code-intelligence indexing and query engine",
		Long: `amanmcp indexes a source repository into five specialized indexes
(lexical, vector, symbol, fuzzy, domain) and serves fused hybrid search
over them, with a local overlay that layers uncommitted edits atop the
last committed snapshot.`,
		Version: version.Version,
		// serve sets up its own MCP-safe logging (stdout/stderr must stay
		// reserved for the JSON-RPC stream), so it's excluded here.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "serve" {
				return nil
			}
			cfg := logging.DefaultConfig()
			cfg.WriteToStderr = false
			if debug {
				cfg = logging.DebugConfig()
				cfg.WriteToStderr = true
			}
			if logFile != "" {
				cfg.FilePath = logFile
			}
			logger, cleanup, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}
	cmd.SetVersionTemplate("amanmcp version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging to stderr and the log file")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "override the log file path (default ~/.amanmcp/logs/server.log)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
