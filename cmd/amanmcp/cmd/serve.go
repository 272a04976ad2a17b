package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/logging"
	"github.com/amanindex/coreengine/internal/mcpapi"
	"github.com/amanindex/coreengine/internal/version"
)

func newServeCmd() *cobra.Command {
	var transport string
	var checkStaleness bool
	var debugLogs bool

	c := &cobra.Command{
		Use:   "serve [path]",
		Short: "Start the MCP server over the indexing service for this repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdio is the JSON-RPC transport; stdout/stderr must never carry
			// anything but protocol frames, so logs go to file only.
			level := "info"
			if debugLogs {
				level = "debug"
			}
			logCleanup, err := logging.SetupMCPModeWithLevel(level)
			if err != nil {
				return fmt.Errorf("set up logging: %w", err)
			}
			defer logCleanup()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			root, err := resolveRoot(path)
			if err != nil {
				return fmt.Errorf("resolve project root: %w", err)
			}

			w, err := wireService(root)
			if err != nil {
				return err
			}
			defer w.Close()

			var middleware *version.Middleware
			if checkStaleness {
				middleware = version.NewMiddleware(newVersionChecker(w), nil, nil, nil)
			}

			srv, err := mcpapi.NewServer(w.Service, middleware, w.Root, w.IRBuilder)
			if err != nil {
				return fmt.Errorf("build mcp server: %w", err)
			}
			defer srv.Close()

			return srv.Serve(cmd.Context(), transport)
		},
	}
	c.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (only stdio is implemented)")
	c.Flags().BoolVar(&checkStaleness, "check-staleness", false, "check index staleness before each search and flag stale results")
	c.Flags().BoolVar(&debugLogs, "debug", false, "write debug-level logs to the log file")
	return c
}
