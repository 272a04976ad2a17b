package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/amanindex/coreengine/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		lines   int
		level   string
		pattern string
		follow  bool
		noColor bool
		source  string
		logPath string
		withSrc bool
	)

	c := &cobra.Command{
		Use:   "logs",
		Short: "Tail or follow amanmcp's own log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := logging.ParseLogSource(source)
			paths, err := logging.FindLogFileBySource(src, logPath)
			if err != nil {
				return err
			}

			var re *regexp.Regexp
			if pattern != "" {
				re, err = regexp.Compile(pattern)
				if err != nil {
					return fmt.Errorf("compile pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:      level,
				Pattern:    re,
				NoColor:    noColor,
				ShowSource: withSrc || len(paths) > 1,
			}, cmd.OutOrStdout())

			var entries []logging.LogEntry
			if len(paths) == 1 {
				entries, err = viewer.Tail(paths[0], lines)
			} else {
				entries, err = viewer.TailMultiple(paths, lines)
			}
			if err != nil {
				return err
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}

			ch := make(chan logging.LogEntry, 64)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				for e := range ch {
					viewer.Print([]logging.LogEntry{e})
				}
			}()
			if len(paths) == 1 {
				return viewer.Follow(ctx, paths[0], ch)
			}
			return viewer.FollowMultiple(ctx, paths, ch)
		},
	}
	c.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show")
	c.Flags().StringVar(&level, "level", "", "minimum level to show (debug, info, warn, error)")
	c.Flags().StringVar(&pattern, "grep", "", "only show lines matching this regexp")
	c.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new log lines")
	c.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	c.Flags().StringVar(&source, "source", "go", "log source to read: go, mlx, all")
	c.Flags().StringVar(&logPath, "file", "", "explicit log file path, overriding --source")
	c.Flags().BoolVar(&withSrc, "show-source", false, "always show the [source] label")
	return c
}
