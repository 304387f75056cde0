package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-lake/internal/harvest"
	"github.com/blockedby/tg-lake/internal/lake"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvester",
		Short: "Telegram channel harvester",
		Long: `harvester walks the configured Telegram channels backward over a time
window and writes their messages to a date-partitioned JSON lake.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("harvester %s (%s, %s)\n", version, commit, buildDate)
		},
	})

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps run-level failures to distinct exit codes.
func exitCode(err error) int {
	var connErr *harvest.ConnectionError
	var writeErr *lake.PartitionWriteError
	switch {
	case errors.As(err, &connErr):
		return 2
	case errors.As(err, &writeErr):
		return 3
	default:
		return 1
	}
}
