package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		channels    []string
		daysBack    int
		maxMessages int
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest all configured channels once",
		Long: `run harvests every configured channel over the time window, writes the
lake partitions and a run summary, then exits. A failing channel does not fail
the run; a connection failure or a partition write failure does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if len(channels) > 0 {
				cfg.Channels = channels
			}
			if cmd.Flags().Changed("days-back") {
				cfg.DaysBack = daysBack
				cfg.WindowStart = nil
			}
			if cmd.Flags().Changed("max-messages") {
				cfg.MaxMessagesPerChannel = maxMessages
			}
			if noProgress {
				cfg.ShowProgress = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signalContext(log)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.coord.Run(ctx, a.options(time.Now()))
			if err != nil {
				log.Error().Err(err).Msg("harvest run failed")
				return err
			}
			if summary.Cancelled {
				log.Warn().Str("session_id", summary.SessionID).Msg("harvest run cancelled")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "channel to harvest (repeatable, overrides CHANNELS)")
	cmd.Flags().IntVarP(&daysBack, "days-back", "d", 7, "days of history to harvest")
	cmd.Flags().IntVarP(&maxMessages, "max-messages", "m", 100, "maximum messages per channel")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	return cmd
}
