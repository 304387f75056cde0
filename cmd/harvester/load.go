package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/migrator"
	"github.com/blockedby/tg-lake/internal/warehouse"
	"github.com/blockedby/tg-lake/migrations"
)

func newLoadCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the lake into the warehouse raw schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(log)
			defer cancel()

			if !skipMigrate {
				m, err := migrator.NewWithFS(migrations.FS)
				if err != nil {
					return err
				}
				if err := m.Up(ctx, cfg.DatabaseURL); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			db, err := warehouse.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := warehouse.NewLoader(db.Pool, lake.NewOSReader(cfg.LakeDir())).Load(ctx)
			if err != nil {
				return fmt.Errorf("load lake: %w", err)
			}

			fmt.Printf("loaded %d partitions, %d messages, %d channels\n", stats.Partitions, stats.Messages, stats.Channels)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply schema migrations first")
	return cmd
}
