package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-lake/internal/harvest"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API and run harvests on request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}

			ctx, cancel := signalContext(log)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			manager := harvest.NewRunManager(a.coord)
			defaults := func() harvest.Options {
				opts := a.options(time.Now())
				opts.Progress = nil
				return opts
			}
			handler := harvest.NewHandler(manager, a.archive, a.client, defaults)

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
				Handler:           harvest.NewRouter(handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Int("port", cfg.HTTPPort).Msg("starting ops server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			}

			log.Info().Msg("shutting down services...")
			manager.Stop()
			manager.Wait()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("server shutdown")
			}

			log.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3100, "HTTP port")
	return cmd
}
