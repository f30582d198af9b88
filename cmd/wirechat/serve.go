package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
)

func newServeCmd(e *env) *cobra.Command {
	var flags config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e.cfg.UpdateFrom(flags)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			application, err := app.New(ctx, &e.cfg, e.logger)
			if err != nil {
				return err
			}

			e.logger.Info().
				Str("addr", e.cfg.Addr).
				Str("store", e.cfg.StoreDriver).
				Str("broker", e.cfg.Broker).
				Msg("starting wirechat server")
			if err := application.Run(ctx); err != nil {
				e.logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			e.logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&flags.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&flags.StoreDriver, "store", "", "storage driver: sqlite or postgres")
	f.StringVar(&flags.Broker, "broker", "", "realtime broker: memory or redis")
	return cmd
}

