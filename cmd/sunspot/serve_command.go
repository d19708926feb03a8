package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/sunspot/internal/api"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP inference service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, mgr, pipe, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.BlockingLoad {
				// Fail fast at startup instead of lazy background loading.
				if err := mgr.LoadSync(ctx); err != nil {
					return err
				}
			} else {
				mgr.LoadAsync()
			}

			srv := api.New(cfg, mgr, pipe)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				slog.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}
