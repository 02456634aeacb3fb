package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/agentloop/internal/ipc"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			logger := opts.logger(cfg, os.Stderr)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := ipc.NewServer(&ipc.Handler{
				Sessions:  a.sessions,
				Jobs:      a.orch,
				Reviews:   a.reviews,
				DB:        a.db,
				AuditRepo: a.audit,
				Logger:    logger.With("component", "ipc"),
				Version:   version,
			}, cfg.ListenAddr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("agentloop listening", "addr", "http://"+cfg.ListenAddr, "version", version)
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")
	return cmd
}
