package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/mdtabs/internal/crosstab"
	"github.com/agentworkforce/mdtabs/internal/files"
)

const shutdownTimeout = 5 * time.Second

func watchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow changes made by other processes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				err := a.startSync(ctx, func(records []files.FileRecord) {
					active := a.registry.ActiveFileID()
					fmt.Fprintf(out, "files changed: %d file(s), active %s\n", len(records), active)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "watching %s\n", a.cfg.MetadataFile)
				<-ctx.Done()
				return nil
			})
		},
	}
}

func relayCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay hub that forwards file list changes between hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := c.buildLogger(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			hub := crosstab.NewRelay(crosstab.RelayConfig{
				Token:      cfg.RelayToken,
				SendBuffer: cfg.RelaySendBuffer,
				Logger:     logger,
			})
			server := &http.Server{Addr: addr, Handler: hub, ReadHeaderTimeout: 5 * time.Second}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			logger.Info("relay listening", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "listen address")
	return cmd
}
