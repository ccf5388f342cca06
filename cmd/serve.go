package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/server"
	"github.com/audiolibrelab/fluentdrill/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for browser practice",
	Long: `Start the FluentDrill web server so a browser front end can drive a
practice session: generate a set, record, play back and submit takes.

The server will display the local network URL for easy access from other devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		svc, err := service.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		srv := server.New(svc, cfg)
		slog.Info("FluentDrill web server starting", "port", cfg.Server.Port, "profile", cfg.Profile)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-errCh:
			svc.Close()
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigCh:
			slog.Info("Received signal, shutting down", "signal", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port for the web server (overrides config)")
}
