package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/app"
	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/observability"
)

const shutdownTimeout = 20 * time.Second

var rootCmd = &cobra.Command{
	Use:           "workorderd",
	Short:         "Work order lifecycle service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and the logger shared by every subcommand.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			listenErr := make(chan error, 1)
			go func() {
				listenErr <- application.Listen()
			}()

			select {
			case err = <-listenErr:
				logger.Error("fiber listen", zap.Error(err))
			case sig := <-waitForShutdown():
				logger.Info("shutting down", zap.String("signal", sig.String()))
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Error("shutdown incomplete", zap.Error(shutdownErr))
			}
			return err
		},
	}
}

func waitForShutdown() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
