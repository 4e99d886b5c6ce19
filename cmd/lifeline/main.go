package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lifeline/internal/app"
	"lifeline/internal/config"
	"lifeline/pkg/logging"
)

var version = "dev"

func main() {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "lifeline",
		Short: "Real-time crisis communication server",
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crisis communication server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := logging.New(cfg.Log.Level, cfg.Log.Format)
			log.Info().Str("version", version).Msg("starting lifeline")

			application, err := app.NewApplication(cfg, log)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("start application: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

			return application.Stop()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
