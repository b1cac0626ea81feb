package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paperrnint/advent-calendar-be/logger"
	"github.com/paperrnint/advent-calendar-be/storage"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	load := func(cmd *cobra.Command) (*AppConfig, *slog.Logger, error) {
		explicit := cmd.Flags().Changed("config")
		if !explicit {
			if env := os.Getenv("CONFIG_PATH"); env != "" {
				configPath, explicit = env, true
			}
		}

		config, err := loadConfig(configPath, explicit)
		if err != nil {
			return nil, nil, err
		}
		return config, logger.SetupDefault(cmd.ErrOrStderr(), config.LogLevel), nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the purge worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, config, log)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.serve(ctx)
		},
	}

	rootCmd := &cobra.Command{
		Use:          "advent-auth",
		Short:        "Identity and token service for the advent calendar",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := load(cmd)
			if err != nil {
				return err
			}
			if config.DB.PostgresURL == "" {
				return fmt.Errorf("migrate requires db.postgres_url or DATABASE_URL")
			}
			if err := storage.RunMigrations(config.DB.PostgresURL); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired refresh tokens and login states once",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := load(cmd)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), config, log)
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.service.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d refresh tokens, %d login states\n", stats.RefreshTokens, stats.LoginStates)
			return nil
		},
	}

	var healthPort string
	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), healthPort)
		},
	}
	healthcheckCmd.Flags().StringVar(&healthPort, "port", getEnv("PORT", "8080"), "port the server listens on")

	rootCmd.AddCommand(serveCmd, migrateCmd, purgeCmd, healthcheckCmd)
	return rootCmd
}

func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:"+port+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck failed: status %d", resp.StatusCode)
	}
	return nil
}
