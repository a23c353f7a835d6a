package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/nats"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/providers/chapa"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/providers/telebirr"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/reconciliation"
)

var version = "dev"

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PAYMENTD_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// AdminAPIKeys maps key to actor, e.g. "k1:ops,k2:finance"
	AdminAPIKeys map[string]string `envconfig:"ADMIN_API_KEYS"`

	Database       database.Config
	NATS           nats.Config
	Chapa          chapa.Config
	Telebirr       telebirr.Config
	Reconciliation reconciliation.Config
	Webhook        reconciliation.WebhookConfig
	Sweep          commission.SweepConfig
}

func main() {
	root := &cobra.Command{
		Use:           "paymentd",
		Short:         "Payment verification and order reconciliation service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads an optional .env file and then the environment.
func loadConfig() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
