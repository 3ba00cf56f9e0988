// Package cli implements the importctl command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockroom/internal/application"
	"github.com/JonMunkholm/stockroom/internal/config"
	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/logging"
)

// Connector opens the import service for commands that write to or read
// from the database. The returned function releases it.
type Connector func(ctx context.Context, logger *slog.Logger) (*core.Service, func(), error)

// Options configures the root command. Zero values use the registered
// entities and a Postgres connection from the environment.
type Options struct {
	Registry *core.Registry
	Connect  Connector
}

// NewRootCmd creates the importctl command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Registry == nil {
		opts.Registry = core.DefaultRegistry()
	}
	if opts.Connect == nil {
		opts.Connect = ConnectPostgres
	}

	var logLevel, logFormat string
	cmd := &cobra.Command{
		Use:   "importctl",
		Short: "Bulk import products, customers and suppliers",
		Long: `importctl validates and imports CSV, XLSX or JSON files into the stockroom
database with the same limits, retries and sanitization as the HTTP API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Logs go to stderr so stdout stays machine readable.
			logging.SetupWriter(cmd.ErrOrStderr(), logLevel, logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newImportCmd(opts),
		newTemplateCmd(opts),
		newCheckImageCmd(),
		newHistoryCmd(opts),
		newEntitiesCmd(opts),
	)
	return cmd
}

// ConnectPostgres loads .env and the environment, then opens the database
// and NATS connections the same way the server does.
func ConnectPostgres(ctx context.Context, logger *slog.Logger) (*core.Service, func(), error) {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	app, err := application.Open(ctx, cfg, "importctl", logger)
	if err != nil {
		return nil, nil, err
	}
	return app.Service, app.Close, nil
}

func lookupEntity(reg *core.Registry, key string) (core.EntityDefinition, error) {
	def, ok := reg.Get(key)
	if !ok {
		return def, fmt.Errorf("%w: %q", core.ErrUnknownEntity, key)
	}
	return def, nil
}
