// Package cli is the bitespeed command line: the HTTP server plus a few
// maintenance commands that share its configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dawgdevv/bitespeed/internal/config"
	"github.com/dawgdevv/bitespeed/internal/database"
	"github.com/dawgdevv/bitespeed/internal/logger"
	"github.com/dawgdevv/bitespeed/internal/service"
	"github.com/dawgdevv/bitespeed/internal/store"
)

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand(viper.New()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree over v. Tests pass a fresh viper
// instance so flags and environment never leak between runs.
func NewRootCommand(v *viper.Viper) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "bitespeed",
		Short:        "Identity reconciliation service",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default is ./.bitespeed.yaml or $HOME/.bitespeed.yaml)")
	flags.String("database-url", "", "sqlite3 path or postgres:// URL (env DATABASE_URL)")
	flags.String("log-mode", "", "dev or prod (env LOG_MODE)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	mustBind(v, "database_url", root, "database-url")
	mustBind(v, "log_mode", root, "log-mode")
	mustBind(v, "log_level", root, "log-level")

	load := func() (*config.Config, error) {
		return config.Load(v, configFile)
	}

	root.AddCommand(
		newServeCommand(v, load),
		newMigrateCommand(load),
		newContactsCommand(load),
		newIdentifyCommand(load),
	)
	return root
}

func mustBind(v *viper.Viper, key string, cmd *cobra.Command, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flag, err))
	}
}

// app holds the dependencies every command builds from config.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	service *service.ReconciliationService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(logger.Options{Mode: cfg.LogMode, Level: cfg.LogLevel, Redact: cfg.LogRedact})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Debug("database initialized", "dialect", string(db.Dialect))

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		service: service.NewReconciliationService(store.New(db), log),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}
	a.log.Sync()
}

// withApp loads config, builds the app and runs fn with it.
func withApp(cmd *cobra.Command, load func() (*config.Config, error), fn func(ctx context.Context, a *app, out io.Writer) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a, cmd.OutOrStdout())
}
