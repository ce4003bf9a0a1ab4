package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxfleet/internal/config"
	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/secret"
	"github.com/teemow/inboxfleet/internal/storage"
	"github.com/teemow/inboxfleet/internal/tenant"
)

// storeFlags override the database settings from the environment.
type storeFlags struct {
	dbDriver string
	dbDSN    string
	debug    bool
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.dbDriver, "db-driver", "", "Database driver: sqlite or postgres. Overrides INBOXFLEET_DB_DRIVER.")
	cmd.PersistentFlags().StringVar(&f.dbDSN, "db-dsn", "", "Database file (sqlite) or connection string (postgres). Overrides INBOXFLEET_DB_DSN.")
	cmd.PersistentFlags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
}

// loadConfig reads the environment and applies the flags that were set.
func (f *storeFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("db-driver") {
		cfg.DBDriver = f.dbDriver
	}
	if cmd.Flags().Changed("db-dsn") {
		cfg.DBDSN = f.dbDSN
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// app bundles what every store-backed command needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	audit  *instrumentation.AuditLogger
	db     *storage.DB
	store  *tenant.Store
}

// openApp validates cfg and opens the credential store. Logs go to stderr
// so that stdout stays free for command output and the stdio transport.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	instrCfg, err := instrumentation.LoadConfig()
	if err != nil {
		return nil, err
	}

	key, err := secret.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, storage.Dialect(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	store, err := tenant.NewStore(ctx, db, cipher,
		tenant.WithLogger(logger),
		tenant.WithSessionTTL(cfg.SessionTTL),
	)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		audit:  instrumentation.NewAuditLogger(logger, instrCfg.Audit),
		db:     db,
		store:  store,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// openAppFromFlags is loadConfig followed by openApp.
func openAppFromFlags(cmd *cobra.Command, f *storeFlags) (*app, error) {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg)
}
