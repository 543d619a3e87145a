package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/core/config"
	"github.com/solatis/rowkeeper/internal/core/db"
)

// Version is reported by serve at startup.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:          "rowkeeper",
	Short:        "Row-level authorization for aspect-based records",
	Long:         `rowkeeper turns partially evaluated policy decisions into SQL filters and serves authorized record listings.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (expected json or text)", format)
	}
}

// loadConfig resolves configuration with this command's flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// newEngine builds the compiler for dialect from the authz settings.
func newEngine(cfg config.AuthzConfig, dialect authz.Dialect) (*authz.Engine, error) {
	sqlCfg := authz.DefaultSQLConfig(dialect)
	if cfg.AspectsTable != "" {
		sqlCfg.AspectsTable = cfg.AspectsTable
	}
	if cfg.RecordIDRef != "" {
		sqlCfg.RecordIDRef = cfg.RecordIDRef
	}
	if cfg.TenantIDRef != "" {
		sqlCfg.TenantIDRef = cfg.TenantIDRef
	}

	opts := []authz.Option{authz.WithLogger(logger)}
	if len(cfg.Prefixes) > 0 {
		opts = append(opts, authz.WithPrefixes(cfg.Prefixes))
	}

	engine, err := authz.NewEngine(sqlCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid authz configuration: %w", err)
	}
	return engine, nil
}
