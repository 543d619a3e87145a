package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/rowkeeper/internal/core/api"
	"github.com/solatis/rowkeeper/internal/core/auth"
	"github.com/solatis/rowkeeper/internal/core/config"
	"github.com/solatis/rowkeeper/internal/core/db"
	"github.com/solatis/rowkeeper/internal/core/opa"
	"github.com/solatis/rowkeeper/internal/core/server"
)

// shutdownTimeout exceeds the server's own grace period so it can finish.
const shutdownTimeout = 35 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC record service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().String("opa-url", "", "policy engine base URL")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set RK_HMAC_SECRET environment variable)")
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := requireMigrated(ctx, database); err != nil {
		return err
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	store, err := db.NewRecordStore(database, queries)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg.Authz, store.Dialect())
	if err != nil {
		return err
	}
	if err := store.CheckFilterConfig(engine.SQLConfig()); err != nil {
		return fmt.Errorf("authz settings cannot be served from this database: %w", err)
	}

	policy, err := opa.NewClient(opa.Config{
		URL:          cfg.OPA.URL,
		DecisionPath: cfg.OPA.DecisionPath,
		Timeout:      cfg.OPA.Timeout,
		MaxRetries:   uint(cfg.OPA.MaxRetries),
	}, logger)
	if err != nil {
		return err
	}

	service, err := api.NewRecordService(policy, engine, store, api.Options{
		Operation: cfg.Authz.Operation,
		Unknowns:  cfg.Authz.Unknowns,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Server, service, auth.NewAuthenticator(secrets, queries, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting rowkeeper", "version", Version, "addr", cfg.Server.Addr(), "dialect", store.Dialect().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
