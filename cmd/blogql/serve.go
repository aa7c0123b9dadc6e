package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/you/blogql/internal/auth"
	"github.com/you/blogql/internal/config"
	"github.com/you/blogql/internal/graph"
	"github.com/you/blogql/internal/logging"
	"github.com/you/blogql/internal/observability"
	"github.com/you/blogql/internal/server"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the GraphQL API server",
		Long: `Start the GraphQL API, image upload and image serving endpoints, plus
the metrics and health listener. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup("blogql", version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, "blogql", version)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	images, err := openImages(ctx, cfg)
	if err != nil {
		_ = store.Close(context.Background())
		return err
	}

	resolver := graph.NewResolver(store, images, auth.NewHasher(), tokens, logger)
	schema, err := graph.NewSchema(resolver)
	if err != nil {
		_ = store.Close(context.Background())
		return oops.Code("SCHEMA_INVALID").Wrap(err)
	}

	var (
		metrics   *observability.Metrics
		obs       *observability.Server
		obsErrors <-chan error
	)
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, store.Ping, logger)
		if obsErrors, err = obs.Start(); err != nil {
			_ = store.Close(context.Background())
			return err
		}
		metrics = obs.Metrics()
	}

	api := server.New(schema, images, tokens, server.Options{
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
		UploadRate:    cfg.HTTP.UploadRate,
		Logger:        logger,
		Metrics:       metrics,
		Owners:        resolver,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	httpErrors := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErrors <- err
		}
	}()
	logger.InfoContext(ctx, "blogql started",
		"addr", cfg.HTTP.Addr,
		"store", cfg.Store.Driver,
		"images", cfg.Images.Driver)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErrors:
		serveErr = oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	case err, ok := <-obsErrors:
		if ok {
			serveErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	resolver.Wait()
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			logger.Warn("observability shutdown incomplete", "error", err)
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("closing store failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("flushing traces failed", "error", err)
	}

	if serveErr != nil {
		logger.Error("blogql stopped", "error", serveErr)
	}
	return serveErr
}
