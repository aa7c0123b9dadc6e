package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/you/blogql/internal/config"
	"github.com/you/blogql/internal/models"
	"github.com/you/blogql/internal/storage"
	"github.com/you/blogql/internal/store/badgerstore"
	"github.com/you/blogql/internal/store/mongostore"
	"github.com/you/blogql/internal/store/pgstore"
)

// connectBackoff is the first delay between store connection attempts.
const connectBackoff = 500 * time.Millisecond

// openStore connects the configured document store. Networked stores are
// retried with exponential backoff so the server can start before its
// database does.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Postgres.AutoMigrate {
			if err := migrateUp(ctx, cfg, logger); err != nil {
				return nil, err
			}
		}
		var s *pgstore.Store
		err := withRetry(ctx, cfg.Store.ConnectRetries, logger, func(ctx context.Context) (err error) {
			s, err = pgstore.Connect(ctx, cfg.Postgres.URL)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverMongo:
		var s *mongostore.Store
		err := withRetry(ctx, cfg.Store.ConnectRetries, logger, func(ctx context.Context) (err error) {
			s, err = mongostore.Connect(ctx, cfg.Mongo.ConnectionURI(), cfg.Mongo.Database, cfg.Mongo.Transactions)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverBadger:
		s, err := badgerstore.Open(cfg.Badger.Dir, cfg.Badger.InMemory, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, oops.Code("CONFIG_INVALID").Errorf("unknown store.driver %q", cfg.Store.Driver)
}

func migrateUp(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	return withRetry(ctx, cfg.Store.ConnectRetries, logger, func(context.Context) error {
		m, err := pgstore.NewMigrator(cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		if err := m.Up(); err != nil {
			return err
		}
		v, _, err := m.Version()
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "postgres schema up to date", "version", v)
		return nil
	})
}

func withRetry(ctx context.Context, retries uint64, logger *slog.Logger, fn func(ctx context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(connectBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			logger.WarnContext(ctx, "store not reachable", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	return nil
}

func openImages(ctx context.Context, cfg *config.Config) (storage.Images, error) {
	switch cfg.Images.Driver {
	case config.ImagesDisk:
		d, err := storage.NewDisk(cfg.Images.Dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.ImagesMinio:
		m, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, oops.Code("CONFIG_INVALID").Errorf("unknown images.driver %q", cfg.Images.Driver)
}
