package main

import (
	"context"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/browser/headless"
	"github.com/JakeFAU/listing-crawler/internal/browser/paged"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/listing-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/listing-crawler/internal/storage/postgres"
)

func buildBrowser(cfg config.Config, logger *zap.Logger) (crawler.Browser, error) {
	switch cfg.Crawler.Backend {
	case config.BackendPaged:
		return paged.New(paged.Config{
			UserAgent:    cfg.Paged.UserAgent,
			ItemSelector: cfg.Crawler.ItemSelector,
			CursorParam:  cfg.Paged.CursorParam,
			Timeout:      time.Duration(cfg.Paged.TimeoutSeconds) * time.Second,
		}, logger), nil
	case config.BackendHeadless:
		b, err := headless.New(headless.Config{
			MaxParallel:          cfg.Headless.MaxParallel,
			UserAgent:            cfg.Headless.UserAgent,
			WindowWidth:          cfg.Headless.WindowWidth,
			WindowHeight:         cfg.Headless.WindowHeight,
			NavigationsPerSecond: cfg.Headless.NavigationsPerSecond,
			ExecPath:             cfg.Headless.ExecPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("build headless browser: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown crawler backend %q", cfg.Crawler.Backend)
	}
}

func buildResultStore(
	ctx context.Context,
	cfg config.Config,
	clock crawler.Clock,
	logger *zap.Logger,
) (crawler.ResultStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set; crawl results are kept in memory")
		return memoryStorage.NewResultStore(clock), func() {}, nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN: cfg.DB.DSN,
		Tables: postgres.Tables{
			Jobs:    cfg.DB.JobsTable,
			Results: cfg.DB.ResultsTable,
			Records: cfg.DB.RecordsTable,
		},
		MaxConns: int32(cfg.DB.MaxOpenConns),
	}, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("build postgres store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcs.NewClient(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs blob store: %w", err)
		}
		return store, nil
	default:
		return memoryStorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Warn("pubsub.project_id not set; notifications are kept in memory")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("build pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	return pub, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}, nil
}
