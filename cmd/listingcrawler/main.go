package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/notify"
	queueMemory "github.com/JakeFAU/listing-crawler/internal/queue/memory"
	"github.com/JakeFAU/listing-crawler/internal/report"
	"github.com/JakeFAU/listing-crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("crawler exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	browser, err := buildBrowser(cfg, logger.Named("browser"))
	if err != nil {
		return err
	}
	eng, err := engine.New(browser, engine.Config{
		BaseURL:           cfg.Crawler.BaseURL,
		MaxAttempts:       cfg.Crawler.MaxAttempts,
		SettleDelay:       cfg.Crawler.SettleDelay(),
		NavigationTimeout: time.Duration(cfg.Crawler.NavTimeoutSeconds) * time.Second,
		ReadinessTimeout:  time.Duration(cfg.Crawler.ReadinessTimeoutSeconds) * time.Second,
		ReadinessSelector: cfg.Crawler.ReadinessSelector,
		ItemSelector:      cfg.Crawler.ItemSelector,
	}, clock, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	store, closeStore, err := buildResultStore(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, stopPublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopPublisher()

	renderer, err := report.New()
	if err != nil {
		return fmt.Errorf("build report renderer: %w", err)
	}

	registry := notify.NewRegistry(cfg.Notify.Recipients)
	notifier := notify.New(publisher, registry, notify.Config{
		Topic:   cfg.PubSub.TopicName,
		Timeout: cfg.Notify.NotifyTimeout(),
	}, logger.Named("notify"))

	queue := queueMemory.NewQueue(cfg.Crawler.GlobalQueueDepth)
	hasher := sha256.New()
	workerCfg := worker.Config{
		ReportPrefix: cfg.Storage.Prefix,
		JobTimeout:   cfg.Crawler.JobBudget(),
	}
	workers := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			blobs,
			eng,
			renderer,
			hasher,
			clock,
			notifier,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	drainer := worker.New(queue, store, nil, nil, nil, nil, clock, nil, workerCfg, logger.Named("worker"))
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(store, blobs, dispatch, registry, uuid.New(), clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started",
			zap.Int("workers", len(workers)),
			zap.String("backend", cfg.Crawler.Backend),
		)
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers still running at shutdown deadline")
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDrain()
	if n := drainer.CancelPending(drainCtx); n > 0 {
		logger.Info("canceled pending jobs", zap.Int("count", n))
	}
	notifier.Wait()
	logger.Info("shutdown complete")
	return nil
}
