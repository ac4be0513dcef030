// Package worker implements the crawl job execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/notify"
	"github.com/JakeFAU/listing-crawler/internal/report"
)

const (
	dequeueBackoff    = 100 * time.Millisecond
	shutdownErrorText = "service shut down before the crawl started"
)

// Renderer turns a crawl into report bytes.
type Renderer interface {
	Render(doc report.Document) ([]byte, error)
}

// Notifier delivers report notices in the background.
type Notifier interface {
	NotifyAsync(ctx context.Context, recipient string, notice notify.Notice)
}

// Config controls Worker behavior.
type Config struct {
	ReportPrefix string
	JobTimeout   time.Duration
}

// Worker consumes queue items and runs one crawl per item.
type Worker struct {
	queue    crawler.Queue
	store    crawler.ResultStore
	blobs    crawler.BlobStore
	crawler  crawler.Crawler
	renderer Renderer
	hasher   crawler.Hasher
	clock    crawler.Clock
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. The renderer, blob store, hasher and notifier are
// optional; without them the report and notification steps are skipped.
func New(
	queue crawler.Queue,
	store crawler.ResultStore,
	blobs crawler.BlobStore,
	c crawler.Crawler,
	renderer Renderer,
	hasher crawler.Hasher,
	clock crawler.Clock,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports"
	}
	return &Worker{
		queue:    queue,
		store:    store,
		blobs:    blobs,
		crawler:  c,
		renderer: renderer,
		hasher:   hasher,
		clock:    clock,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("crawl_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// CancelPending marks every job still buffered in the queue as canceled and
// returns how many it marked. The queue must already be closed; otherwise it
// blocks until ctx ends.
func (w *Worker) CancelPending(ctx context.Context) int {
	canceled := 0
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Warn("pending job drain stopped", zap.Int("canceled", canceled), zap.Error(err))
			}
			return canceled
		}
		update := crawler.JobUpdate{
			Status:    crawler.JobStatusCanceled,
			Outcome:   crawler.OutcomeCanceled,
			ErrorText: shutdownErrorText,
		}
		if err := w.store.UpdateJobStatus(ctx, item.JobID, update); err != nil {
			w.logger.Error("cancel pending job failed", zap.String("crawl_id", item.JobID), zap.Error(err))
			continue
		}
		metrics.ObserveJob(string(crawler.JobStatusCanceled))
		canceled++
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	req := item.Params.Request
	logger := logging.ForCrawl(w.logger, item.JobID, req.Source, req.SortMode)
	// Bookkeeping writes must land even when shutdown cancels the crawl.
	storeCtx := context.WithoutCancel(ctx)

	if err := w.store.UpdateJobStatus(storeCtx, item.JobID, crawler.JobUpdate{Status: crawler.JobStatusRunning}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	crawlCtx, cancel := w.crawlContext(ctx)
	defer cancel()
	start := time.Now()
	res := w.crawler.Crawl(crawlCtx, req)
	metrics.ObserveCrawl(req.Source, string(res.Outcome), len(res.Records), res.Attempts, time.Since(start))

	update := crawler.JobUpdate{
		Status:  crawler.JobStatusSucceeded,
		Outcome: res.Outcome,
		Counters: crawler.JobCounters{
			RecordsAccepted: len(res.Records),
			ScrollAttempts:  res.Attempts,
		},
	}
	if res.Err != nil {
		update.ErrorText = res.Err.Error()
	}

	var digest string
	switch {
	case len(res.Records) == 0:
		update.Status = crawler.JobStatusFailed
		if update.ErrorText == "" {
			update.ErrorText = "no records were extracted"
		}
	default:
		crawledAt := w.now()
		result := crawler.CrawlResult{
			CrawlID:   item.JobID,
			Source:    req.Source,
			SortMode:  req.SortMode,
			Requested: req.TargetCount,
			Outcome:   res.Outcome,
			CrawledAt: crawledAt,
			Records:   res.Records,
		}
		if err := w.store.SaveResult(storeCtx, result); err != nil {
			logger.Error("save crawl result failed", zap.Error(err))
			update.Status = crawler.JobStatusFailed
			update.ErrorText = fmt.Sprintf("save result: %v", err)
			break
		}
		update.ReportURI, digest = w.publishReport(storeCtx, result, logger)
	}
	// A job timeout also cancels the crawl; only shutdown marks the job canceled.
	if res.Outcome == crawler.OutcomeCanceled && ctx.Err() != nil {
		update.Status = crawler.JobStatusCanceled
	}

	if err := w.store.UpdateJobStatus(storeCtx, item.JobID, update); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(update.Status))
	logger.Info("job finished",
		zap.String("status", string(update.Status)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("records", len(res.Records)),
	)

	if item.Params.Recipient != "" && update.ReportURI != "" && w.notifier != nil {
		w.notifier.NotifyAsync(ctx, item.Params.Recipient, notify.Notice{
			CrawlID:     item.JobID,
			ReportURI:   update.ReportURI,
			RecordCount: len(res.Records),
			Digest:      digest,
		})
	}
}

// publishReport renders and stores the HTML report. Failures are logged and
// yield an empty URI.
func (w *Worker) publishReport(ctx context.Context, result crawler.CrawlResult, logger *zap.Logger) (string, string) {
	if w.renderer == nil || w.blobs == nil {
		return "", ""
	}
	body, err := w.renderer.Render(report.Document{
		CrawlID:     result.CrawlID,
		Source:      result.Source,
		SortMode:    result.SortMode,
		Requested:   result.Requested,
		Outcome:     result.Outcome,
		GeneratedAt: result.CrawledAt,
		Records:     result.Records,
	})
	if err != nil {
		logger.Warn("render report failed", zap.Error(err))
		return "", ""
	}
	var digest string
	if w.hasher != nil {
		if digest, err = w.hasher.Hash(body); err != nil {
			logger.Warn("hash report failed", zap.Error(err))
		}
	}
	key := report.Filename(w.cfg.ReportPrefix, result.Source, result.SortMode, result.CrawlID)
	uri, err := w.blobs.PutObject(ctx, key, report.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("store report failed", zap.String("key", key), zap.Error(err))
		return "", ""
	}
	logger.Info("report stored", zap.String("uri", uri), zap.String("sha256", digest))
	return uri, digest
}

func (w *Worker) crawlContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.JobTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.JobTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
