package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/report"
)

const (
	enqueueTimeout = 5 * time.Second
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 16
)

// Enqueuer hands accepted jobs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// RecipientResolver validates notification handles.
type RecipientResolver interface {
	Resolve(handle string) (string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	store      crawler.ResultStore
	blobs      crawler.BlobStore
	enqueuer   Enqueuer
	recipients RecipientResolver
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. recipients may
// be nil, in which case recipient handles are accepted unchecked.
func NewServer(
	store crawler.ResultStore,
	blobs crawler.BlobStore,
	enqueuer Enqueuer,
	recipients RecipientResolver,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		blobs:      blobs,
		enqueuer:   enqueuer,
		recipients: recipients,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawls", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitCrawl)
		r.Route("/{crawl_id}", func(r chi.Router) {
			r.Get("/", s.getCrawl)
			r.Get("/records", s.getRecords)
			r.Get("/report", s.getReport)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "result store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Source      string      `json:"source"`
	SortMode    string      `json:"sort_mode"`
	TargetCount json.Number `json:"target_count"`
	Recipient   string      `json:"recipient"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var body crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crawlID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit crawl failed", zap.Error(err))
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": crawlID})
}

func (s *Server) toJobParameters(body crawlRequest) (crawler.JobParameters, error) {
	if body.TargetCount == "" {
		return crawler.JobParameters{}, errors.New("target_count is required")
	}
	target, err := body.TargetCount.Int64()
	if err != nil {
		return crawler.JobParameters{}, fmt.Errorf("target_count must be an integer, got %s", body.TargetCount)
	}
	minTarget, maxTarget := s.cfg.Crawler.MinTarget, s.cfg.Crawler.MaxTarget
	if target < int64(minTarget) || target > int64(maxTarget) {
		return crawler.JobParameters{}, fmt.Errorf("target_count must be between %d and %d", minTarget, maxTarget)
	}
	sortMode := strings.ToLower(strings.TrimSpace(body.SortMode))
	if sortMode == "" {
		sortMode = s.cfg.Crawler.DefaultSortMode
	}
	req := crawler.Request{
		Source:      strings.TrimSpace(body.Source),
		SortMode:    sortMode,
		TargetCount: int(target),
	}
	if err := engine.Validate(req); err != nil {
		return crawler.JobParameters{}, err
	}
	recipient := strings.TrimSpace(body.Recipient)
	if recipient != "" && s.recipients != nil {
		if _, err := s.recipients.Resolve(recipient); err != nil {
			return crawler.JobParameters{}, err
		}
	}
	return crawler.JobParameters{Request: req, Recipient: recipient}, nil
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	crawlID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate crawl id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         crawlID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     crawlID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		update := crawler.JobUpdate{Status: crawler.JobStatusFailed, ErrorText: fmt.Sprintf("enqueue: %v", err)}
		if uerr := s.store.UpdateJobStatus(context.WithoutCancel(ctx), crawlID, update); uerr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("crawl_id", crawlID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("crawl accepted",
		zap.String("crawl_id", crawlID),
		zap.String("source", params.Source),
		zap.String("sort", params.SortMode),
		zap.Int("target", params.TargetCount),
	)
	return crawlID, nil
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	records, err := s.store.ListRecords(r.Context(), job.ID)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		records = []crawler.Record{}
	case err != nil:
		s.logger.Error("list records failed", zap.String("crawl_id", job.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch records")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"crawl_id": job.ID,
		"status":   job.Status,
		"records":  records,
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.ReportURI == "" || s.blobs == nil {
		s.writeError(w, http.StatusNotFound, "report not available")
		return
	}
	key := report.Filename(s.cfg.Storage.Prefix, job.Parameters.Source, job.Parameters.SortMode, job.ID)
	body, err := s.blobs.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "report not available")
			return
		}
		s.logger.Error("read report failed", zap.String("key", key), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read report")
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write report failed", zap.Error(err))
	}
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	crawlID := chi.URLParam(r, "crawl_id")
	job, err := s.store.GetJob(r.Context(), crawlID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "crawl not found")
			return crawler.Job{}, false
		}
		s.logger.Error("get job failed", zap.String("crawl_id", crawlID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch crawl")
		return crawler.Job{}, false
	}
	return job, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
