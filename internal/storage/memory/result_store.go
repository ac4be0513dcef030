package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ResultStore provides an in-memory crawler.ResultStore for development/testing.
type ResultStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	results map[string]crawler.CrawlResult
	clock   crawler.Clock
}

// NewResultStore constructs a ResultStore. A nil clock uses the system clock.
func NewResultStore(clock crawler.Clock) *ResultStore {
	if clock == nil {
		clock = system.New()
	}
	return &ResultStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string]crawler.CrawlResult),
		clock:   clock,
	}
}

// CreateJob stores a new job.
func (s *ResultStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus applies update to a job. Empty Outcome and ReportURI keep
// their previous values.
func (s *ResultStore) UpdateJobStatus(_ context.Context, jobID string, update crawler.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	job.Counters = update.Counters
	if update.Outcome != "" {
		job.Outcome = update.Outcome
	}
	if update.ReportURI != "" {
		job.ReportURI = update.ReportURI
	}
	now := s.clock.Now()
	if update.Status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(update.Status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SaveResult stores a crawl result and its records together.
func (s *ResultStore) SaveResult(_ context.Context, result crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.CrawlID]; exists {
		return fmt.Errorf("result %s already saved", result.CrawlID)
	}
	result.Records = append([]crawler.Record(nil), result.Records...)
	s.results[result.CrawlID] = result
	return nil
}

// GetJob fetches a job by ID.
func (s *ResultStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}

// ListRecords returns a copy of the records saved for a crawl, in discovery order.
func (s *ResultStore) ListRecords(_ context.Context, crawlID string) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[crawlID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", crawlID, crawler.ErrNotFound)
	}
	out := make([]crawler.Record, len(result.Records))
	copy(out, result.Records)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status crawler.JobStatus) bool {
	switch status {
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		return true
	default:
		return false
	}
}
