package crawler

import (
	"context"
	"io"
	"time"
)

// Browser opens isolated rendering sessions, one per crawl.
type Browser interface {
	Open(ctx context.Context, url string, navigationTimeout time.Duration) (Session, error)
}

// Session is a live rendering context bound to one listing URL. Close must be
// safe to call more than once; only the first call releases resources.
type Session interface {
	WaitForContentReady(ctx context.Context, selector string, timeout time.Duration) error
	ScrollToBottom(ctx context.Context) error
	CurrentPageHeight(ctx context.Context) (int64, error)
	SnapshotMarkup(ctx context.Context) (string, error)
	Close() error
}

// Crawler runs one crawl invocation and always returns.
type Crawler interface {
	Crawl(ctx context.Context, req Request) Result
}

// ResultStore persists jobs and their crawl results.
type ResultStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, update JobUpdate) error
	SaveResult(ctx context.Context, result CrawlResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListRecords(ctx context.Context, crawlID string) ([]Record, error)
}

// JobUpdate carries the mutable part of a job.
type JobUpdate struct {
	Status    JobStatus
	ErrorText string
	Counters  JobCounters
	Outcome   Outcome
	ReportURI string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, attrs map[string]string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
