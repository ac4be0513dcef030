// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the result store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Outcome reports why a crawl stopped.
type Outcome string

// Crawl outcomes produced by the engine.
const (
	OutcomeTargetReached     Outcome = "target_reached"
	OutcomeStalled           Outcome = "stalled"
	OutcomeAttemptsExhausted Outcome = "attempts_exhausted"
	OutcomeAborted           Outcome = "aborted"
	OutcomeCanceled          Outcome = "canceled"
	OutcomeInvalid           Outcome = "invalid"
)

// Request names one listing to crawl.
type Request struct {
	Source      string `json:"source"`
	SortMode    string `json:"sort_mode"`
	TargetCount int    `json:"target_count"`
}

// Result is what a single crawl invocation returns. Err carries the failure
// reason for observability; callers treat an empty Records slice as
// "nothing crawled" regardless of Err.
type Result struct {
	Records  []Record
	Outcome  Outcome
	Attempts int
	Err      error
}

// JobParameters captures the crawl requested by the client.
type JobParameters struct {
	Request
	Recipient string `json:"recipient,omitempty"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	ReportURI  string        `json:"report_uri,omitempty"`
}

// JobCounters tracks crawl statistics per job.
type JobCounters struct {
	RecordsAccepted int `json:"records_accepted"`
	ScrollAttempts  int `json:"scroll_attempts"`
}

// CrawlResult is the persisted parent row of one completed crawl; Records
// fan out as child rows.
type CrawlResult struct {
	CrawlID   string    `json:"crawl_id"`
	Source    string    `json:"source"`
	SortMode  string    `json:"sort_mode"`
	Requested int       `json:"requested"`
	Outcome   Outcome   `json:"outcome"`
	CrawledAt time.Time `json:"crawled_at"`
	Records   []Record  `json:"records"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
