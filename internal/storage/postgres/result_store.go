// Package postgres provides a Postgres-backed crawler.ResultStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the three tables the store writes.
type Tables struct {
	Jobs    string
	Results string
	Records string
}

func (t Tables) withDefaults() (Tables, error) {
	if t.Jobs == "" {
		t.Jobs = "crawl_jobs"
	}
	if t.Results == "" {
		t.Results = "crawl_results"
	}
	if t.Records == "" {
		t.Records = "crawl_records"
	}
	for _, name := range []string{t.Jobs, t.Results, t.Records} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// ResultStore persists jobs, crawl results, and records in Postgres.
type ResultStore struct {
	pool   pool
	tables Tables
	clock  crawler.Clock
}

// New connects a pgx pool and returns a ResultStore.
func New(ctx context.Context, cfg Config, clock crawler.Clock) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Tables, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, tables Tables, clock crawler.Clock) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: p, tables: tables, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ResultStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the tables when they do not exist yet.
func (s *ResultStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	submitted_at     TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ,
	error_text       TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	sort_mode        TEXT NOT NULL,
	target_count     INTEGER NOT NULL,
	recipient        TEXT NOT NULL DEFAULT '',
	records_accepted INTEGER NOT NULL DEFAULT 0,
	scroll_attempts  INTEGER NOT NULL DEFAULT 0,
	outcome          TEXT NOT NULL DEFAULT '',
	report_uri       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS %[2]s (
	crawl_id     TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	sort_mode    TEXT NOT NULL,
	requested    INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	crawled_at   TIMESTAMPTZ NOT NULL,
	record_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS %[3]s (
	crawl_id      TEXT NOT NULL REFERENCES %[2]s (crawl_id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	post_id       TEXT NOT NULL,
	permalink     TEXT NOT NULL,
	content_url   TEXT NOT NULL,
	comment_count TEXT NOT NULL,
	title         TEXT NOT NULL,
	author        TEXT NOT NULL,
	score         TEXT NOT NULL,
	media         TEXT NOT NULL,
	captured_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (crawl_id, position),
	UNIQUE (crawl_id, post_id)
);`, s.tables.Jobs, s.tables.Results, s.tables.Records)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateJob inserts a job row.
func (s *ResultStore) CreateJob(ctx context.Context, job crawler.Job) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, source, sort_mode, target_count, recipient)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.tables.Jobs)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Submitted,
		job.Parameters.Source,
		job.Parameters.SortMode,
		job.Parameters.TargetCount,
		job.Parameters.Recipient,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus applies update to a job. Empty Outcome and ReportURI keep
// their stored values.
func (s *ResultStore) UpdateJobStatus(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	now := s.clock.Now()
	var started, finished *time.Time
	if update.Status == crawler.JobStatusRunning {
		started = &now
	}
	if isTerminal(update.Status) {
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	error_text = $2,
	records_accepted = $3,
	scroll_attempts = $4,
	outcome = COALESCE(NULLIF($5, ''), outcome),
	report_uri = COALESCE(NULLIF($6, ''), report_uri),
	started_at = COALESCE(started_at, $7),
	finished_at = COALESCE($8, finished_at)
WHERE id = $9`, s.tables.Jobs)
	tag, err := s.pool.Exec(ctx, query,
		string(update.Status),
		update.ErrorText,
		update.Counters.RecordsAccepted,
		update.Counters.ScrollAttempts,
		string(update.Outcome),
		update.ReportURI,
		started,
		finished,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// SaveResult writes the parent row and every record in one transaction.
func (s *ResultStore) SaveResult(ctx context.Context, result crawler.CrawlResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := s.insertResult(ctx, tx, result); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

func (s *ResultStore) insertResult(ctx context.Context, tx pgx.Tx, result crawler.CrawlResult) error {
	parent := fmt.Sprintf(`
INSERT INTO %s (crawl_id, source, sort_mode, requested, outcome, crawled_at, record_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.tables.Results)
	if _, err := tx.Exec(ctx, parent,
		result.CrawlID,
		result.Source,
		result.SortMode,
		result.Requested,
		string(result.Outcome),
		result.CrawledAt,
		len(result.Records),
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	child := fmt.Sprintf(`
INSERT INTO %s (crawl_id, position, post_id, permalink, content_url, comment_count, title, author, score, media, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.tables.Records)
	for i, rec := range result.Records {
		if _, err := tx.Exec(ctx, child,
			result.CrawlID,
			i,
			rec.ID,
			rec.Permalink,
			rec.ContentURL,
			rec.CommentCount,
			rec.Title,
			rec.Author,
			rec.Score,
			rec.Media,
			rec.CapturedAt,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *ResultStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, source, sort_mode,
	target_count, recipient, records_accepted, scroll_attempts, outcome, report_uri
FROM %s WHERE id = $1`, s.tables.Jobs)

	var (
		job     crawler.Job
		status  string
		outcome string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.Parameters.Source,
		&job.Parameters.SortMode,
		&job.Parameters.TargetCount,
		&job.Parameters.Recipient,
		&job.Counters.RecordsAccepted,
		&job.Counters.ScrollAttempts,
		&outcome,
		&job.ReportURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	job.Outcome = crawler.Outcome(outcome)
	return job, nil
}

// ListRecords returns the records of a crawl in discovery order.
func (s *ResultStore) ListRecords(ctx context.Context, crawlID string) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT post_id, permalink, content_url, comment_count, title, author, score, media, captured_at
FROM %s WHERE crawl_id = $1 ORDER BY position`, s.tables.Records)
	rows, err := s.pool.Query(ctx, query, crawlID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	records := []crawler.Record{}
	for rows.Next() {
		var rec crawler.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Permalink,
			&rec.ContentURL,
			&rec.CommentCount,
			&rec.Title,
			&rec.Author,
			&rec.Score,
			&rec.Media,
			&rec.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CapturedAt = rec.CapturedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	if len(records) > 0 {
		return records, nil
	}

	var exists int
	existsQuery := fmt.Sprintf(`SELECT 1 FROM %s WHERE crawl_id = $1`, s.tables.Results)
	err = s.pool.QueryRow(ctx, existsQuery, crawlID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", crawlID, crawler.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select result: %w", err)
	}
	return records, nil
}

func isTerminal(status crawler.JobStatus) bool {
	switch status {
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		return true
	default:
		return false
	}
}
