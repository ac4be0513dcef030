// Package main hosts the listing crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates POST /v1/crawls requests (source, sort mode, target count in
//     [crawler.min_target, crawler.max_target]), persists a queued job through the ResultStore, and enqueues it.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by crawler.queue_depth and are fanned
//     out to a fixed worker pool sized by crawler.concurrency.
//   - Crawl engine: each worker runs internal/engine, which opens one browser session per crawl, scrolls, waits for
//     the settle delay, snapshots the markup, and keeps new complete posts until the target is met, the page stops
//     growing, or the attempt budget runs out. crawler.backend selects chromedp (headless) or Colly (paged).
//   - Persistence & fanout: records land in memory or Postgres; an HTML report is rendered and written to the
//     configured BlobStore (memory/local/GCS); a notification is published to Pub/Sub when a recipient is named.
//   - Plumbing: Viper config from file and CRAWLER_* env vars, zap logging, Prometheus metrics at /metrics.
//
// Operational notes:
//   - Concurrency: bounded queue plus fixed worker pool; the headless backend has its own process semaphore and a
//     navigation rate limiter.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server, closes the queue, cancels in-flight crawls (their partial
//     records are kept and the jobs marked canceled), and waits for pending notifications.
//
// Run locally: go run ./cmd/listingcrawler -config config.yaml (or rely solely on env overrides).
package main
