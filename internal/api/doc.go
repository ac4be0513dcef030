// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawl service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to submit a listing crawl.
//   - GET /v1/crawls/{crawl_id}, /records and /report to inspect results.
package api
