// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes; GET /metrics for Prometheus.
//   - /v1/stores for browsing stores and applying manual overrides.
//   - /v1/queues for pending URL, pending email and review queues.
//   - /v1/email-scraping and /v1/url-finding to drive the worker pools.
//   - /v1/jobs for review listing ingests, /v1/statistics and /v1/export.
package api
