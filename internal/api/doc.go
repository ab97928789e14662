// Package api hosts the ops HTTP server. It sits outside the crawl core and
// only queues runs and reports on them. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/platforms and /v1/ratelimit for catalogue and throttle state.
//   - POST /v1/crawls to queue a run; GET /v1/crawls[/{run_id}] to inspect runs.
//   - POST /v1/crawls/{run_id}/cancel to stop one.
package api
