// Package api hosts the operator HTTP server that runs alongside an export
// run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current run snapshot.
//   - GET /v1/backlog for the number of tracked export jobs.
package api
