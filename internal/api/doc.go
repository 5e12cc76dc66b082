// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /api/scrape runs one analysis for {"domain", "profile"}.
//   - GET /api/health reports liveness with a timestamp.
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
