// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz, /readyz for probes; /readyz reports the browser state.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/search (and the /api/apollo-search alias) for a full search.
//   - POST /api/sources/{source}/search for a single source.
//   - GET /api/searches for recent search history.
//   - GET /admin/browser and POST /admin/browser/restart, behind X-API-Key.
package api
