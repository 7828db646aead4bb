// Command medprice runs the pharmacy price search service (medprice serve)
// and one-off searches from the terminal (medprice search).
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics and the search endpoints. POST /api/search
//     validates the keyword, resolves the enabled sources from config plus per-request overrides and returns one
//     aggregate keyed by source.
//   - Orchestration: internal/retrieval runs every enabled source concurrently. Each source has its own deadline; a
//     slow or failing source is reported as {ok:false,error} without affecting the others.
//   - Sources: apollo, pharmeasy, netmeds and onemg render pages in one shared headless Chrome (internal/browser),
//     one tab per task. truemeds calls its JSON search API through the Colly fetcher with retry and backoff.
//   - Persistence & fanout: every search is written to the history store (memory, or Postgres when a DSN is set).
//     Raw upstream documents are optionally captured to the artifact store (memory/local/GCS). Task events flow
//     through a batching hub to log, Prometheus and Pub/Sub sinks.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap each source task.
//
// Operational notes:
//   - The browser is launched at startup when browser.prelaunch is set and relaunched lazily after a crash.
//     SIGINT/SIGTERM release it before the HTTP server drains.
//   - Per-source politeness is a token bucket keyed by source name (sources.<name>.rps / burst).
//
// Quick checklist:
//   - Configure env vars: MEDPRICE_SERVER_PORT or PORT, FRONTEND_URL, ENVIRONMENT, MEDPRICE_BROWSER_EXEC_PATH,
//     MEDPRICE_SOURCES_<NAME>_TIMEOUT_MS, MEDPRICE_DATABASE_DSN and the pubsub project/topic when needed.
//   - Run locally: go run . serve --config config.yaml (or rely solely on env overrides).
//   - One search: go run . search --sources apollo,truemeds dolo 650
package main
