// Package api hosts the HTTP server, middleware, and REST handlers of the
// uploader. Every route is mounted under the configured base path:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /s3config, /foldersize and /debug describe the target and the source tree.
//   - POST /upload, GET /upload/progress and POST /upload/cancel drive the sync engine.
//   - GET /upload/history and /upload/history/{run_id} read past runs via the
//     store.RunRepository interface.
package api
