// Package cmd defines the CLI commands for the s3uploader executable.
//
// Architecture overview:
//   - serve: runs the HTTP API (internal/api) in front of a single sync engine (internal/syncer). The engine walks
//     the source tree with the exclusion policy (internal/exclude, internal/scan) and copies every file to the
//     object store chosen by storage.driver (S3, MinIO, GCS, local mirror, or memory).
//   - scan: prints the size and file count the next sync would upload, optionally listing every entry and the
//     reason it was kept or excluded.
//   - upload: runs one sync in the foreground and prints progress until it reaches a terminal state.
//
// Operational notes:
//   - Object-store credentials (AWS_S3_ENDPOINT, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_S3_BUCKET,
//     AWS_REGION) and S3UPLOADER_EXCLUDE_UPLOAD are read on every sync, so they can change without a restart.
//   - Progress events are batched by a hub and fanned out to logs, Prometheus, the run history store (Postgres
//     when database.dsn is set, memory otherwise), and an optional Pub/Sub topic.
//   - SIGINT/SIGTERM cancel a running sync and drain the HTTP server within server.shutdown_timeout_seconds.
package cmd
