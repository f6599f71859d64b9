// Package services defines shared utilities consumed by the worker executor
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, batch IDs, queue names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent classifications (transient vs permanent vs validation).
//
// Use these helpers when wiring new executor logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
