// Package client talks to a running lathe daemon over its HTTP API. The CLI
// uses it for submissions, status queries, cancellations, and for following
// the NDJSON progress streams.
package client
