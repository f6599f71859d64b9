// Package transfer implements the client-side upload queue: a per-item state
// machine with a concurrency cap, retry with backoff, cooperative pause, and
// a state file that survives process restarts.
package transfer
