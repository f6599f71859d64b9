// Package queue provides SQLite-backed persistence for batches and their
// tasks. The store owns all status transitions: the claim operation hands a
// runnable task to exactly one worker, and terminal transitions are only
// reachable from the states the lifecycle allows. Batch counters are
// recomputed from task rows so that fan-in order never changes the outcome.
package queue
