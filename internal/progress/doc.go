// Package progress holds the real-time view of running work. The hub is a
// bounded ring of recent events with blocking cursor reads; the snapshot
// store keeps the latest per-task and per-batch state on disk so status
// queries do not depend on a live stream.
package progress
