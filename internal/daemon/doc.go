// Package daemon hosts the long-running lathe process: it holds the
// single-instance lock, runs the worker pools, schedules periodic
// maintenance, and serves the HTTP API including the progress streams.
package daemon
