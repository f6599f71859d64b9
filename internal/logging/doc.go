// Package logging builds the slog loggers used across the daemon and CLI,
// with a compact console handler for terminals, a JSON handler for machine
// consumption, typed attribute helpers, and context-derived task/batch fields.
package logging
