// Package notifications pushes batch and task outcomes to an optional ntfy
// topic. With no topic configured every call is a no-op.
package notifications
