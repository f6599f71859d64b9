// Package generate wraps the external generation service behind a small
// client interface. The HTTP implementation streams newline-delimited JSON
// progress lines from the service and surfaces failures through the shared
// error taxonomy so workers can decide whether to retry.
package generate
