// Package api defines the JSON payloads exchanged between the lathe daemon
// and its clients, plus the converters from internal records to those
// transport shapes.
package api
