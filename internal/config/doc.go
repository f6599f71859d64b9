// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and the CLI.
//
// Load resolves the config file (explicit path, then ~/.config/lathe, then a
// project-local lathe.toml), merges it over Default(), expands ~ in path
// fields, and validates the result so misconfiguration fails at startup with
// an actionable message rather than at dispatch time.
package config
