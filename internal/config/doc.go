// Package config loads and validates the TOML configuration describing the
// source tree, the configured output targets, and engine settings.
package config
