// Package config loads and validates the relay configuration from a YAML
// file and environment variables using viper. It covers the HTTP server,
// logging, the per-dependency circuit breaker table, the retry policy, the
// category/tier rate-limit table, and health probing.
package config
