// Package config loads and validates the exchange service configuration
// from YAML, with ${VAR} environment substitution and defaults for all
// optional fields.
package config
