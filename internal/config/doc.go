// Package config loads relay configuration from YAML with ${VAR}
// expansion, command-line flags and an optional .env file.
//
// Precedence, highest first: flags, environment variables bound to flags,
// the YAML file, built-in defaults.
package config
