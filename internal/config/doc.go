// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Money amounts are strings parsed as decimals so they never pass through float64.
package config
