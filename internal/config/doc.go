// Package config loads the tasks-api runtime configuration from an optional
// YAML file, fills defaults and applies environment overrides.
package config
