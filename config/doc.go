// Package config loads and validates fabric configuration.
//
// Configuration comes from a YAML file discovered in standard locations (or
// given explicitly), optionally overlaid with a .env file and SHARPSERVER_*
// environment variables. LoadConfig applies defaults to every section that
// has them and validates the service and logging sections, plus the registry
// section when a provider is set.
package config
