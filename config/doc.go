// Package config loads and validates gateflow configuration.
//
// Configuration is plain YAML layered over DefaultConfig. Every section has
// working defaults, so an empty file (or no file at all) yields a usable
// in-memory deployment; persistence and archiving are opt-in.
package config
