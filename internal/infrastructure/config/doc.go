// Package config loads and validates meshbridge configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// MESHBRIDGE_* environment variable overrides. Validation runs after all
// layers are applied so that an invalid file can still be rescued by the
// environment.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
