/*
Package config provides type-safe configuration extraction from map[string]any.

Config wraps a decoded YAML or JSON document and offers typed accessors that
fall back to a default when a key is missing or has the wrong type. Keys may
be dotted paths into nested sections:

	cfg, err := config.FromFile("epochflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	workers := cfg.Int("workers", 1)
	backend := cfg.String("recovery.backend", "memory")
	length := cfg.Duration("epoch.length", 10*time.Second)

	recovery := cfg.Sub("recovery")
	path := recovery.String("path", "")

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
