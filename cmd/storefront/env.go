package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// applyEnv overlays STOREFRONT_* variables onto cfg. Unset variables leave
// the file values in place.
func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
