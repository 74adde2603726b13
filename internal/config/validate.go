// Resonance - Session-Scoped Music Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

package config

import (
	"fmt"

	"github.com/tomtom215/resonance/internal/affinity"
	"github.com/tomtom215/resonance/internal/validation"
)

// Validate runs the struct tag rules of every section, then the cross-field
// checks the tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.Recommend.Validate(); err != nil {
		return err
	}
	if err := c.validateAffinity(); err != nil {
		return err
	}
	return c.validateCatalog()
}

func (c *Config) validateAffinity() error {
	a := c.Affinity
	switch a.Backend {
	case affinity.BackendBadger:
		if !a.Badger.InMemory && a.Badger.Path == "" {
			return fmt.Errorf("affinity.badger.path is required unless affinity.badger.in_memory is set")
		}
	case affinity.BackendSQL:
		if a.SQL.DSN == "" {
			return fmt.Errorf("affinity.sql.dsn is required when affinity.backend=sql")
		}
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.Source == CatalogDuckDB && c.Catalog.Table == "" {
		return fmt.Errorf("catalog.table is required when catalog.source=duckdb")
	}
	return nil
}
