// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package all wires every compiled-in warehouse driver into a registry.
// It exists so pkg/backend never imports the driver packages directly.
package all

import (
	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/backend/bigquery"
	"github.com/clinmetrics/omop-mcp/pkg/backend/duckdb"
	"github.com/clinmetrics/omop-mcp/pkg/backend/postgres"
	"github.com/clinmetrics/omop-mcp/pkg/backend/snowflake"
	"github.com/clinmetrics/omop-mcp/pkg/config"
)

// Factories returns the factory map for every supported backend.
func Factories() map[string]backend.Factory {
	return map[string]backend.Factory{
		config.BackendBigQuery:  bigquery.New,
		config.BackendSnowflake: snowflake.New,
		config.BackendDuckDB:    duckdb.New,
		config.BackendPostgres:  postgres.New,
	}
}

// NewRegistry builds a registry over every supported backend.
func NewRegistry(cfg *config.Config) *backend.Registry {
	return backend.NewRegistry(cfg, Factories())
}
