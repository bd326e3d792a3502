// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package duckdb implements the embedded warehouse driver.
//
// The database is in-memory by default or file-backed when a path is
// configured. EXPLAIN validates; cost is always zero.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" database/sql driver

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Driver is the embedded DuckDB backend.
type Driver struct {
	db     *sql.DB
	schema string
}

// New opens a DuckDB database from config. An empty path means in-memory.
func New(_ context.Context, cfg *config.Config) (backend.Driver, error) {
	db, err := sql.Open("duckdb", cfg.DuckDB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database: %w", err)
	}
	return &Driver{db: db, schema: cfg.DuckDB.Schema}, nil
}

// Name implements backend.Driver.
func (*Driver) Name() string { return config.BackendDuckDB }

// Dialect implements backend.Driver.
func (*Driver) Dialect() string { return dialect.DuckDB }

// SupportsQualify implements backend.Driver.
func (*Driver) SupportsQualify() bool { return true }

// QualifiedTable returns the bare name in the default schema, or
// schema.table when a schema is configured.
func (d *Driver) QualifiedTable(logical string) string {
	if d.schema == "" || d.schema == "main" {
		return logical
	}
	return fmt.Sprintf("%s.%s", d.schema, logical)
}

// AgeExpression computes age in years as of today.
func (*Driver) AgeExpression(birthColumn string) string {
	return fmt.Sprintf("date_diff('year', %s, current_date)", birthColumn)
}

// DateDiffExpression returns DuckDB's lowercased functional form.
func (*Driver) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	return fmt.Sprintf("date_diff('%s', %s, %s)", strings.ToLower(string(unit)), start, end)
}

// ListTables reads the live schema from information_schema.
func (d *Driver) ListTables(ctx context.Context) (map[string]backend.TableSchema, error) {
	schema := d.schema
	if schema == "" {
		schema = "main"
	}
	query := `SELECT lower(table_name), lower(column_name), lower(data_type)
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`
	rows, err := d.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list tables: %v", omop.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]backend.TableSchema)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		s := out[table]
		s.Columns = append(s.Columns, column)
		if strings.Contains(dataType, "date") || strings.Contains(dataType, "timestamp") {
			s.DateColumns = append(s.DateColumns, column)
		}
		out[table] = s
	}
	return out, rows.Err()
}

// Validate EXPLAINs sql; cost is always zero.
func (d *Driver) Validate(ctx context.Context, sqlText string) (*omop.SQLValidationResult, error) {
	if err := backend.CheckReadOnly(sqlText, d.Dialect()); err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	rows, err := d.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	defer rows.Close()
	if err := rows.Err(); err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	return &omop.SQLValidationResult{Valid: true}, nil
}

// Execute runs sql with a trailing limit and a hard deadline.
func (d *Driver) Execute(ctx context.Context, sqlText string, rowLimit int, timeout time.Duration) ([]map[string]any, error) {
	if err := backend.CheckReadOnly(sqlText, d.Dialect()); err != nil {
		return nil, err
	}
	sqlText, err := backend.EnsureLimit(sqlText, rowLimit)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, sqlText)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", omop.ErrValidationFailed, err)
	}
	defer rows.Close()
	out, err := backend.ScanRows(rows, rowLimit)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
	}
	return out, err
}

// Close releases the database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}
