// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package postgres implements the warehouse driver for PostgreSQL.
//
// Postgres has no QUALIFY clause, so generated SQL falls back to subquery
// row numbering. Validation uses EXPLAIN and reports zero cost.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Driver is the PostgreSQL backend.
type Driver struct {
	pool   *pgxpool.Pool
	schema string
}

// New opens a pgx connection pool from config. The pool is lazy;
// connectivity errors surface on first use.
func New(ctx context.Context, cfg *config.Config) (backend.Driver, error) {
	pc := cfg.Postgres
	if pc.Host == "" || pc.Database == "" || pc.User == "" {
		return nil, errors.New("postgres backend requires host, database, and user")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Driver{pool: pool, schema: pc.Schema}, nil
}

// Name implements backend.Driver.
func (*Driver) Name() string { return config.BackendPostgres }

// Dialect implements backend.Driver.
func (*Driver) Dialect() string { return dialect.Postgres }

// SupportsQualify implements backend.Driver.
func (*Driver) SupportsQualify() bool { return false }

// QualifiedTable returns the schema.table form.
func (d *Driver) QualifiedTable(logical string) string {
	return fmt.Sprintf("%s.%s", d.schema, logical)
}

// AgeExpression computes age in years as of today.
func (*Driver) AgeExpression(birthColumn string) string {
	return fmt.Sprintf("EXTRACT(YEAR FROM age(CURRENT_DATE, %s))::INT", birthColumn)
}

// DateDiffExpression builds the per-unit Postgres form; there is no single
// datediff function.
func (*Driver) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	switch unit {
	case backend.UnitDay:
		return fmt.Sprintf("((%s)::date - (%s)::date)", end, start)
	case backend.UnitMonth:
		return fmt.Sprintf(
			"(EXTRACT(YEAR FROM age(%s, %s)) * 12 + EXTRACT(MONTH FROM age(%s, %s)))::INT",
			end, start, end, start)
	default:
		return fmt.Sprintf("EXTRACT(YEAR FROM age(%s, %s))::INT", end, start)
	}
}

// ListTables reads the live schema from information_schema.
func (d *Driver) ListTables(ctx context.Context) (map[string]backend.TableSchema, error) {
	query := `SELECT lower(table_name), lower(column_name), lower(data_type)
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`
	rows, err := d.pool.Query(ctx, query, d.schema)
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
	rows, err := d.pool.Query(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	rows.Close()
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

	rows, err := d.pool.Query(ctx, sqlText)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", omop.ErrValidationFailed, err)
	}
	defer rows.Close()

	out, err := scanPgxRows(rows, rowLimit)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
	}
	return out, err
}

// Close releases the pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// scanPgxRows drains a pgx result set into string-keyed row maps, stopping
// at rowLimit. pgx does not share database/sql's Rows type, so the generic
// backend.ScanRows helper does not apply here.
func scanPgxRows(rows pgx.Rows, rowLimit int) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0, min(rowLimit, 64))
	for rows.Next() {
		if len(out) >= rowLimit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
