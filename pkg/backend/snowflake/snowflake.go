// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package snowflake implements the warehouse driver for Snowflake.
//
// Validation uses EXPLAIN and reports zero cost; Snowflake's dry-run has no
// public pricing API.
package snowflake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Driver is the Snowflake backend.
type Driver struct {
	db       *sql.DB
	database string
	schema   string
}

// New opens a Snowflake connection pool from config. The pool is lazy;
// connectivity errors surface on first use.
func New(_ context.Context, cfg *config.Config) (backend.Driver, error) {
	sc := cfg.Snowflake
	if sc.Account == "" || sc.User == "" || sc.Database == "" {
		return nil, errors.New("snowflake backend requires account, user, and database")
	}
	dsn, err := sf.DSN(&sf.Config{
		Account:   sc.Account,
		User:      sc.User,
		Password:  sc.Password,
		Warehouse: sc.Warehouse,
		Database:  sc.Database,
		Schema:    sc.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake DSN: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &Driver{db: db, database: sc.Database, schema: sc.Schema}, nil
}

// Name implements backend.Driver.
func (*Driver) Name() string { return config.BackendSnowflake }

// Dialect implements backend.Driver.
func (*Driver) Dialect() string { return dialect.Snowflake }

// SupportsQualify implements backend.Driver.
func (*Driver) SupportsQualify() bool { return true }

// QualifiedTable returns the database.schema.table form.
func (d *Driver) QualifiedTable(logical string) string {
	return fmt.Sprintf("%s.%s.%s", d.database, d.schema, logical)
}

// AgeExpression computes age in years as of today.
func (*Driver) AgeExpression(birthColumn string) string {
	return fmt.Sprintf("DATEDIFF(YEAR, %s, CURRENT_DATE())", birthColumn)
}

// DateDiffExpression returns Snowflake's unit-first DATEDIFF form.
func (*Driver) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	return fmt.Sprintf("DATEDIFF(%s, %s, %s)", unit, start, end)
}

// ListTables reads the live schema from information_schema.
func (d *Driver) ListTables(ctx context.Context) (map[string]backend.TableSchema, error) {
	query := `SELECT LOWER(table_name), LOWER(column_name), LOWER(data_type)
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`
	rows, err := d.db.QueryContext(ctx, query, strings.ToUpper(d.schema))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list tables: %v", omop.ErrBackendUnavailable, err)
	}
	defer rows.Close()
	return collectInformationSchema(rows)
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

// Close releases the pool.
func (d *Driver) Close() error {
	return d.db.Close()
}

// collectInformationSchema folds (table, column, type) rows into schemas.
// Shared shape with the DuckDB driver, duplicated to keep the packages
// independent of each other.
func collectInformationSchema(rows *sql.Rows) (map[string]backend.TableSchema, error) {
	out := make(map[string]backend.TableSchema)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		s := out[table]
		s.Columns = append(s.Columns, column)
		if isDateType(dataType) {
			s.DateColumns = append(s.DateColumns, column)
		}
		out[table] = s
	}
	return out, rows.Err()
}

func isDateType(dataType string) bool {
	dt := strings.ToLower(dataType)
	return strings.Contains(dt, "date") || strings.Contains(dt, "timestamp")
}
