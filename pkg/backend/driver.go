// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the warehouse driver contract and the registry
// that owns driver instances for the process lifetime.
//
// Drivers are polymorphic over the capability set: dialect helpers for SQL
// generation, schema discovery, side-effect-free validation, and bounded
// execution. Callers never branch on a driver's name.
package backend

import (
	"context"
	"time"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// DateUnit is the unit accepted by DateDiffExpression.
type DateUnit string

// Supported date-diff units.
const (
	UnitDay   DateUnit = "DAY"
	UnitMonth DateUnit = "MONTH"
	UnitYear  DateUnit = "YEAR"
)

// TableSchema describes one live table: all columns plus the subset holding
// date or timestamp values. Used by the SQL generator to adapt to
// non-standard column naming.
type TableSchema struct {
	Columns     []string `json:"columns"`
	DateColumns []string `json:"date_columns"`
}

// HasColumn reports whether the schema contains the column.
func (s TableSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// HasDateColumn reports whether the column holds date/timestamp values.
func (s TableSchema) HasDateColumn(name string) bool {
	for _, c := range s.DateColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Driver is the uniform contract every warehouse backend implements.
//
// Validate never executes; Execute never mutates. Both are safe for
// concurrent use from different requests; connection sharing is the
// driver's responsibility.
type Driver interface {
	// Name returns the registry name of the backend.
	Name() string

	// Dialect returns the SQL dialect name (see pkg/dialect).
	Dialect() string

	// SupportsQualify reports whether emitted SQL may use QUALIFY.
	SupportsQualify() bool

	// QualifiedTable returns the dialect-correct fully-qualified identifier
	// for a logical OMOP table name.
	QualifiedTable(logical string) string

	// AgeExpression returns a SQL fragment computing age in years as of the
	// current date from the given birth column reference.
	AgeExpression(birthColumn string) string

	// DateDiffExpression returns the dialect's date arithmetic fragment for
	// end minus start in the given unit.
	DateDiffExpression(unit DateUnit, start, end string) string

	// ListTables discovers the live schema of the configured dataset.
	ListTables(ctx context.Context) (map[string]TableSchema, error)

	// Validate checks sql without side effects. Mutation statements yield an
	// invalid result with a security-violation message on every backend.
	Validate(ctx context.Context, sql string) (*omop.SQLValidationResult, error)

	// Execute runs a single read-only SELECT, returning at most rowLimit
	// rows. A trailing LIMIT is injected when absent. The timeout is
	// enforced with driver-native cancellation.
	Execute(ctx context.Context, sql string, rowLimit int, timeout time.Duration) ([]map[string]any, error)

	// Close releases the driver's connections.
	Close() error
}
