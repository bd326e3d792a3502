// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package safety runs the ordered checks that stand between generated or
// caller-supplied SQL and the warehouse.
//
// The order is fixed: statement kind, table allowlist, column blocklist,
// row limit, warehouse validation, cost cap, then execution under a
// deadline. Every failure is reported; nothing degrades silently.
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Pipeline applies the configured safety policy to SQL headed for a driver.
type Pipeline struct {
	cfg *config.Config
}

// New builds a pipeline over the given config.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Outcome is the result of a pipeline run. SQL carries the limit-adjusted
// statement; Rows is nil unless execution was requested and succeeded.
type Outcome struct {
	SQL        string
	Validation *omop.SQLValidationResult
	Rows       []map[string]any
	Executed   bool
	ElapsedMS  int64
}

// Screen runs the structural gates that need no warehouse round-trip:
// statement kind, table allowlist, column blocklist, and row limit. It
// returns the limit-adjusted SQL.
func (p *Pipeline) Screen(driver backend.Driver, sql string, rowLimit int) (string, error) {
	d := driver.Dialect()

	if err := backend.CheckReadOnly(sql, d); err != nil {
		return "", err
	}
	if err := p.checkTables(sql, d); err != nil {
		return "", err
	}
	if err := p.checkColumns(sql, d); err != nil {
		return "", err
	}
	return p.applyRowLimit(sql, rowLimit)
}

// Check runs Screen plus the warehouse validation and cost gates, and
// returns the limit-adjusted SQL with the validation result.
func (p *Pipeline) Check(ctx context.Context, driver backend.Driver, sql string, rowLimit int) (string, *omop.SQLValidationResult, error) {
	sql, err := p.Screen(driver, sql, rowLimit)
	if err != nil {
		return "", nil, err
	}

	validation, err := driver.Validate(ctx, sql)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", omop.ErrBackendUnavailable, err)
	}
	if !validation.Valid {
		return "", validation, fmt.Errorf("%w: %s", omop.ErrValidationFailed, validation.Error)
	}
	if validation.EstimatedCostUSD > p.cfg.MaxQueryCostUSD {
		return "", validation, omop.NewCostLimitError(validation.EstimatedCostUSD, p.cfg.MaxQueryCostUSD)
	}
	return sql, validation, nil
}

// Run performs Check and, when execute is set, runs the SQL under the
// configured deadline.
func (p *Pipeline) Run(ctx context.Context, driver backend.Driver, sql string, rowLimit int, execute bool) (*Outcome, error) {
	checked, validation, err := p.Check(ctx, driver, sql, rowLimit)
	if err != nil {
		return nil, err
	}
	out := &Outcome{SQL: checked, Validation: validation}
	if !execute {
		return out, nil
	}

	limit := p.cfg.EffectiveRowLimit(rowLimit)
	start := time.Now()
	rows, err := driver.Execute(ctx, checked, limit, p.cfg.QueryTimeout())
	if err != nil {
		return nil, err
	}
	out.Rows = rows
	out.Executed = true
	out.ElapsedMS = time.Since(start).Milliseconds()
	logger.Debugf("Executed query on %s: %d rows in %dms", driver.Name(), len(rows), out.ElapsedMS)
	return out, nil
}

// checkTables enforces the table allowlist when strict validation is on.
func (p *Pipeline) checkTables(sql, d string) error {
	if !p.cfg.StrictTableValidation {
		return nil
	}
	tables, err := dialect.ExtractTables(sql, d)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if !p.cfg.TableAllowed(t) {
			return fmt.Errorf("%w: table %s is not on the allowed list", omop.ErrSecurityViolation, t)
		}
	}
	return nil
}

// checkColumns enforces the PHI column blocklist unless phi_mode is on.
func (p *Pipeline) checkColumns(sql, d string) error {
	if p.cfg.PHIMode {
		return nil
	}
	columns, err := dialect.ExtractColumns(sql, d)
	if err != nil {
		return err
	}
	var blocked []string
	for _, c := range columns {
		if p.cfg.ColumnBlocked(c) {
			blocked = append(blocked, c)
		}
	}
	if len(blocked) > 0 {
		return fmt.Errorf("%w: blocked columns referenced: %s", omop.ErrSecurityViolation, strings.Join(blocked, ", "))
	}
	return nil
}

// applyRowLimit injects a trailing LIMIT when absent and rejects explicit
// limits above the configured maximum.
func (p *Pipeline) applyRowLimit(sql string, requested int) (string, error) {
	has, n, err := dialect.HasTopLevelLimit(sql)
	if err != nil {
		return "", err
	}
	if has {
		if n > int64(p.cfg.MaxRowLimit) {
			return "", fmt.Errorf("%w: LIMIT %d exceeds max_row_limit %d", omop.ErrInvalidRequest, n, p.cfg.MaxRowLimit)
		}
		return sql, nil
	}
	return backend.EnsureLimit(sql, p.cfg.EffectiveRowLimit(requested))
}
