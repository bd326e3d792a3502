// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlgen builds analytical and cohort SQL from concept id lists.
//
// All dialect-specific text comes from the driver's helpers, so the output
// runs unchanged on whichever warehouse the driver fronts. Generated SQL is
// checked against the live schema when the driver can list tables; an
// unavailable schema downgrades to a warning, never a silent emission of
// unknown columns.
package sqlgen

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// maxConceptIDs bounds one concept id list.
const maxConceptIDs = 1000

// QueryType selects the analytical query shape.
type QueryType string

// The analytical query types.
const (
	QueryCount        QueryType = "count"
	QueryBreakdown    QueryType = "breakdown"
	QueryListPatients QueryType = "list_patients"
)

// ParseQueryType validates a query type string.
func ParseQueryType(s string) (QueryType, error) {
	switch QueryType(s) {
	case QueryCount, QueryBreakdown, QueryListPatients:
		return QueryType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown query_type %q, want count, breakdown, or list_patients", omop.ErrInvalidRequest, s)
	}
}

// Result is generated SQL plus any schema-adaptation warnings.
type Result struct {
	SQL      string
	Warnings []string
}

// Generator builds SQL for one configured deployment.
type Generator struct {
	cfg *config.Config
}

// New builds a generator over the given config.
func New(cfg *config.Config) *Generator {
	return &Generator{cfg: cfg}
}

// Analytical builds a count, breakdown, or list_patients query over the
// fact table of the given domain.
func (g *Generator) Analytical(ctx context.Context, driver backend.Driver, queryType QueryType, conceptIDs []int64, domain omop.Domain, rowLimit int) (*Result, error) {
	if err := validateConceptIDs("concept_ids", conceptIDs); err != nil {
		return nil, err
	}
	if rowLimit < 1 || rowLimit > g.cfg.MaxRowLimit {
		return nil, fmt.Errorf("%w: row_limit must be within [1, %d], got %d", omop.ErrInvalidRequest, g.cfg.MaxRowLimit, rowLimit)
	}
	if queryType == QueryListPatients && !g.cfg.AllowPatientList {
		return nil, fmt.Errorf("%w: patient-level listing is disabled (allow_patient_list is false)", omop.ErrSecurityViolation)
	}
	ft, err := omop.FactTableFor(domain)
	if err != nil {
		return nil, err
	}

	schema, warnings := g.liveSchema(ctx, driver)
	if err := checkColumn(schema, ft.Table, ft.ConceptColumn); err != nil {
		return nil, err
	}

	fact := driver.QualifiedTable(ft.Table)
	filter := fmt.Sprintf("%s IN (%s)", ft.ConceptColumn, idList(conceptIDs))

	var sql string
	switch queryType {
	case QueryCount:
		sql = fmt.Sprintf("SELECT COUNT(DISTINCT person_id) AS patient_count\nFROM %s\nWHERE %s", fact, filter)
	case QueryBreakdown:
		for _, col := range []string{"gender_concept_id", "birth_datetime"} {
			if err := checkColumn(schema, "person", col); err != nil {
				return nil, err
			}
		}
		person := driver.QualifiedTable("person")
		age := driver.AgeExpression("p.birth_datetime")
		sql = fmt.Sprintf(
			"SELECT p.gender_concept_id, %s AS age, COUNT(DISTINCT f.person_id) AS patient_count\n"+
				"FROM %s f\nJOIN %s p ON f.person_id = p.person_id\nWHERE f.%s\n"+
				"GROUP BY p.gender_concept_id, age\nORDER BY patient_count DESC\nLIMIT %d",
			age, fact, person, filter, rowLimit)
	case QueryListPatients:
		sql = fmt.Sprintf("SELECT DISTINCT person_id\nFROM %s\nWHERE %s\nLIMIT %d", fact, filter, rowLimit)
	default:
		return nil, fmt.Errorf("%w: unknown query_type %q", omop.ErrInvalidRequest, queryType)
	}
	return &Result{SQL: sql, Warnings: warnings}, nil
}

// CohortParams are the inputs to Cohort. Domains default to Drug exposure
// and Condition outcome when empty.
type CohortParams struct {
	ExposureIDs    []int64
	OutcomeIDs     []int64
	PreOutcomeDays int
	ExposureDomain omop.Domain
	OutcomeDomain  omop.Domain
}

// Cohort builds the three-CTE exposure/outcome/cohort query: people whose
// first qualifying exposure precedes an outcome by at most PreOutcomeDays.
func (g *Generator) Cohort(ctx context.Context, driver backend.Driver, p CohortParams) (*Result, error) {
	if err := validateConceptIDs("exposure_ids", p.ExposureIDs); err != nil {
		return nil, err
	}
	if err := validateConceptIDs("outcome_ids", p.OutcomeIDs); err != nil {
		return nil, err
	}
	if p.PreOutcomeDays < 0 {
		return nil, fmt.Errorf("%w: pre_outcome_days must be >= 0, got %d", omop.ErrInvalidRequest, p.PreOutcomeDays)
	}
	if p.ExposureDomain == "" {
		p.ExposureDomain = omop.DomainDrug
	}
	if p.OutcomeDomain == "" {
		p.OutcomeDomain = omop.DomainCondition
	}
	expFT, err := omop.FactTableFor(p.ExposureDomain)
	if err != nil {
		return nil, err
	}
	outFT, err := omop.FactTableFor(p.OutcomeDomain)
	if err != nil {
		return nil, err
	}

	schema, warnings := g.liveSchema(ctx, driver)
	expDate, w, err := resolveDateColumn(schema, expFT.Table, expFT.DateColumn)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, w...)
	outDate, w, err := resolveDateColumn(schema, outFT.Table, outFT.DateColumn)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, w...)
	if err := checkColumn(schema, expFT.Table, expFT.ConceptColumn); err != nil {
		return nil, err
	}
	if err := checkColumn(schema, outFT.Table, outFT.ConceptColumn); err != nil {
		return nil, err
	}

	window := driver.DateDiffExpression(backend.UnitDay, "e.exposure_date", "o.outcome_date")

	var b strings.Builder
	fmt.Fprintf(&b, "WITH exposure AS (\n")
	fmt.Fprintf(&b, "  SELECT DISTINCT person_id, %s AS exposure_date\n", expDate)
	fmt.Fprintf(&b, "  FROM %s\n", driver.QualifiedTable(expFT.Table))
	fmt.Fprintf(&b, "  WHERE %s IN (%s)\n", expFT.ConceptColumn, idList(p.ExposureIDs))
	fmt.Fprintf(&b, "),\noutcome AS (\n")
	fmt.Fprintf(&b, "  SELECT DISTINCT person_id, %s AS outcome_date\n", outDate)
	fmt.Fprintf(&b, "  FROM %s\n", driver.QualifiedTable(outFT.Table))
	fmt.Fprintf(&b, "  WHERE %s IN (%s)\n", outFT.ConceptColumn, idList(p.OutcomeIDs))
	fmt.Fprintf(&b, "),\ncohort AS (\n")
	if driver.SupportsQualify() {
		fmt.Fprintf(&b, "  SELECT e.person_id AS person_id, e.exposure_date AS exposure_date, o.outcome_date AS outcome_date\n")
		fmt.Fprintf(&b, "  FROM exposure e\n  JOIN outcome o ON e.person_id = o.person_id\n")
		fmt.Fprintf(&b, "  WHERE e.exposure_date <= o.outcome_date\n    AND %s <= %d\n", window, p.PreOutcomeDays)
		fmt.Fprintf(&b, "  QUALIFY ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY exposure_date) = 1\n")
	} else {
		fmt.Fprintf(&b, "  SELECT person_id, exposure_date, outcome_date\n  FROM (\n")
		fmt.Fprintf(&b, "    SELECT e.person_id AS person_id, e.exposure_date AS exposure_date, o.outcome_date AS outcome_date,\n")
		fmt.Fprintf(&b, "      ROW_NUMBER() OVER (PARTITION BY e.person_id ORDER BY e.exposure_date) AS occurrence_rank\n")
		fmt.Fprintf(&b, "    FROM exposure e\n    JOIN outcome o ON e.person_id = o.person_id\n")
		fmt.Fprintf(&b, "    WHERE e.exposure_date <= o.outcome_date\n      AND %s <= %d\n", window, p.PreOutcomeDays)
		fmt.Fprintf(&b, "  ) ranked\n  WHERE occurrence_rank = 1\n")
	}
	fmt.Fprintf(&b, ")\nSELECT person_id, exposure_date, outcome_date\nFROM cohort")

	return &Result{SQL: b.String(), Warnings: warnings}, nil
}

// liveSchema lists tables from the driver. Discovery failure downgrades to
// a warning; a nil schema disables column checks.
func (g *Generator) liveSchema(ctx context.Context, driver backend.Driver) (map[string]backend.TableSchema, []string) {
	schema, err := driver.ListTables(ctx)
	if err != nil {
		logger.Warnf("Schema discovery failed on %s, skipping column checks: %v", driver.Name(), err)
		return nil, []string{"schema discovery unavailable; generated SQL was not checked against the live schema"}
	}
	return schema, nil
}

// resolveDateColumn returns the date column to use for table, preferring the
// canonical name and falling back to its datetime variant when the live
// schema carries only that. A missing table or an unsubstitutable column is
// an error, never an emission of unknown identifiers.
func resolveDateColumn(schema map[string]backend.TableSchema, table, column string) (string, []string, error) {
	if schema == nil {
		return column, nil, nil
	}
	ts, ok := schema[table]
	if !ok {
		return "", nil, fmt.Errorf("%w: table %s not present in live schema", omop.ErrNotFound, table)
	}
	if ts.HasColumn(column) {
		return column, nil, nil
	}
	variant := strings.TrimSuffix(column, "_date") + "_datetime"
	if ts.HasDateColumn(variant) {
		return variant, []string{fmt.Sprintf("column %s.%s missing; substituted %s", table, column, variant)}, nil
	}
	return "", nil, fmt.Errorf("%w: table %s has no usable date column for %s", omop.ErrNotFound, table, column)
}

// checkColumn verifies a required column against the live schema when one is
// available.
func checkColumn(schema map[string]backend.TableSchema, table, column string) error {
	if schema == nil {
		return nil
	}
	ts, ok := schema[table]
	if !ok {
		return fmt.Errorf("%w: table %s not present in live schema", omop.ErrNotFound, table)
	}
	if !ts.HasColumn(column) {
		return fmt.Errorf("%w: column %s.%s not present in live schema", omop.ErrNotFound, table, column)
	}
	return nil
}

// validateConceptIDs enforces the shared bounds on one concept id list.
func validateConceptIDs(field string, ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s must not be empty", omop.ErrInvalidRequest, field)
	}
	if len(ids) > maxConceptIDs {
		return fmt.Errorf("%w: %s has %d entries, limit is %d", omop.ErrInvalidRequest, field, len(ids), maxConceptIDs)
	}
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: %s contains non-positive id %d", omop.ErrInvalidRequest, field, id)
		}
	}
	return nil
}

func idList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
