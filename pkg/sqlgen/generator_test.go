// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// fakeDriver is an in-memory driver with a canned schema.
type fakeDriver struct {
	qualify   bool
	schema    map[string]backend.TableSchema
	schemaErr error
}

func (*fakeDriver) Name() string             { return "fake" }
func (*fakeDriver) Dialect() string          { return "duckdb" }
func (d *fakeDriver) SupportsQualify() bool  { return d.qualify }
func (*fakeDriver) QualifiedTable(t string) string { return "cdm." + t }
func (*fakeDriver) AgeExpression(col string) string {
	return fmt.Sprintf("date_diff('year', %s, current_date)", col)
}
func (*fakeDriver) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	return fmt.Sprintf("date_diff('%s', %s, %s)", strings.ToLower(string(unit)), start, end)
}
func (d *fakeDriver) ListTables(context.Context) (map[string]backend.TableSchema, error) {
	return d.schema, d.schemaErr
}
func (*fakeDriver) Validate(context.Context, string) (*omop.SQLValidationResult, error) {
	return &omop.SQLValidationResult{Valid: true}, nil
}
func (*fakeDriver) Execute(context.Context, string, int, time.Duration) ([]map[string]any, error) {
	return nil, nil
}
func (*fakeDriver) Close() error { return nil }

func cdmSchema() map[string]backend.TableSchema {
	return map[string]backend.TableSchema{
		"person": {
			Columns:     []string{"person_id", "gender_concept_id", "birth_datetime"},
			DateColumns: []string{"birth_datetime"},
		},
		"condition_occurrence": {
			Columns:     []string{"person_id", "condition_concept_id", "condition_start_date"},
			DateColumns: []string{"condition_start_date"},
		},
		"drug_exposure": {
			Columns:     []string{"person_id", "drug_concept_id", "drug_exposure_start_date"},
			DateColumns: []string{"drug_exposure_start_date"},
		},
	}
}

func testGenerator(allowPatientList bool) *Generator {
	return New(&config.Config{
		AllowPatientList: allowPatientList,
		DefaultRowLimit:  1000,
		MaxRowLimit:      10000,
	})
}

func TestAnalyticalCount(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	res, err := g.Analytical(context.Background(), &fakeDriver{schema: cdmSchema()},
		QueryCount, []int64{201826, 201254}, omop.DomainCondition, 100)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "COUNT(DISTINCT person_id)")
	assert.Contains(t, res.SQL, "FROM cdm.condition_occurrence")
	assert.Contains(t, res.SQL, "condition_concept_id IN (201826, 201254)")
	assert.Empty(t, res.Warnings)
}

func TestAnalyticalBreakdown(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	res, err := g.Analytical(context.Background(), &fakeDriver{schema: cdmSchema()},
		QueryBreakdown, []int64{1503297}, omop.DomainDrug, 50)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "JOIN cdm.person p ON f.person_id = p.person_id")
	assert.Contains(t, res.SQL, "date_diff('year', p.birth_datetime, current_date) AS age")
	assert.Contains(t, res.SQL, "GROUP BY p.gender_concept_id, age")
	assert.Contains(t, res.SQL, "ORDER BY patient_count DESC")
	assert.Contains(t, res.SQL, "LIMIT 50")
}

func TestAnalyticalBreakdownChecksPersonColumns(t *testing.T) {
	t.Parallel()

	schema := cdmSchema()
	schema["person"] = backend.TableSchema{
		Columns: []string{"person_id", "gender_concept_id", "year_of_birth"},
	}

	g := testGenerator(false)
	_, err := g.Analytical(context.Background(), &fakeDriver{schema: schema},
		QueryBreakdown, []int64{1503297}, omop.DomainDrug, 50)
	require.ErrorIs(t, err, omop.ErrNotFound)
	assert.Contains(t, err.Error(), "person.birth_datetime")
}

func TestAnalyticalListPatientsGate(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{schema: cdmSchema()}
	ids := []int64{201826}

	_, err := testGenerator(false).Analytical(context.Background(), driver,
		QueryListPatients, ids, omop.DomainCondition, 100)
	assert.ErrorIs(t, err, omop.ErrSecurityViolation)

	res, err := testGenerator(true).Analytical(context.Background(), driver,
		QueryListPatients, ids, omop.DomainCondition, 100)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "SELECT DISTINCT person_id")
}

func TestAnalyticalInputValidation(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	driver := &fakeDriver{schema: cdmSchema()}

	tests := []struct {
		name     string
		ids      []int64
		rowLimit int
	}{
		{"empty ids", nil, 100},
		{"non-positive id", []int64{201826, 0}, 100},
		{"too many ids", make([]int64, 1001), 100},
		{"zero row limit", []int64{201826}, 0},
		{"row limit above max", []int64{201826}, 10001},
	}
	for i := range tests[2].ids {
		tests[2].ids[i] = int64(i + 1)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Analytical(context.Background(), driver, QueryCount, tt.ids, omop.DomainCondition, tt.rowLimit)
			assert.ErrorIs(t, err, omop.ErrInvalidRequest)
		})
	}
}

func TestAnalyticalUnqueryableDomain(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	_, err := g.Analytical(context.Background(), &fakeDriver{schema: cdmSchema()},
		QueryCount, []int64{1}, omop.DomainDeath, 100)
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}

func TestCohortQualifyForm(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	res, err := g.Cohort(context.Background(), &fakeDriver{qualify: true, schema: cdmSchema()}, CohortParams{
		ExposureIDs:    []int64{1503297},
		OutcomeIDs:     []int64{46271022},
		PreOutcomeDays: 90,
	})
	require.NoError(t, err)

	assert.Contains(t, res.SQL, "WITH exposure AS (")
	assert.Contains(t, res.SQL, "outcome AS (")
	assert.Contains(t, res.SQL, "cohort AS (")
	assert.Contains(t, res.SQL, "JOIN outcome o ON e.person_id = o.person_id")
	assert.Contains(t, res.SQL, "e.exposure_date <= o.outcome_date")
	assert.Contains(t, res.SQL, "date_diff('day', e.exposure_date, o.outcome_date) <= 90")
	assert.Contains(t, res.SQL, "QUALIFY ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY exposure_date) = 1")
	assert.Contains(t, res.SQL, "drug_concept_id IN (1503297)")
	assert.Contains(t, res.SQL, "condition_concept_id IN (46271022)")
}

func TestCohortSubqueryFallback(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	res, err := g.Cohort(context.Background(), &fakeDriver{qualify: false, schema: cdmSchema()}, CohortParams{
		ExposureIDs:    []int64{1503297},
		OutcomeIDs:     []int64{46271022},
		PreOutcomeDays: 30,
	})
	require.NoError(t, err)

	assert.NotContains(t, res.SQL, "QUALIFY")
	assert.Contains(t, res.SQL, "ROW_NUMBER() OVER (PARTITION BY e.person_id ORDER BY e.exposure_date) AS occurrence_rank")
	assert.Contains(t, res.SQL, "WHERE occurrence_rank = 1")
}

func TestCohortInputValidation(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	driver := &fakeDriver{qualify: true, schema: cdmSchema()}

	_, err := g.Cohort(context.Background(), driver, CohortParams{
		ExposureIDs: []int64{1503297}, OutcomeIDs: nil, PreOutcomeDays: 90,
	})
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)

	_, err = g.Cohort(context.Background(), driver, CohortParams{
		ExposureIDs: []int64{1503297}, OutcomeIDs: []int64{46271022}, PreOutcomeDays: -1,
	})
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}

func TestCohortDatetimeSubstitution(t *testing.T) {
	t.Parallel()

	schema := cdmSchema()
	schema["condition_occurrence"] = backend.TableSchema{
		Columns:     []string{"person_id", "condition_concept_id", "condition_start_datetime"},
		DateColumns: []string{"condition_start_datetime"},
	}

	g := testGenerator(false)
	res, err := g.Cohort(context.Background(), &fakeDriver{qualify: true, schema: schema}, CohortParams{
		ExposureIDs: []int64{1503297}, OutcomeIDs: []int64{46271022}, PreOutcomeDays: 90,
	})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "condition_start_datetime AS outcome_date")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "condition_start_datetime")
}

func TestCohortMissingTable(t *testing.T) {
	t.Parallel()

	schema := cdmSchema()
	delete(schema, "drug_exposure")

	g := testGenerator(false)
	_, err := g.Cohort(context.Background(), &fakeDriver{qualify: true, schema: schema}, CohortParams{
		ExposureIDs: []int64{1503297}, OutcomeIDs: []int64{46271022}, PreOutcomeDays: 90,
	})
	assert.ErrorIs(t, err, omop.ErrNotFound)
}

func TestSchemaDiscoveryUnavailable(t *testing.T) {
	t.Parallel()

	g := testGenerator(false)
	driver := &fakeDriver{qualify: true, schemaErr: errors.New("warehouse offline")}

	res, err := g.Cohort(context.Background(), driver, CohortParams{
		ExposureIDs: []int64{1503297}, OutcomeIDs: []int64{46271022}, PreOutcomeDays: 90,
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "schema discovery unavailable")
	assert.Contains(t, res.SQL, "condition_start_date AS outcome_date")
}

func TestParseQueryType(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"count", "breakdown", "list_patients"} {
		qt, err := ParseQueryType(valid)
		require.NoError(t, err)
		assert.EqualValues(t, valid, qt)
	}
	_, err := ParseQueryType("drop_tables")
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}
