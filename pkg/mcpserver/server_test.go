// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
	"github.com/clinmetrics/omop-mcp/pkg/vocabulary"
)

// fakeVocab serves a fixed concept corpus.
type fakeVocab struct {
	concepts      []omop.Concept
	relationships []omop.Relationship
}

func (f *fakeVocab) Search(_ context.Context, _ string, _, _ string, standardOnly bool, limit, offset int) (*vocabulary.SearchPage, error) {
	var matches []omop.Concept
	for _, c := range f.concepts {
		if standardOnly && !c.IsStandard() {
			continue
		}
		matches = append(matches, c)
	}
	total := int64(len(matches))
	if offset > len(matches) {
		offset = len(matches)
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	page := &vocabulary.SearchPage{Concepts: matches[offset:end], TotalCount: total}
	if end < len(matches) {
		next := end
		page.NextOffset = &next
	}
	return page, nil
}

func (f *fakeVocab) GetConcept(_ context.Context, id int64) (*omop.Concept, error) {
	for _, c := range f.concepts {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: concept %d", omop.ErrNotFound, id)
}

func (f *fakeVocab) GetRelationships(_ context.Context, _ int64, _ string) ([]omop.Relationship, error) {
	return f.relationships, nil
}

// fakeWarehouse emulates the cloud column-store driver: backticked
// three-part table names, dry-run pricing, QUALIFY support.
type fakeWarehouse struct {
	validation *omop.SQLValidationResult
	rows       []map[string]any
	validated  int
	executed   int
}

func (*fakeWarehouse) Name() string          { return "bigquery" }
func (*fakeWarehouse) Dialect() string       { return "bigquery" }
func (*fakeWarehouse) SupportsQualify() bool { return true }

func (*fakeWarehouse) QualifiedTable(t string) string {
	return fmt.Sprintf("`my-project.cdm.%s`", t)
}
func (*fakeWarehouse) AgeExpression(col string) string {
	return fmt.Sprintf("DATE_DIFF(CURRENT_DATE(), DATE(%s), YEAR)", col)
}
func (*fakeWarehouse) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	return fmt.Sprintf("DATE_DIFF(%s, %s, %s)", end, start, unit)
}
func (*fakeWarehouse) ListTables(context.Context) (map[string]backend.TableSchema, error) {
	return nil, nil
}
func (d *fakeWarehouse) Validate(context.Context, string) (*omop.SQLValidationResult, error) {
	d.validated++
	if d.validation != nil {
		return d.validation, nil
	}
	return &omop.SQLValidationResult{Valid: true, BytesProcessed: 1 << 30, EstimatedCostUSD: 0.005}, nil
}
func (d *fakeWarehouse) Execute(context.Context, string, int, time.Duration) ([]map[string]any, error) {
	d.executed++
	return d.rows, nil
}
func (*fakeWarehouse) Close() error { return nil }

type fakeProvider struct {
	driver backend.Driver
}

func (p *fakeProvider) Get(context.Context, string) (backend.Driver, error) { return p.driver, nil }
func (p *fakeProvider) List() []omop.BackendCapability {
	return []omop.BackendCapability{{
		Name:     "bigquery",
		Dialect:  "bigquery",
		Features: []string{omop.FeatureDryRun, omop.FeatureCostEstimate, omop.FeatureExecute, omop.FeatureTranslate},
		Status:   omop.StatusLive,
	}}
}
func (p *fakeProvider) Default() string { return "bigquery" }

func fluConcepts() []omop.Concept {
	return []omop.Concept{
		{ID: 4171852, Name: "Influenza", Domain: omop.DomainCondition, Vocabulary: "SNOMED", Standard: omop.StandardConcept},
		{ID: 4171853, Name: "Influenza-like illness", Domain: omop.DomainCondition, Vocabulary: "SNOMED", Standard: omop.StandardConcept},
		{ID: 45542411, Name: "Flu (source code)", Domain: omop.DomainCondition, Vocabulary: "ICD10CM", Standard: omop.NonStandardConcept},
	}
}

func newTestServer(vocab VocabularyService, driver backend.Driver) *Server {
	cfg := &config.Config{
		MaxQueryCostUSD:    1.0,
		QueryTimeoutSec:    30,
		DefaultRowLimit:    1000,
		MaxRowLimit:        10000,
		OMOPAllowedTables:  omop.StandardTables,
		OMOPBlockedColumns: omop.PHIBlockedColumns,
		BackendType:        "bigquery",
	}
	return New(cfg, vocab, &fakeProvider{driver: driver})
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func decodeError(t *testing.T, result *mcp.CallToolResult) errorPayload {
	t.Helper()
	require.True(t, result.IsError)
	var payload errorPayload
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	return payload
}

func TestDiscoverConcepts(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{concepts: fluConcepts()}, &fakeWarehouse{})
	result, err := s.handleDiscoverConcepts(context.Background(), callTool("discover_concepts", map[string]any{
		"query":         "influenza",
		"domain":        "Condition",
		"standard_only": true,
		"limit":         float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var discovery omop.ConceptDiscoveryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &discovery))
	assert.Len(t, discovery.ConceptIDs, 2)
	assert.Len(t, discovery.StandardConcepts, 2)
	assert.Equal(t, "Condition", discovery.Metadata["domain"])
	assert.Equal(t, "true", discovery.Metadata["standard_only"])
	assert.Equal(t, "5", discovery.Metadata["limit"])
}

func TestDiscoverConceptsCSV(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{concepts: fluConcepts()}, &fakeWarehouse{})
	result, err := s.handleDiscoverConcepts(context.Background(), callTool("discover_concepts", map[string]any{
		"query":  "influenza",
		"format": "csv",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	lines := strings.Split(strings.TrimSpace(resultText(t, result)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "concept_id,concept_name,domain,vocabulary,concept_class,standard_concept,concept_code", lines[0])
	assert.Contains(t, lines[1], "4171852,Influenza,Condition,SNOMED")

	result, err = s.handleDiscoverConcepts(context.Background(), callTool("discover_concepts", map[string]any{
		"query":  "influenza",
		"format": "parquet",
	}))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", decodeError(t, result).Code)
}

func TestDiscoverConceptsValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{}, &fakeWarehouse{})

	result, err := s.handleDiscoverConcepts(context.Background(), callTool("discover_concepts", map[string]any{
		"query": "flu", "limit": float64(500),
	}))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", decodeError(t, result).Code)

	result, err = s.handleDiscoverConcepts(context.Background(), callTool("discover_concepts", map[string]any{
		"query": "flu", "domain": "Potions",
	}))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", decodeError(t, result).Code)
}

func TestQueryOMOPDryRun(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleQueryOMOP(context.Background(), callTool("query_omop", map[string]any{
		"query_type":  "count",
		"concept_ids": []any{float64(4171852), float64(4171853)},
		"domain":      "Condition",
		"backend":     "bigquery",
		"execute":     false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var qr omop.QueryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &qr))
	assert.Contains(t, qr.SQL, "COUNT(DISTINCT person_id)")
	assert.Contains(t, qr.SQL, "`my-project.cdm.condition_occurrence`")
	assert.Contains(t, qr.SQL, "condition_concept_id IN (4171852, 4171853)")
	assert.Equal(t, 0.005, qr.EstimatedCostUSD)
	assert.Nil(t, qr.Rows)
	assert.Equal(t, 1, driver.validated)
	assert.Zero(t, driver.executed)
}

func TestQueryOMOPCostCap(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{validation: &omop.SQLValidationResult{
		Valid: true, BytesProcessed: 1 << 40, EstimatedCostUSD: 5.0,
	}}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleQueryOMOP(context.Background(), callTool("query_omop", map[string]any{
		"query_type":  "count",
		"concept_ids": []any{float64(4171852)},
		"domain":      "Condition",
		"execute":     true,
	}))
	require.NoError(t, err)

	payload := decodeError(t, result)
	assert.Equal(t, "cost_limit_exceeded", payload.Code)
	assert.Equal(t, 5.0, payload.Details["estimated_cost_usd"])
	assert.Equal(t, 1.0, payload.Details["cost_limit_usd"])
	assert.NotEmpty(t, payload.Details["sql"])
	assert.Zero(t, driver.executed)
}

func TestGenerateCohortSQL(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{}, &fakeWarehouse{})
	result, err := s.handleGenerateCohortSQL(context.Background(), callTool("generate_cohort_sql", map[string]any{
		"exposure_ids":     []any{float64(1503297)},
		"outcome_ids":      []any{float64(46271022)},
		"pre_outcome_days": float64(90),
		"backend":          "bigquery",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var cohort omop.CohortSQLResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &cohort))
	assert.Contains(t, cohort.SQL, "WITH exposure AS (")
	assert.Contains(t, cohort.SQL, "outcome AS (")
	assert.Contains(t, cohort.SQL, "cohort AS (")
	assert.Contains(t, cohort.SQL, "ON e.person_id = o.person_id")
	assert.Contains(t, cohort.SQL, "DATE_DIFF(o.outcome_date, e.exposure_date, DAY) <= 90")
	assert.Contains(t, cohort.SQL, "QUALIFY ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY exposure_date) = 1")
	assert.Equal(t, 1, cohort.ExposureConceptCount)
	assert.Equal(t, 1, cohort.OutcomeConceptCount)
	require.NotNil(t, cohort.Validation)
	assert.True(t, cohort.Validation.Valid)
}

func TestSelectQueryRejectsMutation(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleSelectQuery(context.Background(), callTool("select_query", map[string]any{
		"sql": "DELETE FROM person",
	}))
	require.NoError(t, err)

	payload := decodeError(t, result)
	assert.Equal(t, "security_violation", payload.Code)
	assert.Zero(t, driver.validated)
	assert.Zero(t, driver.executed)
}

func TestSelectQueryExecutes(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{rows: []map[string]any{{"patient_count": float64(42)}}}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleSelectQuery(context.Background(), callTool("select_query", map[string]any{
		"sql":   "SELECT COUNT(DISTINCT person_id) AS patient_count FROM person",
		"limit": float64(10),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var qr omop.QueryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &qr))
	assert.Equal(t, 1, qr.RowCount)
	assert.True(t, strings.HasSuffix(qr.SQL, "LIMIT 10"))
	assert.Equal(t, 1, driver.validated)
	assert.Equal(t, 1, driver.executed)
}

func TestSelectQueryTranslatesDialect(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleSelectQuery(context.Background(), callTool("select_query", map[string]any{
		"sql":            "SELECT DATEDIFF(DAY, start_date, end_date) AS days FROM observation_period",
		"source_dialect": "snowflake",
		"execute":        false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var qr omop.QueryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &qr))
	assert.Contains(t, qr.SQL, "DATE_DIFF(end_date, start_date, DAY)")
	assert.NotContains(t, qr.SQL, "DATEDIFF(")
	assert.Equal(t, 1, driver.validated)

	result, err = s.handleSelectQuery(context.Background(), callTool("select_query", map[string]any{
		"sql":            "SELECT person_id FROM person QUALIFY ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY person_id) = 1",
		"source_dialect": "oracle",
	}))
	require.NoError(t, err)
	assert.Equal(t, "dialect_error", decodeError(t, result).Code)
}

func TestSelectQueryCSVFormat(t *testing.T) {
	t.Parallel()

	driver := &fakeWarehouse{rows: []map[string]any{
		{"gender_concept_id": int64(8507), "patient_count": int64(120)},
		{"gender_concept_id": int64(8532), "patient_count": int64(141)},
	}}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleSelectQuery(context.Background(), callTool("select_query", map[string]any{
		"sql":    "SELECT gender_concept_id, COUNT(*) AS patient_count FROM person GROUP BY gender_concept_id",
		"format": "csv",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	lines := strings.Split(strings.TrimSpace(resultText(t, result)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "gender_concept_id,patient_count", lines[0])
	assert.Equal(t, "8507,120", lines[1])
	assert.Equal(t, 1, driver.executed)
}

func TestGetInformationSchema(t *testing.T) {
	t.Parallel()

	driver := &schemaWarehouse{fakeWarehouse: &fakeWarehouse{}, schema: map[string]backend.TableSchema{
		"person": {
			Columns:     []string{"person_id", "gender_concept_id", "person_source_value"},
			DateColumns: nil,
		},
		"staging_tmp": {Columns: []string{"x"}},
	}}
	s := newTestServer(&fakeVocab{}, driver)
	result, err := s.handleGetInformationSchema(context.Background(), callTool("get_information_schema", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		Backend string        `json:"backend"`
		Tables  []schemaTable `json:"tables"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	require.Equal(t, 2, body.Count)

	assert.Equal(t, "person", body.Tables[0].Name)
	assert.True(t, body.Tables[0].Standard)
	assert.False(t, body.Tables[1].Standard)

	byName := map[string]schemaColumn{}
	for _, c := range body.Tables[0].Columns {
		byName[c.Name] = c
	}
	assert.True(t, byName["person_id"].Standard)
	assert.True(t, byName["person_source_value"].Blocked)
}

// schemaWarehouse overlays a canned schema on fakeWarehouse.
type schemaWarehouse struct {
	*fakeWarehouse
	schema map[string]backend.TableSchema
}

func (d *schemaWarehouse) ListTables(context.Context) (map[string]backend.TableSchema, error) {
	return d.schema, nil
}

func TestSearchResourcePagination(t *testing.T) {
	t.Parallel()

	concepts := make([]omop.Concept, 7)
	for i := range concepts {
		concepts[i] = omop.Concept{
			ID: int64(201826 + i), Name: fmt.Sprintf("diabetes %d", i),
			Domain: omop.DomainCondition, Standard: omop.StandardConcept,
		}
	}
	s := newTestServer(&fakeVocab{concepts: concepts}, &fakeWarehouse{})

	type searchBody struct {
		Concepts   []omop.Concept `json:"concepts"`
		NextCursor string         `json:"next_cursor"`
	}

	uri := "search://?query=diabetes&page_size=2"
	var sizes []int
	seen := map[int64]bool{}
	for page := 0; page < 10; page++ {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = uri
		contents, err := s.handleSearchResource(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, contents, 1)

		var body searchBody
		require.NoError(t, json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &body))
		sizes = append(sizes, len(body.Concepts))
		for _, c := range body.Concepts {
			assert.False(t, seen[c.ID], "concept %d repeated", c.ID)
			seen[c.ID] = true
		}
		if body.NextCursor == "" {
			break
		}
		uri = "search://?query=diabetes&page_size=2&cursor=" + body.NextCursor
	}

	assert.Equal(t, []int{2, 2, 2, 1}, sizes)
	assert.Len(t, seen, 7)
}

func TestSearchResourceMalformedCursor(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{}, &fakeWarehouse{})
	for _, cursor := range []string{"page:3", "offset:abc", "offset:-1"} {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = "search://?query=diabetes&cursor=" + cursor
		_, err := s.handleSearchResource(context.Background(), req)
		assert.ErrorIs(t, err, omop.ErrInvalidRequest, "cursor %q", cursor)
	}
}

func TestConceptResource(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{concepts: fluConcepts()}, &fakeWarehouse{})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "concept://4171852"
	contents, err := s.handleConceptResource(context.Background(), req)
	require.NoError(t, err)

	var concept omop.Concept
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &concept))
	assert.Equal(t, "Influenza", concept.Name)

	req.Params.URI = "concept://999"
	_, err = s.handleConceptResource(context.Background(), req)
	assert.ErrorIs(t, err, omop.ErrNotFound)

	req.Params.URI = "concept://not-a-number"
	_, err = s.handleConceptResource(context.Background(), req)
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}

func TestCapabilitiesResource(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{}, &fakeWarehouse{})
	req := mcp.ReadResourceRequest{}
	req.Params.URI = "capabilities://"
	contents, err := s.handleCapabilitiesResource(context.Background(), req)
	require.NoError(t, err)

	var body struct {
		Backends []omop.BackendCapability `json:"backends"`
		Default  string                   `json:"default"`
	}
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &body))
	require.Len(t, body.Backends, 1)
	assert.Equal(t, "bigquery", body.Default)

	documented := map[string]bool{
		omop.FeatureDryRun: true, omop.FeatureCostEstimate: true,
		omop.FeatureExecute: true, omop.FeatureExplain: true,
		omop.FeatureTranslate: true, omop.FeatureLocal: true,
	}
	for _, feature := range body.Backends[0].Features {
		assert.True(t, documented[feature], "undocumented feature %s", feature)
	}
}

func TestPromptsRequireArguments(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeVocab{}, &fakeWarehouse{})

	req := mcp.GetPromptRequest{}
	req.Params.Name = "cohort/sql"
	req.Params.Arguments = map[string]string{"exposure": "metformin"}
	_, err := s.handleCohortSQLPrompt(context.Background(), req)
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)

	req.Params.Arguments = map[string]string{
		"exposure": "metformin", "outcome": "acute kidney injury",
		"time_window": "90", "dialect": "bigquery",
	}
	result, err := s.handleCohortSQLPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	text, ok := mcp.AsTextContent(result.Messages[0].Content)
	require.True(t, ok)
	assert.Contains(t, text.Text, "metformin")
	assert.Contains(t, text.Text, "bigquery")
}
