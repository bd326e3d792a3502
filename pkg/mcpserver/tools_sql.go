// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/audit"
	"github.com/clinmetrics/omop-mcp/pkg/auth"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/export"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
	"github.com/clinmetrics/omop-mcp/pkg/sqlgen"
)

func (s *Server) registerSQLTools() {
	s.mcp.AddTool(mcp.NewTool("query_omop",
		mcp.WithDescription("Generate an analytical query over an OMOP fact table from a concept set, run it through the safety checks, and optionally execute it."),
		mcp.WithString("query_type", mcp.Required(), mcp.Description("One of count, breakdown, list_patients")),
		mcp.WithArray("concept_ids", mcp.Required(), mcp.Description("OMOP concept ids to filter on"), mcp.Items(map[string]any{"type": "number"})),
		mcp.WithString("domain", mcp.Required(), mcp.Description("OMOP domain selecting the fact table: Condition, Drug, Procedure, Measurement, Observation")),
		mcp.WithString("backend", mcp.Description("Backend to run against; defaults to the configured backend")),
		mcp.WithBoolean("execute", mcp.Description("Execute the query after validation"), mcp.DefaultBool(true)),
		mcp.WithNumber("limit", mcp.Description("Row limit; defaults to default_row_limit, capped at max_row_limit")),
	), s.handleQueryOMOP)

	s.mcp.AddTool(mcp.NewTool("generate_cohort_sql",
		mcp.WithDescription("Generate exposure/outcome cohort SQL with a temporal constraint. The SQL is returned, optionally validated, and never executed."),
		mcp.WithArray("exposure_ids", mcp.Required(), mcp.Description("Concept ids defining the exposure"), mcp.Items(map[string]any{"type": "number"})),
		mcp.WithArray("outcome_ids", mcp.Required(), mcp.Description("Concept ids defining the outcome"), mcp.Items(map[string]any{"type": "number"})),
		mcp.WithNumber("pre_outcome_days", mcp.Description("Maximum days between exposure and outcome"), mcp.DefaultNumber(90)),
		mcp.WithString("exposure_domain", mcp.Description("Domain of the exposure concepts; defaults to Drug")),
		mcp.WithString("outcome_domain", mcp.Description("Domain of the outcome concepts; defaults to Condition")),
		mcp.WithString("backend", mcp.Description("Backend whose dialect to target; defaults to the configured backend")),
		mcp.WithBoolean("validate", mcp.Description("Dry-run the generated SQL against the warehouse"), mcp.DefaultBool(true)),
	), s.handleGenerateCohortSQL)

	s.mcp.AddTool(mcp.NewTool("select_query",
		mcp.WithDescription("Run a caller-provided SELECT through the safety checks and optionally execute it. Mutation statements, blocked columns, and oversized limits are rejected."),
		mcp.WithString("sql", mcp.Required(), mcp.Description("A single SELECT or WITH...SELECT statement")),
		mcp.WithString("source_dialect", mcp.Description("Dialect the SQL is written in (bigquery, snowflake, duckdb, postgres); translated to the backend's dialect when they differ")),
		mcp.WithBoolean("validate", mcp.Description("Dry-run the SQL against the warehouse"), mcp.DefaultBool(true)),
		mcp.WithBoolean("execute", mcp.Description("Execute after validation"), mcp.DefaultBool(true)),
		mcp.WithString("backend", mcp.Description("Backend to run against; defaults to the configured backend")),
		mcp.WithNumber("limit", mcp.Description("Row limit; defaults to default_row_limit, capped at max_row_limit")),
		mcp.WithString("format", mcp.Description("Row encoding when executing: json (default), csv, or jsonl. Non-JSON formats return bare rows without the result envelope.")),
	), s.handleSelectQuery)
}

func (s *Server) handleQueryOMOP(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("query_omop")
	ev.Subject = auth.SubjectFromContext(ctx)

	queryTypeRaw, err := req.RequireString("query_type")
	if err != nil {
		err = fmt.Errorf("%w: %v", omop.ErrInvalidRequest, err)
		ev.End(err)
		return toolError(err, nil), nil
	}
	queryType, err := sqlgen.ParseQueryType(queryTypeRaw)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	conceptIDs, err := int64SliceArg(req, "concept_ids")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	domainRaw, err := req.RequireString("domain")
	if err != nil {
		err = fmt.Errorf("%w: %v", omop.ErrInvalidRequest, err)
		ev.End(err)
		return toolError(err, nil), nil
	}
	domain, err := omop.ParseDomain(domainRaw)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	execute := req.GetBool("execute", true)
	rowLimit := s.cfg.EffectiveRowLimit(req.GetInt("limit", 0))

	driver, err := s.backends.Get(ctx, req.GetString("backend", ""))
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.Backend = driver.Name()

	generated, err := s.generator.Analytical(ctx, driver, queryType, conceptIDs, domain, rowLimit)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.SQL = generated.SQL

	outcome, err := s.pipeline.Run(ctx, driver, generated.SQL, rowLimit, execute)
	if err != nil {
		ev.End(err)
		return toolError(err, sqlDetails(generated.SQL)), nil
	}

	result := omop.QueryResult{
		SQL:       outcome.SQL,
		Backend:   driver.Name(),
		Dialect:   driver.Dialect(),
		ElapsedMS: outcome.ElapsedMS,
		Warnings:  generated.Warnings,
	}
	if outcome.Validation != nil {
		result.BytesProcessed = outcome.Validation.BytesProcessed
		result.EstimatedCostUSD = outcome.Validation.EstimatedCostUSD
	}
	if outcome.Executed {
		result.Rows = outcome.Rows
		result.RowCount = len(outcome.Rows)
	}

	ev.End(nil)
	return jsonResult(result)
}

func (s *Server) handleGenerateCohortSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("generate_cohort_sql")
	ev.Subject = auth.SubjectFromContext(ctx)

	exposureIDs, err := int64SliceArg(req, "exposure_ids")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	outcomeIDs, err := int64SliceArg(req, "outcome_ids")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	exposureDomain, err := optionalDomainArg(req, "exposure_domain")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	outcomeDomain, err := optionalDomainArg(req, "outcome_domain")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	preOutcomeDays := req.GetInt("pre_outcome_days", 90)
	validate := req.GetBool("validate", true)

	driver, err := s.backends.Get(ctx, req.GetString("backend", ""))
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.Backend = driver.Name()

	generated, err := s.generator.Cohort(ctx, driver, sqlgen.CohortParams{
		ExposureIDs:    exposureIDs,
		OutcomeIDs:     outcomeIDs,
		PreOutcomeDays: preOutcomeDays,
		ExposureDomain: exposureDomain,
		OutcomeDomain:  outcomeDomain,
	})
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.SQL = generated.SQL

	result := omop.CohortSQLResult{
		SQL:                  generated.SQL,
		ExposureConceptCount: len(exposureIDs),
		OutcomeConceptCount:  len(outcomeIDs),
		Backend:              driver.Name(),
		Dialect:              driver.Dialect(),
		GeneratedAt:          time.Now().UTC(),
	}
	if validate {
		validation, err := driver.Validate(ctx, generated.SQL)
		if err != nil {
			err = fmt.Errorf("%w: %v", omop.ErrBackendUnavailable, err)
			ev.End(err)
			return toolError(err, sqlDetails(generated.SQL)), nil
		}
		result.Validation = validation
	}

	ev.End(nil)
	return jsonResult(result)
}

func (s *Server) handleSelectQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("select_query")
	ev.Subject = auth.SubjectFromContext(ctx)

	sqlText, err := req.RequireString("sql")
	if err != nil {
		err = fmt.Errorf("%w: %v", omop.ErrInvalidRequest, err)
		ev.End(err)
		return toolError(err, nil), nil
	}
	validate := req.GetBool("validate", true)
	execute := req.GetBool("execute", true)
	rowLimit := s.cfg.EffectiveRowLimit(req.GetInt("limit", 0))
	format, err := formatArg(req)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}

	driver, err := s.backends.Get(ctx, req.GetString("backend", ""))
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.Backend = driver.Name()
	ev.SQL = sqlText

	if source := req.GetString("source_dialect", ""); source != "" && source != driver.Dialect() {
		translated, err := dialect.Translate(sqlText, source, driver.Dialect())
		if err != nil {
			ev.End(err)
			return toolError(err, sqlDetails(sqlText)), nil
		}
		sqlText = translated
		ev.SQL = sqlText
	}

	result := omop.QueryResult{
		Backend: driver.Name(),
		Dialect: driver.Dialect(),
	}
	if validate || execute {
		outcome, err := s.pipeline.Run(ctx, driver, sqlText, rowLimit, execute)
		if err != nil {
			ev.End(err)
			return toolError(err, sqlDetails(sqlText)), nil
		}
		result.SQL = outcome.SQL
		result.ElapsedMS = outcome.ElapsedMS
		if outcome.Validation != nil {
			result.BytesProcessed = outcome.Validation.BytesProcessed
			result.EstimatedCostUSD = outcome.Validation.EstimatedCostUSD
		}
		if outcome.Executed {
			if format != export.FormatJSON {
				var buf bytes.Buffer
				if err := export.QueryRows(&buf, format, false, outcome.Rows); err != nil {
					ev.End(err)
					return toolError(err, sqlDetails(sqlText)), nil
				}
				ev.End(nil)
				return mcp.NewToolResultText(buf.String()), nil
			}
			result.Rows = outcome.Rows
			result.RowCount = len(outcome.Rows)
		}
	} else {
		screened, err := s.pipeline.Screen(driver, sqlText, rowLimit)
		if err != nil {
			ev.End(err)
			return toolError(err, sqlDetails(sqlText)), nil
		}
		result.SQL = screened
	}

	ev.End(nil)
	return jsonResult(result)
}
