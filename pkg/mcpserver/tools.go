// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/audit"
	"github.com/clinmetrics/omop-mcp/pkg/auth"
	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/export"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("discover_concepts",
		mcp.WithDescription("Search the OMOP standardized vocabularies for concepts matching a clinical term."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Clinical term to search for, e.g. \"type 2 diabetes\" or \"metformin\"")),
		mcp.WithString("domain", mcp.Description("Restrict to one OMOP domain: Condition, Drug, Procedure, Measurement, Observation")),
		mcp.WithString("vocabulary", mcp.Description("Restrict to one vocabulary, e.g. SNOMED, RxNorm, LOINC")),
		mcp.WithBoolean("standard_only", mcp.Description("Return only standard concepts"), mcp.DefaultBool(true)),
		mcp.WithNumber("limit", mcp.Description("Maximum matches to return, at most 100"), mcp.DefaultNumber(20)),
		mcp.WithString("format", mcp.Description("Response encoding: json (default), csv, or jsonl")),
	), s.handleDiscoverConcepts)

	s.mcp.AddTool(mcp.NewTool("get_concept_relationships",
		mcp.WithDescription("List the vocabulary relationships of one concept, e.g. its \"Maps to\" standard concept."),
		mcp.WithNumber("concept_id", mcp.Required(), mcp.Description("OMOP concept id")),
		mcp.WithString("relationship_id", mcp.Description("Restrict to one relationship kind, e.g. \"Maps to\"")),
	), s.handleGetConceptRelationships)

	s.mcp.AddTool(mcp.NewTool("get_information_schema",
		mcp.WithDescription("List the warehouse's OMOP tables and columns, flagging which are part of the standard CDM."),
		mcp.WithString("table_name", mcp.Description("Restrict to one table")),
		mcp.WithString("backend", mcp.Description("Backend to inspect; defaults to the configured backend")),
	), s.handleGetInformationSchema)

	s.registerSQLTools()
}

func (s *Server) handleDiscoverConcepts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("discover_concepts")
	ev.Subject = auth.SubjectFromContext(ctx)

	query, err := req.RequireString("query")
	if err != nil {
		err = fmt.Errorf("%w: %v", omop.ErrInvalidRequest, err)
		ev.End(err)
		return toolError(err, nil), nil
	}
	domain, err := optionalDomainArg(req, "domain")
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	vocab := req.GetString("vocabulary", "")
	standardOnly := req.GetBool("standard_only", true)
	limit := req.GetInt("limit", 20)
	if limit < 1 || limit > 100 {
		err = fmt.Errorf("%w: limit must be within [1, 100], got %d", omop.ErrInvalidRequest, limit)
		ev.End(err)
		return toolError(err, nil), nil
	}
	format, err := formatArg(req)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}

	page, err := s.vocab.Search(ctx, query, string(domain), vocab, standardOnly, limit, 0)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}

	if format != export.FormatJSON {
		var buf bytes.Buffer
		if err := export.Concepts(&buf, format, false, page.Concepts); err != nil {
			ev.End(err)
			return toolError(err, nil), nil
		}
		ev.End(nil)
		return mcp.NewToolResultText(buf.String()), nil
	}

	metadata := map[string]string{
		"domain":        string(domain),
		"vocabulary":    vocab,
		"standard_only": strconv.FormatBool(standardOnly),
		"limit":         strconv.Itoa(limit),
		"total_count":   strconv.FormatInt(page.TotalCount, 10),
	}
	ev.End(nil)
	return jsonResult(omop.NewConceptDiscoveryResult(query, page.Concepts, metadata))
}

func (s *Server) handleGetConceptRelationships(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("get_concept_relationships")
	ev.Subject = auth.SubjectFromContext(ctx)

	conceptID, err := req.RequireInt("concept_id")
	if err != nil {
		err = fmt.Errorf("%w: %v", omop.ErrInvalidRequest, err)
		ev.End(err)
		return toolError(err, nil), nil
	}
	relationship := req.GetString("relationship_id", "")

	rels, err := s.vocab.GetRelationships(ctx, int64(conceptID), relationship)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}

	ev.End(nil)
	return jsonResult(map[string]any{
		"concept_id":    conceptID,
		"relationships": rels,
		"count":         len(rels),
	})
}

// schemaColumn is one column with its CDM standardness flags.
type schemaColumn struct {
	Name     string `json:"name"`
	Standard bool   `json:"standard"`
	Date     bool   `json:"date,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// schemaTable is one live table with per-column flags.
type schemaTable struct {
	Name     string         `json:"name"`
	Standard bool           `json:"standard"`
	Columns  []schemaColumn `json:"columns"`
}

func (s *Server) handleGetInformationSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev := audit.Begin("get_information_schema")
	ev.Subject = auth.SubjectFromContext(ctx)

	driver, err := s.backends.Get(ctx, req.GetString("backend", ""))
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}
	ev.Backend = driver.Name()

	schema, err := driver.ListTables(ctx)
	if err != nil {
		ev.End(err)
		return toolError(err, nil), nil
	}

	tableName := req.GetString("table_name", "")
	if tableName != "" {
		ts, ok := schema[tableName]
		if !ok {
			err = fmt.Errorf("%w: table %s not present in live schema", omop.ErrNotFound, tableName)
			ev.End(err)
			return toolError(err, nil), nil
		}
		schema = map[string]backend.TableSchema{tableName: ts}
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]schemaTable, 0, len(names))
	for _, name := range names {
		ts := schema[name]
		dateCols := map[string]bool{}
		for _, c := range ts.DateColumns {
			dateCols[c] = true
		}
		cols := make([]schemaColumn, 0, len(ts.Columns))
		for _, c := range ts.Columns {
			cols = append(cols, schemaColumn{
				Name:     c,
				Standard: omop.IsStandardColumn(name, c),
				Date:     dateCols[c],
				Blocked:  s.cfg.ColumnBlocked(c),
			})
		}
		tables = append(tables, schemaTable{
			Name:     name,
			Standard: omop.IsStandardTable(name),
			Columns:  cols,
		})
	}

	ev.End(nil)
	return jsonResult(map[string]any{
		"backend": driver.Name(),
		"dialect": driver.Dialect(),
		"tables":  tables,
		"count":   len(tables),
	})
}
