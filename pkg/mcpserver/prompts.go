// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("cohort/sql",
		mcp.WithPromptDescription("Guide the generation of OMOP cohort SQL in a target dialect, with the safety rules spelled out."),
		mcp.WithArgument("exposure", mcp.ArgumentDescription("The exposure, e.g. \"metformin\""), mcp.RequiredArgument()),
		mcp.WithArgument("outcome", mcp.ArgumentDescription("The outcome, e.g. \"acute kidney injury\""), mcp.RequiredArgument()),
		mcp.WithArgument("time_window", mcp.ArgumentDescription("Maximum days between exposure and outcome"), mcp.RequiredArgument()),
		mcp.WithArgument("dialect", mcp.ArgumentDescription("Target SQL dialect: bigquery, snowflake, duckdb, or postgres"), mcp.RequiredArgument()),
	), s.handleCohortSQLPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("analysis/discovery",
		mcp.WithPromptDescription("A stepwise procedure for turning a clinical question into OMOP concept sets."),
		mcp.WithArgument("question", mcp.ArgumentDescription("The clinical question to analyze"), mcp.RequiredArgument()),
		mcp.WithArgument("domains", mcp.ArgumentDescription("Comma-separated OMOP domains to consider")),
	), s.handleDiscoveryPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("query/multi-step",
		mcp.WithPromptDescription("The dry-run, cost-check, execute protocol for querying OMOP data."),
		mcp.WithArgument("concept_ids", mcp.ArgumentDescription("Concept ids to query, comma-separated"), mcp.RequiredArgument()),
		mcp.WithArgument("domain", mcp.ArgumentDescription("OMOP domain of the concepts"), mcp.RequiredArgument()),
	), s.handleMultiStepPrompt)
}

// requirePromptArgs checks that every named argument is present and
// non-empty.
func requirePromptArgs(req mcp.GetPromptRequest, names ...string) error {
	for _, name := range names {
		if strings.TrimSpace(req.Params.Arguments[name]) == "" {
			return fmt.Errorf("%w: missing required prompt argument %q", omop.ErrInvalidRequest, name)
		}
	}
	return nil
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return mcp.NewGetPromptResult(description, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	})
}

func (s *Server) handleCohortSQLPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if err := requirePromptArgs(req, "exposure", "outcome", "time_window", "dialect"); err != nil {
		return nil, err
	}
	args := req.Params.Arguments

	text := fmt.Sprintf(`Generate OMOP CDM cohort SQL in the %s dialect for this question:
patients exposed to %s who developed %s within %s days of exposure.

Follow this procedure:
1. Use discover_concepts to resolve "%s" (Drug domain) and "%s" (Condition domain) to standard concept ids. Prefer standard concepts; follow "Maps to" relationships for non-standard matches.
2. Use generate_cohort_sql with the resolved exposure_ids and outcome_ids and pre_outcome_days=%s. The generated SQL uses three CTEs (exposure, outcome, cohort) and keeps only the first qualifying exposure per person.
3. Inspect the validation result before considering execution. Cohort SQL is never executed by this server; hand it to your warehouse tooling.

Safety rules that apply to all SQL here:
- Read-only: SELECT or WITH...SELECT only, a single statement.
- Columns ending in _source_value are blocked unless PHI mode is enabled.
- Every executed query carries a row limit and a cost cap.`,
		args["dialect"], args["exposure"], args["outcome"], args["time_window"],
		args["exposure"], args["outcome"], args["time_window"])

	return userPrompt("OMOP cohort SQL generation", text), nil
}

func (s *Server) handleDiscoveryPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if err := requirePromptArgs(req, "question"); err != nil {
		return nil, err
	}
	args := req.Params.Arguments

	domains := args["domains"]
	if domains == "" {
		domains = "Condition, Drug, Procedure, Measurement, Observation"
	}

	text := fmt.Sprintf(`Break this clinical question into OMOP concept sets: %s

Work stepwise:
1. Identify the clinical entities in the question and assign each to one of these domains: %s.
2. For each entity, call discover_concepts with standard_only=true and the entity's domain. Start with the most specific clinical term; broaden only if nothing matches.
3. For matches that are non-standard, call get_concept_relationships with relationship_id="Maps to" and substitute the standard target.
4. Collect the concept_ids per entity into named sets and report them with concept names and vocabularies, so the mapping can be reviewed before any query runs.

Do not query patient data during discovery; that is a separate step with its own cost and safety checks.`,
		args["question"], domains)

	return userPrompt("OMOP concept discovery procedure", text), nil
}

func (s *Server) handleMultiStepPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if err := requirePromptArgs(req, "concept_ids", "domain"); err != nil {
		return nil, err
	}
	args := req.Params.Arguments

	text := fmt.Sprintf(`Query OMOP data for concept ids [%s] in the %s domain using the three-step protocol:

1. Dry-run: call query_omop with query_type="count", execute=false. This validates the SQL against the warehouse and returns estimated_cost_usd without touching patient data.
2. Cost check: compare estimated_cost_usd with the configured cap. If the estimate is above the cap the server will refuse execution; narrow the concept set or the query type instead of retrying as-is.
3. Execute: repeat the call with execute=true only after the estimate is acceptable. Use breakdown for demographics; list_patients is gated and usually disabled.

Report the SQL alongside any numbers so results can be audited.`,
		args["concept_ids"], args["domain"])

	return userPrompt("Stepwise OMOP query protocol", text), nil
}
